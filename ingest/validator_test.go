package ingest

import (
	"context"
	"testing"

	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/shopspring/decimal"
)

func storeWithStatement(t *testing.T, startingBalance, endingBalance string, credits, debits []string) (*memoryStore, int) {
	t.Helper()
	store := newMemoryStore()

	stmt := &models.BankStatement{
		BankId:          1,
		AccountNumber:   "12345678",
		StartingBalance: decimalFromString(t, startingBalance),
		EndingBalance:   decimalFromString(t, endingBalance),
	}
	for _, c := range credits {
		stmt.Transactions = append(stmt.Transactions, models.StatementTransaction{CreditAmount: decimalFromString(t, c)})
	}
	for _, d := range debits {
		stmt.Transactions = append(stmt.Transactions, models.StatementTransaction{DebitAmount: decimalFromString(t, d)})
	}
	if err := store.CreateStatement(context.Background(), stmt); err != nil {
		t.Fatalf("seed statement: %v", err)
	}
	return store, stmt.ID
}

func TestValidatePassesWhenBalancesReconcile(t *testing.T) {
	store, id := storeWithStatement(t, "1000.00", "1400.00", []string{"500.00", "200.00"}, []string{"300.00"})
	v := NewValidator(store, quietLogger())

	result, err := v.Validate(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.ValidationStatusPassed {
		t.Errorf("status %s, want passed: %s", result.Status, result.Notes)
	}
	if !result.CalculatedEnd.Equal(decimalFromString(t, "1400.00")) {
		t.Errorf("calculated end %s", result.CalculatedEnd)
	}

	stored, _ := store.GetStatement(context.Background(), id)
	if !stored.Validated || stored.ValidationStatus != models.ValidationStatusPassed {
		t.Errorf("pass not persisted: validated=%v status=%s", stored.Validated, stored.ValidationStatus)
	}
	if stored.ValidatedAt == nil {
		t.Errorf("validated_at not set")
	}
}

func TestValidateWithinTolerancePasses(t *testing.T) {
	// A penny of rounding drift is acceptable.
	store, id := storeWithStatement(t, "100.00", "150.01", []string{"50.00"}, nil)
	v := NewValidator(store, quietLogger())

	result, err := v.Validate(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.ValidationStatusPassed {
		t.Errorf("status %s, want passed within tolerance", result.Status)
	}
}

func TestValidateFailsOnDiscrepancy(t *testing.T) {
	store, id := storeWithStatement(t, "1000.00", "1500.00", []string{"500.00", "200.00"}, []string{"300.00"})
	v := NewValidator(store, quietLogger())

	result, err := v.Validate(context.Background(), id)
	if err != nil {
		t.Fatalf("a failed check is a business outcome, not an error: %v", err)
	}
	if result.Status != models.ValidationStatusFailed {
		t.Errorf("status %s, want failed", result.Status)
	}
	if !result.Discrepancy.Equal(decimalFromString(t, "100.00")) {
		t.Errorf("discrepancy %s, want 100.00", result.Discrepancy)
	}

	stored, _ := store.GetStatement(context.Background(), id)
	if stored.Validated {
		t.Errorf("failed statement must not be marked validated")
	}
	if stored.ValidationStatus != models.ValidationStatusFailed || stored.ValidationNotes == "" {
		t.Errorf("failure not persisted: status=%s notes=%q", stored.ValidationStatus, stored.ValidationNotes)
	}
	if stored.ValidatedAt != nil {
		t.Errorf("validated_at set on a failed check: %v", stored.ValidatedAt)
	}
}

func TestValidateMissingStatement(t *testing.T) {
	v := NewValidator(newMemoryStore(), quietLogger())

	if _, err := v.Validate(context.Background(), 404); err == nil {
		t.Fatal("expected an error for a missing statement")
	}
}

func TestValidateZeroTransactions(t *testing.T) {
	store, id := storeWithStatement(t, "500.00", "500.00", nil, nil)
	v := NewValidator(store, quietLogger())

	result, err := v.Validate(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.ValidationStatusPassed {
		t.Errorf("empty statement with equal balances should pass, got %s", result.Status)
	}
	if !result.Discrepancy.Equal(decimal.Zero) {
		t.Errorf("discrepancy %s", result.Discrepancy)
	}
}
