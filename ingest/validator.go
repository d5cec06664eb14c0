package ingest

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// balanceTolerance absorbs rounding differences between extracted balances
// and the transaction sum.
var balanceTolerance = decimal.NewFromFloat(0.01)

// Validator runs the automatic balance check after persistence. A failed
// check is a normal business outcome, not an error: the statement stays
// stored and flagged for review.
type Validator struct {
	Store  StatementStore
	Logger *logrus.Logger
}

func NewValidator(store StatementStore, logger *logrus.Logger) *Validator {
	return &Validator{Store: store, Logger: logger}
}

// ValidationResult is the outcome of one balance check.
type ValidationResult struct {
	BankStatementId int                     `json:"bank_statement_id"`
	Status          models.ValidationStatus `json:"status"`
	StartingBalance decimal.Decimal         `json:"starting_balance"`
	EndingBalance   decimal.Decimal         `json:"ending_balance"`
	CalculatedEnd   decimal.Decimal         `json:"calculated_end"`
	Discrepancy     decimal.Decimal         `json:"discrepancy"`
	Notes           string                  `json:"notes"`
}

// Validate checks starting balance plus credits minus debits against the
// stated ending balance and persists the outcome.
func (v *Validator) Validate(ctx context.Context, statementId int) (*ValidationResult, error) {
	stmt, err := v.Store.GetStatement(ctx, statementId)
	if err != nil {
		return nil, err
	}

	calculated := stmt.StartingBalance
	for i := range stmt.Transactions {
		calculated = calculated.Add(stmt.Transactions[i].CreditAmount).Sub(stmt.Transactions[i].DebitAmount)
	}

	discrepancy := stmt.EndingBalance.Sub(calculated)
	result := &ValidationResult{
		BankStatementId: stmt.ID,
		StartingBalance: stmt.StartingBalance,
		EndingBalance:   stmt.EndingBalance,
		CalculatedEnd:   calculated,
		Discrepancy:     discrepancy,
	}

	now := time.Now().UTC()
	if discrepancy.Abs().LessThanOrEqual(balanceTolerance) {
		result.Status = models.ValidationStatusPassed
		result.Notes = fmt.Sprintf("balances reconcile: %s + credits - debits = %s", stmt.StartingBalance.StringFixed(2), calculated.StringFixed(2))
		if err := v.Store.UpdateValidation(ctx, stmt.ID, true, result.Status, result.Notes, &now); err != nil {
			return nil, err
		}
		return result, nil
	}

	result.Status = models.ValidationStatusFailed
	result.Notes = fmt.Sprintf("ending balance %s does not match calculated %s (discrepancy %s)",
		stmt.EndingBalance.StringFixed(2), calculated.StringFixed(2), discrepancy.StringFixed(2))

	if v.Logger != nil {
		v.Logger.WithFields(logrus.Fields{
			"bank_statement_id": stmt.ID,
			"discrepancy":       discrepancy.StringFixed(2),
		}).Warn("statement failed balance validation")
	}

	// validatedAt marks a successful reconciliation only.
	if err := v.Store.UpdateValidation(ctx, stmt.ID, false, result.Status, result.Notes, nil); err != nil {
		return nil, err
	}
	return result, nil
}
