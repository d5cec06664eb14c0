package ingest

import (
	"context"
	"sync"
	"testing"

	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func januaryStatement() *CanonicalStatement {
	return &CanonicalStatement{
		BankName:        "HSBC",
		AccountNumber:   "12345678",
		AccountCurrency: "GBP",
		PeriodStart:     "2024-01-01",
		PeriodEnd:       "2024-01-31",
		StartingBalance: "1000.00",
		EndingBalance:   "1460.00",
		Transactions: []CanonicalTransaction{
			{Date: "2024-01-02", CreditAmount: "500.00", DebitAmount: "0", Description: "SALARY", ChunkSequence: 1, RowOrder: 0},
			{Date: "2024-01-03", CreditAmount: "0", DebitAmount: "40.00", Description: "GROCERIES", ChunkSequence: 1, RowOrder: 1},
		},
	}
}

func testPersistInput() PersistInput {
	return PersistInput{SubmittedByUserId: 7, FileName: "jan.pdf"}
}

func TestPersistCreatesNewStatement(t *testing.T) {
	store := newMemoryStore()
	p := NewPersister(store, quietLogger())

	result, err := p.Persist(context.Background(), januaryStatement(), testPersistInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != models.PersistActionCreateNew {
		t.Errorf("action %s, want CREATE_NEW", result.Action)
	}
	if result.TransactionCount != 2 {
		t.Errorf("transaction count %d", result.TransactionCount)
	}

	stored, err := store.GetStatement(context.Background(), result.BankStatementId)
	if err != nil {
		t.Fatalf("statement not stored: %v", err)
	}
	if stored.SubmittedByUserId != 7 || stored.FileName != "jan.pdf" {
		t.Errorf("submission context not stored: %+v", stored)
	}
	if !stored.StartingBalance.Equal(decimalFromString(t, "1000.00")) {
		t.Errorf("starting balance %s", stored.StartingBalance)
	}
	if stored.PeriodStart == nil || stored.PeriodEnd == nil {
		t.Errorf("period dates not parsed")
	}
}

func TestPersistResubmissionIsDuplicate(t *testing.T) {
	store := newMemoryStore()
	p := NewPersister(store, quietLogger())

	first, err := p.Persist(context.Background(), januaryStatement(), testPersistInput())
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}
	second, err := p.Persist(context.Background(), januaryStatement(), testPersistInput())
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}

	if second.Action != models.PersistActionSkipDuplicate {
		t.Errorf("action %s, want SKIP_DUPLICATE", second.Action)
	}
	if second.BankStatementId != first.BankStatementId {
		t.Errorf("duplicate should reference the stored statement")
	}
	if len(store.statements) != 1 {
		t.Errorf("duplicate created a second statement")
	}
	if n, _ := store.CountTransactions(context.Background(), first.BankStatementId); n != 2 {
		t.Errorf("duplicate changed stored transactions: %d", n)
	}
}

func TestPersistOverlappingPeriodAppendsOnlyNewTransactions(t *testing.T) {
	store := newMemoryStore()
	p := NewPersister(store, quietLogger())

	first, err := p.Persist(context.Background(), januaryStatement(), testPersistInput())
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}

	// Same period, different ending balance, one extra transaction. This is
	// the re-extraction of a longer version of the same document.
	extended := januaryStatement()
	extended.EndingBalance = "1480.00"
	extended.Transactions = append(extended.Transactions, CanonicalTransaction{
		Date: "2024-01-20", CreditAmount: "20.00", DebitAmount: "0", Description: "INTEREST", ChunkSequence: 2, RowOrder: 0,
	})

	result, err := p.Persist(context.Background(), extended, testPersistInput())
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if result.Action != models.PersistActionAddToExistingBank {
		t.Errorf("action %s, want ADD_TO_EXISTING_BANK", result.Action)
	}
	if result.BankStatementId != first.BankStatementId {
		t.Errorf("should append to the stored statement")
	}
	if result.TransactionCount != 3 {
		t.Errorf("transaction count %d, want 3 (duplicates filtered)", result.TransactionCount)
	}
}

func TestPersistNonOverlappingPeriodMerges(t *testing.T) {
	store := newMemoryStore()
	p := NewPersister(store, quietLogger())

	first, err := p.Persist(context.Background(), januaryStatement(), testPersistInput())
	if err != nil {
		t.Fatalf("january persist: %v", err)
	}

	february := januaryStatement()
	february.PeriodStart = "2024-02-01"
	february.PeriodEnd = "2024-02-29"
	february.StartingBalance = "1460.00"
	february.EndingBalance = "1700.00"
	february.Transactions = []CanonicalTransaction{
		{Date: "2024-02-05", CreditAmount: "240.00", DebitAmount: "0", Description: "REBATE", ChunkSequence: 1, RowOrder: 0},
	}

	result, err := p.Persist(context.Background(), february, testPersistInput())
	if err != nil {
		t.Fatalf("february persist: %v", err)
	}
	if result.Action != models.PersistActionMergeDifferentPeriod {
		t.Errorf("action %s, want MERGE_DIFFERENT_PERIOD", result.Action)
	}
	if result.BankStatementId != first.BankStatementId {
		t.Errorf("merge should target the stored statement")
	}

	stored, _ := store.GetStatement(context.Background(), first.BankStatementId)
	if stored.PeriodEnd == nil || stored.PeriodEnd.Month() != 2 {
		t.Errorf("period end not widened: %v", stored.PeriodEnd)
	}
	if !stored.EndingBalance.Equal(decimalFromString(t, "1700.00")) {
		t.Errorf("ending balance not widened: %s", stored.EndingBalance)
	}
	if !stored.StartingBalance.Equal(decimalFromString(t, "1000.00")) {
		t.Errorf("earlier starting balance must be kept: %s", stored.StartingBalance)
	}
}

func TestPersistMergeDoesNotReinsertStoredTransactions(t *testing.T) {
	store := newMemoryStore()
	p := NewPersister(store, quietLogger())

	first, err := p.Persist(context.Background(), januaryStatement(), testPersistInput())
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}

	// Same transactions resubmitted with unreadable period strings and a
	// drifted ending balance. The period comparison cannot match, so this
	// takes the merge path rather than the duplicate check.
	resubmitted := januaryStatement()
	resubmitted.PeriodStart = "Jan-ish"
	resubmitted.PeriodEnd = "end of Jan"
	resubmitted.EndingBalance = "1470.00"

	result, err := p.Persist(context.Background(), resubmitted, testPersistInput())
	if err != nil {
		t.Fatalf("resubmit persist: %v", err)
	}
	if result.Action != models.PersistActionMergeDifferentPeriod {
		t.Errorf("action %s, want MERGE_DIFFERENT_PERIOD", result.Action)
	}
	if n, _ := store.CountTransactions(context.Background(), first.BankStatementId); n != 2 {
		t.Errorf("stored %d transactions, want 2: merge re-inserted existing rows", n)
	}
	if result.TransactionCount != 2 {
		t.Errorf("result transaction count %d, want 2", result.TransactionCount)
	}
}

// staleBankLookupStore misses the bank lookup a fixed number of times. It
// stands in for an ingestion of a different account at the same new bank
// whose rival, holding a different account lock, wins the unique-name insert
// between this worker's lookup and its create.
type staleBankLookupStore struct {
	*memoryStore
	misses int
}

func (s *staleBankLookupStore) FindBankByName(ctx context.Context, name string) (*models.Bank, error) {
	if s.misses > 0 {
		s.misses--
		return nil, nil
	}
	return s.memoryStore.FindBankByName(ctx, name)
}

func (s *staleBankLookupStore) WithAccountLock(ctx context.Context, bankName, accountNumber string, fn func(ctx context.Context, store StatementStore) error) error {
	return s.memoryStore.WithAccountLock(ctx, bankName, accountNumber, func(ctx context.Context, _ StatementStore) error {
		return fn(ctx, s)
	})
}

func TestPersistReusesBankWhenConcurrentCreateWins(t *testing.T) {
	mem := newMemoryStore()
	rival := &models.Bank{Name: "HSBC"}
	if err := mem.CreateBank(context.Background(), rival); err != nil {
		t.Fatalf("seed rival bank: %v", err)
	}

	store := &staleBankLookupStore{memoryStore: mem, misses: 1}
	p := NewPersister(store, quietLogger())

	result, err := p.Persist(context.Background(), januaryStatement(), testPersistInput())
	if err != nil {
		t.Fatalf("losing the bank insert must not fail the statement: %v", err)
	}
	if result.Action != models.PersistActionCreateNew {
		t.Errorf("action %s, want CREATE_NEW", result.Action)
	}

	stored, _ := mem.GetStatement(context.Background(), result.BankStatementId)
	if stored.BankId != rival.ID {
		t.Errorf("statement attached to bank %d, want the existing bank %d", stored.BankId, rival.ID)
	}
	if len(mem.banks) != 1 {
		t.Errorf("%d banks stored, want 1", len(mem.banks))
	}
}

func TestPersistUnknownAmountsStoredAsZeroAndNilBalance(t *testing.T) {
	store := newMemoryStore()
	p := NewPersister(store, quietLogger())

	stmt := januaryStatement()
	stmt.Transactions = []CanonicalTransaction{
		{Date: "2024-01-02", CreditAmount: UnknownAmount, DebitAmount: UnknownAmount, Balance: UnknownAmount, Description: "SMUDGED ROW"},
	}

	result, err := p.Persist(context.Background(), stmt, testPersistInput())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	stored, _ := store.GetStatement(context.Background(), result.BankStatementId)
	tx := stored.Transactions[0]
	if !tx.CreditAmount.IsZero() || !tx.DebitAmount.IsZero() {
		t.Errorf("unknown amounts should store as zero: %s / %s", tx.CreditAmount, tx.DebitAmount)
	}
	if tx.Balance != nil {
		t.Errorf("unknown balance should store as nil, got %s", tx.Balance)
	}
}

func TestPersistConcurrentSubmissionsCreateOnce(t *testing.T) {
	store := newMemoryStore()
	p := NewPersister(store, quietLogger())

	const workers = 8
	results := make([]*ProcessingResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Persist(context.Background(), januaryStatement(), testPersistInput())
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].Action == models.PersistActionCreateNew {
			created++
		}
	}
	if created != 1 {
		t.Errorf("%d workers created a statement, want exactly 1", created)
	}
	if len(store.statements) != 1 {
		t.Errorf("store holds %d statements, want 1", len(store.statements))
	}
}
