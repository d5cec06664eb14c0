package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/shopspring/decimal"
)

// memoryStore is an in-memory StatementStore. WithAccountLock serializes on a
// single mutex, which is stricter than per-account but preserves the atomic
// read-modify-write contract the persister depends on.
type memoryStore struct {
	mu sync.Mutex

	banks      []*models.Bank
	statements []*models.BankStatement

	nextBankId      int
	nextStatementId int
	nextTxId        int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextBankId: 1, nextStatementId: 1, nextTxId: 1}
}

func (s *memoryStore) FindBankByName(_ context.Context, name string) (*models.Bank, error) {
	for _, b := range s.banks {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) CreateBank(_ context.Context, bank *models.Bank) error {
	// Bank.Name carries a unique index in the real schema.
	for _, b := range s.banks {
		if b.Name == bank.Name {
			return fmt.Errorf("duplicate bank name %q", bank.Name)
		}
	}
	bank.ID = s.nextBankId
	s.nextBankId++
	s.banks = append(s.banks, bank)
	return nil
}

func (s *memoryStore) FindStatementsByBankAndAccount(_ context.Context, bankId int, accountNumber string) ([]*models.BankStatement, error) {
	out := make([]*models.BankStatement, 0)
	for _, st := range s.statements {
		if st.BankId == bankId && st.AccountNumber == accountNumber {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memoryStore) GetStatement(_ context.Context, statementId int) (*models.BankStatement, error) {
	for _, st := range s.statements {
		if st.ID == statementId {
			return st, nil
		}
	}
	return nil, models.ErrStatementNotFound
}

func (s *memoryStore) CreateStatement(_ context.Context, stmt *models.BankStatement) error {
	stmt.ID = s.nextStatementId
	s.nextStatementId++
	for i := range stmt.Transactions {
		stmt.Transactions[i].ID = s.nextTxId
		s.nextTxId++
		stmt.Transactions[i].BankStatementId = stmt.ID
	}
	s.statements = append(s.statements, stmt)
	return nil
}

func (s *memoryStore) AppendTransactions(_ context.Context, statementId int, txs []models.StatementTransaction) error {
	for _, st := range s.statements {
		if st.ID != statementId {
			continue
		}
		for i := range txs {
			txs[i].ID = s.nextTxId
			s.nextTxId++
			txs[i].BankStatementId = statementId
			st.Transactions = append(st.Transactions, txs[i])
		}
		return nil
	}
	return models.ErrStatementNotFound
}

func (s *memoryStore) UpdateStatementBounds(_ context.Context, statementId int, start, end *time.Time, startingBalance, endingBalance *decimal.Decimal) error {
	st, err := s.GetStatement(context.Background(), statementId)
	if err != nil {
		return err
	}
	if start != nil {
		st.PeriodStart = start
	}
	if end != nil {
		st.PeriodEnd = end
	}
	if startingBalance != nil {
		st.StartingBalance = *startingBalance
	}
	if endingBalance != nil {
		st.EndingBalance = *endingBalance
	}
	return nil
}

func (s *memoryStore) UpdateValidation(_ context.Context, statementId int, validated bool, status models.ValidationStatus, notes string, validatedAt *time.Time) error {
	st, err := s.GetStatement(context.Background(), statementId)
	if err != nil {
		return err
	}
	st.Validated = validated
	st.ValidationStatus = status
	st.ValidationNotes = notes
	st.ValidatedAt = validatedAt
	return nil
}

func (s *memoryStore) CountTransactions(_ context.Context, statementId int) (int64, error) {
	st, err := s.GetStatement(context.Background(), statementId)
	if err != nil {
		return 0, err
	}
	return int64(len(st.Transactions)), nil
}

func (s *memoryStore) WithAccountLock(ctx context.Context, _, _ string, fn func(ctx context.Context, store StatementStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, s)
}
