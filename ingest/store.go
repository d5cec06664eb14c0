package ingest

import (
	"context"
	"time"

	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/shopspring/decimal"
)

// StatementStore is the record store the pipeline persists through. The
// pipeline never touches the database directly, so tests run against an
// in-memory fake.
type StatementStore interface {
	FindBankByName(ctx context.Context, name string) (*models.Bank, error)
	CreateBank(ctx context.Context, bank *models.Bank) error

	// FindStatementsByBankAndAccount returns stored statements with their
	// transactions loaded in ingestion order.
	FindStatementsByBankAndAccount(ctx context.Context, bankId int, accountNumber string) ([]*models.BankStatement, error)
	GetStatement(ctx context.Context, statementId int) (*models.BankStatement, error)

	CreateStatement(ctx context.Context, stmt *models.BankStatement) error
	AppendTransactions(ctx context.Context, statementId int, txs []models.StatementTransaction) error
	UpdateStatementBounds(ctx context.Context, statementId int, start, end *time.Time, startingBalance, endingBalance *decimal.Decimal) error
	UpdateValidation(ctx context.Context, statementId int, validated bool, status models.ValidationStatus, notes string, validatedAt *time.Time) error
	CountTransactions(ctx context.Context, statementId int) (int64, error)

	// WithAccountLock runs fn as a single atomic read-modify-write for one
	// (bank, account) unit. Two concurrent ingestions of the same statement
	// must never both observe "no existing statement".
	WithAccountLock(ctx context.Context, bankName, accountNumber string, fn func(ctx context.Context, s StatementStore) error) error
}
