package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/cedarledger/statements_backend/models"
	"bitbucket.org/cedarledger/statements_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Persister stores merged statements. Every decision for one account runs
// under the account lock so concurrent submissions of the same document
// converge on a single stored statement.
type Persister struct {
	Store  StatementStore
	Logger *logrus.Logger
}

func NewPersister(store StatementStore, logger *logrus.Logger) *Persister {
	return &Persister{Store: store, Logger: logger}
}

// PersistInput carries the submission context shared by every statement in
// one document.
type PersistInput struct {
	SubmittedByUserId int
	FileName          string
	FileUrl           string
	RawText           string
}

// Persist stores one canonical statement and reports which action was taken.
// Duplicate, append and merge decisions key on the existing statements of the
// same bank and account number.
func (p *Persister) Persist(ctx context.Context, stmt *CanonicalStatement, input PersistInput) (*ProcessingResult, error) {
	result := &ProcessingResult{
		BankName:      stmt.BankName,
		AccountNumber: stmt.AccountNumber,
	}

	err := p.Store.WithAccountLock(ctx, stmt.BankName, stmt.AccountNumber, func(ctx context.Context, store StatementStore) error {
		bank, err := store.FindBankByName(ctx, stmt.BankName)
		if err != nil {
			return err
		}
		if bank == nil {
			bank = &models.Bank{Name: stmt.BankName}
			if err := store.CreateBank(ctx, bank); err != nil {
				// A concurrent ingestion for another account of the same new
				// bank holds a different account lock and may have won the
				// unique-name insert. Use its row.
				winner, findErr := store.FindBankByName(ctx, stmt.BankName)
				if findErr != nil || winner == nil {
					return err
				}
				bank = winner
			}
		}

		existing, err := store.FindStatementsByBankAndAccount(ctx, bank.ID, stmt.AccountNumber)
		if err != nil {
			return err
		}

		incoming := p.toModel(stmt, bank.ID, input)

		for _, old := range existing {
			switch {
			case isSamePeriod(old, incoming) && sameBalances(old, incoming):
				result.Action = models.PersistActionSkipDuplicate
				result.BankStatementId = old.ID
				result.TransactionCount = len(old.Transactions)
				result.Message = fmt.Sprintf("statement for account %s already stored as id %d", stmt.AccountNumber, old.ID)
				return nil
			case periodsOverlap(old, incoming):
				return p.appendToExisting(ctx, store, old, incoming, result)
			}
		}

		if len(existing) > 0 {
			return p.mergeDifferentPeriod(ctx, store, existing[0], incoming, result)
		}

		if err := store.CreateStatement(ctx, incoming); err != nil {
			return err
		}
		result.Action = models.PersistActionCreateNew
		result.BankStatementId = incoming.ID
		result.TransactionCount = len(incoming.Transactions)
		result.Message = fmt.Sprintf("created statement id %d for account %s", incoming.ID, stmt.AccountNumber)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// appendToExisting adds the transactions the existing statement does not
// already have and widens its period and balance bounds.
func (p *Persister) appendToExisting(ctx context.Context, store StatementStore, old, incoming *models.BankStatement, result *ProcessingResult) error {
	fresh := filterNewTransactions(old, incoming)

	if err := store.AppendTransactions(ctx, old.ID, fresh); err != nil {
		return err
	}
	if err := p.widenBounds(ctx, store, old, incoming); err != nil {
		return err
	}

	total, err := store.CountTransactions(ctx, old.ID)
	if err != nil {
		return err
	}

	result.Action = models.PersistActionAddToExistingBank
	result.BankStatementId = old.ID
	result.TransactionCount = int(total)
	result.Message = fmt.Sprintf("added %d transactions to statement id %d", len(fresh), old.ID)
	return nil
}

// mergeDifferentPeriod folds a non-overlapping period into the earliest
// stored statement for the account, keeping one statement row per account.
// Transactions already stored are not re-inserted; a resubmission with
// unreadable period strings lands here instead of the duplicate check.
func (p *Persister) mergeDifferentPeriod(ctx context.Context, store StatementStore, old, incoming *models.BankStatement, result *ProcessingResult) error {
	fresh := filterNewTransactions(old, incoming)

	if err := store.AppendTransactions(ctx, old.ID, fresh); err != nil {
		return err
	}
	if err := p.widenBounds(ctx, store, old, incoming); err != nil {
		return err
	}

	total, err := store.CountTransactions(ctx, old.ID)
	if err != nil {
		return err
	}

	result.Action = models.PersistActionMergeDifferentPeriod
	result.BankStatementId = old.ID
	result.TransactionCount = int(total)
	result.Message = fmt.Sprintf("merged new period into statement id %d", old.ID)
	return nil
}

func (p *Persister) widenBounds(ctx context.Context, store StatementStore, old, incoming *models.BankStatement) error {
	var start, end *time.Time
	var startingBalance, endingBalance *decimal.Decimal

	if incoming.PeriodStart != nil && (old.PeriodStart == nil || incoming.PeriodStart.Before(*old.PeriodStart)) {
		start = incoming.PeriodStart
		if !incoming.StartingBalance.IsZero() || old.StartingBalance.IsZero() {
			startingBalance = &incoming.StartingBalance
		}
	}
	if incoming.PeriodEnd != nil && (old.PeriodEnd == nil || incoming.PeriodEnd.After(*old.PeriodEnd)) {
		end = incoming.PeriodEnd
		if !incoming.EndingBalance.IsZero() || old.EndingBalance.IsZero() {
			endingBalance = &incoming.EndingBalance
		}
	}
	return store.UpdateStatementBounds(ctx, old.ID, start, end, startingBalance, endingBalance)
}

// toModel converts a canonical statement into its storage form. Amounts the
// model could not read are stored as zero credits/debits and nil balances.
func (p *Persister) toModel(stmt *CanonicalStatement, bankId int, input PersistInput) *models.BankStatement {
	out := &models.BankStatement{
		BankId:            bankId,
		AccountNumber:     stmt.AccountNumber,
		AccountType:       stmt.AccountType,
		AccountCurrency:   stmt.AccountCurrency,
		StartingBalance:   amountOrZero(stmt.StartingBalance),
		EndingBalance:     amountOrZero(stmt.EndingBalance),
		FileName:          input.FileName,
		FileUrl:           input.FileUrl,
		RawText:           input.RawText,
		SubmittedByUserId: input.SubmittedByUserId,
		ValidationStatus:  models.ValidationStatusPending,
	}

	if t, ok := parseFlexibleDate(stmt.PeriodStart); ok {
		out.PeriodStart = &t
	}
	if t, ok := parseFlexibleDate(stmt.PeriodEnd); ok {
		out.PeriodEnd = &t
	}

	out.Transactions = make([]models.StatementTransaction, 0, len(stmt.Transactions))
	for _, tx := range stmt.Transactions {
		row := models.StatementTransaction{
			Description:   tx.Description,
			CreditAmount:  amountOrZero(tx.CreditAmount),
			DebitAmount:   amountOrZero(tx.DebitAmount),
			PageNumber:    tx.PageNumber,
			EntityName:    tx.EntityName,
			ChunkSequence: tx.ChunkSequence,
			RowOrder:      tx.RowOrder,
		}
		if t, ok := parseFlexibleDate(tx.Date); ok {
			row.TransactionDate = &t
		}
		if bal, ok := parseAmount(tx.Balance); ok {
			row.Balance = &bal
		}
		out.Transactions = append(out.Transactions, row)
	}
	return out
}

// filterNewTransactions returns the incoming transactions whose fingerprint
// is not already stored on the existing statement.
func filterNewTransactions(old, incoming *models.BankStatement) []models.StatementTransaction {
	seen := make(map[string]bool, len(old.Transactions))
	for i := range old.Transactions {
		seen[transactionFingerprint(&old.Transactions[i])] = true
	}

	fresh := make([]models.StatementTransaction, 0, len(incoming.Transactions))
	for i := range incoming.Transactions {
		fp := transactionFingerprint(&incoming.Transactions[i])
		if seen[fp] {
			continue
		}
		seen[fp] = true
		fresh = append(fresh, incoming.Transactions[i])
	}
	return fresh
}

// transactionFingerprint identifies a transaction across submissions of the
// same document. Page and chunk positions are excluded: re-extractions may
// chunk differently.
func transactionFingerprint(tx *models.StatementTransaction) string {
	date := ""
	if tx.TransactionDate != nil {
		date = tx.TransactionDate.Format("2006-01-02")
	}
	return strings.Join([]string{
		date,
		tx.CreditAmount.String(),
		tx.DebitAmount.String(),
		strings.TrimSpace(strings.ToLower(tx.Description)),
	}, "|")
}

func isSamePeriod(a, b *models.BankStatement) bool {
	return sameDay(a.PeriodStart, b.PeriodStart) && sameDay(a.PeriodEnd, b.PeriodEnd)
}

func sameBalances(a, b *models.BankStatement) bool {
	return a.StartingBalance.Equal(b.StartingBalance) && a.EndingBalance.Equal(b.EndingBalance)
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func periodsOverlap(a, b *models.BankStatement) bool {
	if a.PeriodStart == nil || a.PeriodEnd == nil || b.PeriodStart == nil || b.PeriodEnd == nil {
		return false
	}
	return !a.PeriodEnd.Before(*b.PeriodStart) && !b.PeriodEnd.Before(*a.PeriodStart)
}

// parseAmount returns the decimal value of an extracted amount, rejecting
// empty strings and the unknown sentinel.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, UnknownAmount) {
		return decimal.Decimal{}, false
	}
	d, err := utils.ConvertToDecimal(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func amountOrZero(s string) decimal.Decimal {
	if d, ok := parseAmount(s); ok {
		return d
	}
	return decimal.Zero
}
