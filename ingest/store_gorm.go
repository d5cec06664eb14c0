package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/models"
	"bitbucket.org/cedarledger/statements_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormStatementStore is the MySQL-backed StatementStore. The zero value
// resolves the shared connection per call; WithAccountLock hands fn a
// transaction-scoped copy.
type GormStatementStore struct {
	db *gorm.DB
}

func NewGormStatementStore() *GormStatementStore {
	return &GormStatementStore{}
}

func (s *GormStatementStore) conn() *gorm.DB {
	if s.db != nil {
		return s.db
	}
	return config.GetDB()
}

func (s *GormStatementStore) FindBankByName(ctx context.Context, name string) (*models.Bank, error) {
	var bank models.Bank
	err := s.conn().WithContext(ctx).Where("name = ?", name).Take(&bank).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bank, nil
}

func (s *GormStatementStore) CreateBank(ctx context.Context, bank *models.Bank) error {
	return s.conn().WithContext(ctx).Create(bank).Error
}

func (s *GormStatementStore) FindStatementsByBankAndAccount(ctx context.Context, bankId int, accountNumber string) ([]*models.BankStatement, error) {
	statements := make([]*models.BankStatement, 0)
	err := s.conn().WithContext(ctx).
		Preload("Transactions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("chunk_sequence ASC, row_order ASC, id ASC")
		}).
		Where("bank_id = ? AND account_number = ?", bankId, accountNumber).
		Order("period_start ASC, id ASC").
		Find(&statements).Error
	if err != nil {
		return nil, err
	}
	return statements, nil
}

func (s *GormStatementStore) GetStatement(ctx context.Context, statementId int) (*models.BankStatement, error) {
	var stmt models.BankStatement
	err := s.conn().WithContext(ctx).
		Preload("Transactions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("chunk_sequence ASC, row_order ASC, id ASC")
		}).
		Where("id = ?", statementId).Take(&stmt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrStatementNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stmt, nil
}

func (s *GormStatementStore) CreateStatement(ctx context.Context, stmt *models.BankStatement) error {
	return s.conn().WithContext(ctx).Create(stmt).Error
}

func (s *GormStatementStore) AppendTransactions(ctx context.Context, statementId int, txs []models.StatementTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	for i := range txs {
		txs[i].BankStatementId = statementId
	}
	return s.conn().WithContext(ctx).Create(&txs).Error
}

func (s *GormStatementStore) UpdateStatementBounds(ctx context.Context, statementId int, start, end *time.Time, startingBalance, endingBalance *decimal.Decimal) error {
	updates := map[string]interface{}{}
	if start != nil {
		updates["period_start"] = *start
	}
	if end != nil {
		updates["period_end"] = *end
	}
	if startingBalance != nil {
		updates["starting_balance"] = *startingBalance
	}
	if endingBalance != nil {
		updates["ending_balance"] = *endingBalance
	}
	if len(updates) == 0 {
		return nil
	}
	return s.conn().WithContext(ctx).Model(&models.BankStatement{}).
		Where("id = ?", statementId).Updates(updates).Error
}

func (s *GormStatementStore) UpdateValidation(ctx context.Context, statementId int, validated bool, status models.ValidationStatus, notes string, validatedAt *time.Time) error {
	return s.conn().WithContext(ctx).Model(&models.BankStatement{}).
		Where("id = ?", statementId).
		Updates(map[string]interface{}{
			"validated":         validated,
			"validation_status": status,
			"validation_notes":  notes,
			"validated_at":      validatedAt,
		}).Error
}

func (s *GormStatementStore) CountTransactions(ctx context.Context, statementId int) (int64, error) {
	var count int64
	err := s.conn().WithContext(ctx).Model(&models.StatementTransaction{}).
		Where("bank_statement_id = ?", statementId).Count(&count).Error
	return count, err
}

// WithAccountLock serializes persistence per (bank, account). The redis lock
// is a best-effort cross-instance fast path; the MySQL advisory lock inside
// the transaction is authoritative, so reliability does not depend on redis.
func (s *GormStatementStore) WithAccountLock(ctx context.Context, bankName, accountNumber string, fn func(ctx context.Context, store StatementStore) error) error {
	lockKey := fmt.Sprintf("stmtlock:%s:%s", models.NormalizeBankAlias(bankName), accountNumber)

	if lock, err := utils.ObtainAccountLock(ctx, lockKey, 60*time.Second); err == nil && lock != nil {
		defer func() { _ = lock.Release(ctx) }()
	} else if err != nil {
		config.LogError(config.GetLogger(), "store_gorm.go", "WithAccountLock", "redis lock", lockKey, err)
	}

	return s.conn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		name := advisoryLockName(lockKey)
		if err := acquireAccountPostingLock(tx, name); err != nil {
			return err
		}
		defer releaseAccountPostingLock(tx, name)
		return fn(ctx, &GormStatementStore{db: tx})
	})
}

// advisoryLockName hashes the lock key: GET_LOCK names are capped at 64
// characters and account numbers can be long.
func advisoryLockName(key string) string {
	sum := sha1.Sum([]byte(key))
	return "stmt:" + hex.EncodeToString(sum[:])
}

// acquireAccountPostingLock serializes posting per account across instances
// using MySQL advisory locks. GET_LOCK is connection-scoped, so this must be
// called on the same transaction that does the posting.
func acquireAccountPostingLock(tx *gorm.DB, lockName string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock %q", lockName)
	}
	return nil
}

func releaseAccountPostingLock(tx *gorm.DB, lockName string) {
	var ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&ok).Error
}

// KnownBankResolver adapts the models alias table to the merger's interface.
type KnownBankResolver struct{}

func (KnownBankResolver) ResolveDisplayName(ctx context.Context, rawName string) (string, bool) {
	return models.ResolveBankDisplayName(ctx, rawName)
}

// KnownBankNames feeds the extraction prompt. A lookup failure degrades to an
// empty list; the prompt just omits the reference names.
func (KnownBankResolver) KnownBankNames(ctx context.Context) []string {
	names, err := models.ListKnownBankNames(ctx)
	if err != nil {
		config.LogError(config.GetLogger(), "store_gorm.go", "KnownBankNames", "list known banks", nil, err)
		return nil
	}
	return names
}
