package classify

import (
	"context"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/shopspring/decimal"
)

// GormTransactionStore is the MySQL-backed TransactionStore.
type GormTransactionStore struct{}

func (GormTransactionStore) LoadUnclassified(ctx context.Context, statementId int) (int, []models.StatementTransaction, error) {
	db := config.GetDB()

	var total int64
	err := db.WithContext(ctx).Model(&models.StatementTransaction{}).
		Where("bank_statement_id = ?", statementId).Count(&total).Error
	if err != nil {
		return 0, nil, err
	}

	pending := make([]models.StatementTransaction, 0)
	err = db.WithContext(ctx).
		Where("bank_statement_id = ? AND category = ''", statementId).
		Order("chunk_sequence ASC, row_order ASC, id ASC").
		Find(&pending).Error
	if err != nil {
		return 0, nil, err
	}
	return int(total), pending, nil
}

func (GormTransactionStore) SaveClassification(ctx context.Context, transactionId int, category string, confidence decimal.Decimal, at time.Time) error {
	return config.GetDB().WithContext(ctx).Model(&models.StatementTransaction{}).
		Where("id = ?", transactionId).
		Updates(map[string]interface{}{
			"category":                  category,
			"classification_confidence": confidence,
			"classified_at":             at,
		}).Error
}
