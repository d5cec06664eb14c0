package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BankStatement is one stored per-account statement. It is created and
// appended to only by the ingestion persister; deletion cascades to its
// transactions.
type BankStatement struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BankId        int    `gorm:"index;not null" json:"bank_id"`
	Bank          *Bank  `json:"bank,omitempty"`
	AccountNumber string `gorm:"size:64;index;not null" json:"account_number"`

	AccountType     string `gorm:"size:64" json:"account_type"`
	AccountCurrency string `gorm:"size:8" json:"account_currency"`

	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`

	StartingBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"starting_balance"`
	EndingBalance   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"ending_balance"`

	FileName string `gorm:"size:512" json:"file_name"`
	FileUrl  string `gorm:"size:1024" json:"file_url"`
	RawText  string `gorm:"type:longtext" json:"-"`

	SubmittedByUserId int `gorm:"index" json:"submitted_by_user_id"`
	CustomerId        int `gorm:"index;default:0" json:"customer_id"`
	SupplierId        int `gorm:"index;default:0" json:"supplier_id"`

	Locked           bool             `gorm:"default:false" json:"locked"`
	Validated        bool             `gorm:"default:false" json:"validated"`
	ValidationStatus ValidationStatus `gorm:"size:16;default:'pending'" json:"validation_status"`
	ValidationNotes  string           `gorm:"type:text" json:"validation_notes"`
	ValidatedAt      *time.Time       `json:"validated_at"`

	Transactions []StatementTransaction `gorm:"foreignKey:BankStatementId;constraint:OnDelete:CASCADE" json:"transactions,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StatementTransaction is one extracted line of a stored statement.
// ChunkSequence + RowOrder preserve the ingestion order across chunk
// boundaries; reads must sort by (chunk_sequence, row_order).
type StatementTransaction struct {
	ID              int `gorm:"primary_key" json:"id"`
	BankStatementId int `gorm:"index;not null" json:"bank_statement_id"`

	TransactionDate *time.Time       `gorm:"index" json:"transaction_date"`
	Description     string           `gorm:"type:text" json:"description"`
	CreditAmount    decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"credit_amount"`
	DebitAmount     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"debit_amount"`
	Balance         *decimal.Decimal `gorm:"type:decimal(20,4)" json:"balance"`

	PageNumber    int    `gorm:"default:0" json:"page_number"`
	EntityName    string `gorm:"size:255" json:"entity_name"`
	ChunkSequence int    `gorm:"index;default:0" json:"chunk_sequence"`
	RowOrder      int    `gorm:"default:0" json:"row_order"`

	Category                 string           `gorm:"size:64" json:"category"`
	ClassificationConfidence *decimal.Decimal `gorm:"type:decimal(5,4)" json:"classification_confidence"`
	ClassifiedAt             *time.Time       `json:"classified_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetBankStatement(ctx context.Context, id int) (*BankStatement, error) {
	db := config.GetDB()
	var stmt BankStatement
	err := db.WithContext(ctx).
		Preload("Bank").
		Preload("Transactions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("chunk_sequence ASC, row_order ASC, id ASC")
		}).
		Where("id = ?", id).Take(&stmt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, err
	}
	return &stmt, nil
}

var ErrStatementNotFound = errors.New("bank statement not found")

type ListBankStatementsInput struct {
	BankId        int
	AccountNumber string
	Limit         int
	Offset        int
}

func ListBankStatements(ctx context.Context, input ListBankStatementsInput) ([]*BankStatement, int64, error) {
	db := config.GetDB()

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := db.WithContext(ctx).Model(&BankStatement{})
	if input.BankId > 0 {
		q = q.Where("bank_id = ?", input.BankId)
	}
	if input.AccountNumber != "" {
		q = q.Where("account_number = ?", input.AccountNumber)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	statements := make([]*BankStatement, 0)
	err := q.Preload("Bank").
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(input.Offset).
		Find(&statements).Error
	if err != nil {
		return nil, 0, err
	}
	return statements, total, nil
}

// Delete removes a statement together with its transactions. The ingestion
// pipeline never calls this; it exists for explicit back-office removal.
func (bs BankStatement) Delete(tx *gorm.DB, ctx context.Context) error {
	if err := tx.WithContext(ctx).
		Where("bank_statement_id = ?", bs.ID).
		Delete(&StatementTransaction{}).Error; err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Delete(&bs).Error; err != nil {
		return err
	}
	return nil
}
