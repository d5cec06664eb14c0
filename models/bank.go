package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/utils"
	"gorm.io/gorm"
)

// Bank owns the statements ingested for its accounts.
type Bank struct {
	ID         int             `gorm:"primary_key" json:"id"`
	Name       string          `gorm:"size:255;not null;uniqueIndex" json:"name" binding:"required"`
	Statements []BankStatement `gorm:"foreignKey:BankId" json:"statements,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetBankById(ctx context.Context, id int) (*Bank, error) {
	db := config.GetDB()
	var bank Bank
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&bank).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &bank, nil
}

func ListBanks(ctx context.Context) ([]*Bank, error) {
	db := config.GetDB()
	banks := make([]*Bank, 0)
	if err := db.WithContext(ctx).Model(&Bank{}).Order("name ASC").Find(&banks).Error; err != nil {
		return nil, err
	}
	return banks, nil
}
