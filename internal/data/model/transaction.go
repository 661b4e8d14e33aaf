package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction 账本流水表（只增不改）
type Transaction struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)"`
	UserID        string          `gorm:"index:idx_user_created,priority:1;type:varchar(64);not null"`
	Type          string          `gorm:"type:varchar(16);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ReferenceID   string          `gorm:"index:idx_reference_type,priority:1;type:varchar(64)"`
	Description   string          `gorm:"type:varchar(255)"`
	CreatedAt     time.Time       `gorm:"index:idx_user_created,priority:2;autoCreateTime"`
}

// TableName 指定表名
func (Transaction) TableName() string {
	return "transactions"
}
