package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User 账户表，余额只能通过账本流水变更
type User struct {
	ID             string          `gorm:"primaryKey;type:varchar(64)"`
	Balance        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalSpent     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalRecharged decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Status         string          `gorm:"type:varchar(16);not null;default:'active'"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
