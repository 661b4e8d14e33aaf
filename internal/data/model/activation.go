package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Activation 激活单表
type Activation struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)"`
	UserID         string          `gorm:"uniqueIndex:uk_user_token,priority:1;index;type:varchar(64);not null"`
	OrderToken     string          `gorm:"uniqueIndex:uk_user_token,priority:2;type:varchar(64);not null"`
	ExternalID     string          `gorm:"uniqueIndex;type:varchar(64);not null"`
	Service        string          `gorm:"type:varchar(32);not null"`
	Country        string          `gorm:"type:varchar(16);not null"`
	Operator       string          `gorm:"type:varchar(32)"`
	PhoneNumber    string          `gorm:"type:varchar(32)"`
	Cost           decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Status         int32           `gorm:"index;not null;default:0"`
	Code           string          `gorm:"type:varchar(64)"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ExpiresAt      time.Time       `gorm:"index;not null"`
	LastCheckAt    *time.Time
	CheckCount     int32     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Activation) TableName() string {
	return "activations"
}
