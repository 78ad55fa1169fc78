// Package domain contains the prepaid credit ledger models. Credits are
// denominated in seconds of live translation.
package domain

import (
	"time"
)

// CreditBalance is the running balance per user. Signed; overage settlement
// may drive it below zero.
type CreditBalance struct {
	UserID         string    `gorm:"primaryKey;type:text"`
	BalanceSeconds int64     `gorm:"not null;default:0"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CreditBalance) TableName() string { return "credit_balances" }

// CreditPurchase is one audit row per store transaction. The primary key is
// the upstream transaction id, which makes re-deliveries natural no-ops.
type CreditPurchase struct {
	ID            string    `gorm:"primaryKey;type:text"`
	UserID        string    `gorm:"type:text;not null;index"`
	ProductID     string    `gorm:"type:text;not null"`
	AmountSeconds int64     `gorm:"not null"`
	Source        string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CreditPurchase) TableName() string { return "credit_purchases" }
