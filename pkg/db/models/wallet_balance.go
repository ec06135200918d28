package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// WalletBalance is the non-negative balance of one wallet in one currency.
type WalletBalance struct {
	WalletID  string          `gorm:"column:wallet_id;type:text;primaryKey" json:"walletId"`
	Currency  enums.Currency  `gorm:"column:currency;type:text;primaryKey" json:"currency"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null" json:"balance"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (WalletBalance) TableName() string { return "wallet_balances" }
