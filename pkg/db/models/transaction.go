package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// Transaction is a settled (or failed/reversed) transfer between two wallets.
type Transaction struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	FromWallet string                  `gorm:"column:from_wallet;type:text;not null;index" json:"fromWallet"`
	ToWallet   string                  `gorm:"column:to_wallet;type:text;not null;index" json:"toWallet"`
	Amount     decimal.Decimal         `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Currency   enums.Currency          `gorm:"column:currency;type:text;not null" json:"currency"`
	Status     enums.TransactionStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	FraudScore *float64                `gorm:"column:fraud_score" json:"fraudScore,omitempty"`
	Metadata   map[string]any          `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata,omitempty"`
	CreatedAt  time.Time               `gorm:"column:created_at;not null" json:"createdAt"`
	SettledAt  *time.Time              `gorm:"column:settled_at" json:"settledAt,omitempty"`
	UpdatedAt  time.Time               `gorm:"column:updated_at;not null" json:"updatedAt"`

	AuditTrail []TransactionAudit `gorm:"-" json:"auditTrail,omitempty"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TransactionAudit is one insert-only entry of a transaction's audit chain.
type TransactionAudit struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TransactionID uuid.UUID         `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex:ux_transaction_audit_sequence,priority:1" json:"transactionId"`
	Sequence      int               `gorm:"column:sequence;not null;uniqueIndex:ux_transaction_audit_sequence,priority:2" json:"sequence"`
	Action        enums.AuditAction `gorm:"column:action;type:text;not null" json:"action"`
	PreviousState map[string]any    `gorm:"column:previous_state;type:jsonb;serializer:json" json:"previousState,omitempty"`
	NewState      map[string]any    `gorm:"column:new_state;type:jsonb;serializer:json" json:"newState,omitempty"`
	Timestamp     time.Time         `gorm:"column:timestamp;not null" json:"timestamp"`
	UserID        *string           `gorm:"column:user_id;type:text" json:"userId,omitempty"`
	ServiceID     string            `gorm:"column:service_id;type:text;not null" json:"serviceId"`
	Details       map[string]any    `gorm:"column:details;type:jsonb;serializer:json" json:"details,omitempty"`
	Signature     string            `gorm:"column:signature;type:text;not null" json:"signature"`
}

func (TransactionAudit) TableName() string { return "transaction_audit" }

func (a *TransactionAudit) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
