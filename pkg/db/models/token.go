package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// TokenMetadata carries issuance provenance.
type TokenMetadata struct {
	Issuer           string   `json:"issuer"`
	Series           string   `json:"series"`
	SecurityFeatures []string `json:"securityFeatures,omitempty"`
	// ReissuedFrom lists tainted tokens this token replaces after a reversal.
	ReissuedFrom []string `json:"reissuedFrom,omitempty"`
	ReversalID   string   `json:"reversalId,omitempty"`
}

type ComplianceFlags struct {
	KYCVerified        bool `json:"kycVerified"`
	AMLCleared         bool `json:"amlCleared"`
	RegulatoryApproved bool `json:"regulatoryApproved"`
}

// Token is a CBDC value token with an append-only transaction history. DisputeCaseID names the
// fraud case holding a disputed token and is empty in every other status.
type Token struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CBDCType           enums.Currency    `gorm:"column:cbdc_type;type:text;not null" json:"cbdcType"`
	Denomination       decimal.Decimal   `gorm:"column:denomination;type:numeric(20,2);not null" json:"denomination"`
	CurrentOwner       string            `gorm:"column:current_owner;type:text;not null;index" json:"currentOwner"`
	Status             enums.TokenStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	BatchID            *uuid.UUID        `gorm:"column:batch_id;type:uuid;index" json:"batchId,omitempty"`
	DisputeCaseID      *uuid.UUID        `gorm:"column:dispute_case_id;type:uuid;index" json:"disputeCaseId,omitempty"`
	IssuedAt           time.Time         `gorm:"column:issued_at;not null" json:"issuedAt"`
	TransactionHistory []string          `gorm:"column:transaction_history;type:jsonb;serializer:json" json:"transactionHistory"`
	Metadata           TokenMetadata     `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata"`
	ComplianceFlags    ComplianceFlags   `gorm:"column:compliance_flags;type:jsonb;serializer:json" json:"complianceFlags"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (Token) TableName() string { return "tokens" }

func (t *Token) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TokenAuditEntry is one insert-only entry of a token's audit chain.
type TokenAuditEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TokenID   uuid.UUID         `gorm:"column:token_id;type:uuid;not null;uniqueIndex:ux_token_audit_sequence,priority:1" json:"tokenId"`
	Sequence  int               `gorm:"column:sequence;not null;uniqueIndex:ux_token_audit_sequence,priority:2" json:"sequence"`
	Operation enums.AuditAction `gorm:"column:operation;type:text;not null" json:"operation"`
	OldStatus *string           `gorm:"column:old_status;type:text" json:"oldStatus,omitempty"`
	NewStatus *string           `gorm:"column:new_status;type:text" json:"newStatus,omitempty"`
	OldOwner  *string           `gorm:"column:old_owner;type:text" json:"oldOwner,omitempty"`
	NewOwner  *string           `gorm:"column:new_owner;type:text" json:"newOwner,omitempty"`
	Timestamp time.Time         `gorm:"column:timestamp;not null" json:"timestamp"`
	UserID    *string           `gorm:"column:user_id;type:text" json:"userId,omitempty"`
	ServiceID string            `gorm:"column:service_id;type:text;not null" json:"serviceId"`
	Metadata  map[string]any    `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata,omitempty"`
	Signature string            `gorm:"column:signature;type:text;not null" json:"signature"`
}

func (TokenAuditEntry) TableName() string { return "token_audit_trail" }

func (a *TokenAuditEntry) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
