package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// ArbitratorNote is evidence added by the assigned arbitrator.
type ArbitratorNote struct {
	ArbitratorID string    `json:"arbitratorId"`
	Notes        string    `json:"notes"`
	AddedAt      time.Time `json:"addedAt"`
}

// FraudEvidence is the structured evidence attached to a case.
type FraudEvidence struct {
	UserReport         string           `json:"userReport,omitempty"`
	Screenshots        []string         `json:"screenshots,omitempty"`
	AdditionalInfo     string           `json:"additionalInfo,omitempty"`
	ReportTimestamp    time.Time        `json:"reportTimestamp"`
	ArbitratorEvidence []ArbitratorNote `json:"arbitratorEvidence,omitempty"`
}

// FraudCase is a reported fraud incident moving through investigation and arbitration.
type FraudCase struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TransactionID       uuid.UUID               `gorm:"column:transaction_id;type:uuid;not null;index" json:"transactionId"`
	ReporterID          string                  `gorm:"column:reporter_id;type:text;not null;index" json:"reporterId"`
	CaseType            enums.FraudCaseType     `gorm:"column:case_type;type:text;not null" json:"caseType"`
	Priority            enums.FraudCasePriority `gorm:"column:priority;type:text;not null" json:"priority"`
	Status              enums.FraudCaseStatus   `gorm:"column:status;type:text;not null;index" json:"status"`
	Amount              decimal.Decimal         `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Currency            enums.Currency          `gorm:"column:currency;type:text;not null" json:"currency"`
	Description         string                  `gorm:"column:description;type:text;not null" json:"description"`
	Evidence            FraudEvidence           `gorm:"column:evidence;type:jsonb;serializer:json" json:"evidence"`
	ArbitratorID        *string                 `gorm:"column:arbitrator_id;type:text;index" json:"arbitratorId,omitempty"`
	Resolution          *enums.FraudResolution  `gorm:"column:resolution;type:text" json:"resolution,omitempty"`
	ResolutionReasoning *string                 `gorm:"column:resolution_reasoning;type:text" json:"resolutionReasoning,omitempty"`
	ResolvedBy          *string                 `gorm:"column:resolved_by;type:text" json:"resolvedBy,omitempty"`
	Escalated           bool                    `gorm:"column:escalated;not null;default:false" json:"escalated"`
	EscalatedAt         *time.Time              `gorm:"column:escalated_at" json:"escalatedAt,omitempty"`
	CreatedAt           time.Time               `gorm:"column:created_at;not null;index" json:"createdAt"`
	AssignedAt          *time.Time              `gorm:"column:assigned_at" json:"assignedAt,omitempty"`
	ResolvedAt          *time.Time              `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (FraudCase) TableName() string { return "fraud_cases" }

func (c *FraudCase) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsAssigned reports whether an arbitrator owns the case.
func (c *FraudCase) IsAssigned() bool {
	return c.ArbitratorID != nil && *c.ArbitratorID != ""
}
