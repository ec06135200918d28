package fraudcases

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/types"
)

const (
	maxAdditionalInfo = 1000
	maxReasoning      = 2000
	maxScreenshots    = 20

	// Overdue marks an arbitrator case past its escalation deadline.
	Overdue = "OVERDUE"
)

// Evidence is what a reporter or arbitrator submits with a report or afterwards.
type Evidence struct {
	UserReport     string   `json:"userReport,omitempty"`
	Screenshots    []string `json:"screenshots,omitempty"`
	AdditionalInfo string   `json:"additionalInfo,omitempty"`
}

func (e Evidence) validate() error {
	if len([]rune(e.AdditionalInfo)) > maxAdditionalInfo {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("additional info must be at most %d characters", maxAdditionalInfo))
	}
	if len(e.Screenshots) > maxScreenshots {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d screenshots per submission", maxScreenshots))
	}
	return nil
}

// Report is a user's fraud report against a completed transaction.
type Report struct {
	TransactionID uuid.UUID
	ReporterID    string
	Type          enums.FraudCaseType
	Description   string
	Evidence      Evidence
}

// SubmitResult is returned to the reporter.
type SubmitResult struct {
	Case                *models.FraudCase `json:"case"`
	EstimatedResolution string            `json:"estimatedResolution"`
}

// DecisionRequest is an arbitrator's ruling on an assigned case.
type DecisionRequest struct {
	CaseID       uuid.UUID
	ArbitratorID string
	Decision     enums.FraudResolution
	Reasoning    string
}

// DecisionResult carries the resolved case and, for confirmed fraud, the reversal.
type DecisionResult struct {
	Case     *models.FraudCase       `json:"case"`
	Reversal *types.ReversalResponse `json:"reversal,omitempty"`
}

// CaseView is an arbitrator's queue entry.
type CaseView struct {
	models.FraudCase
	TimeRemaining string `json:"timeRemaining"`
}

// Statistics summarizes the active caseload.
type Statistics struct {
	TotalActive        int64                             `json:"totalActive"`
	Assigned           int64                             `json:"assigned"`
	Unassigned         int64                             `json:"unassigned"`
	Overdue            int64                             `json:"overdue"`
	ByPriority         map[enums.FraudCasePriority]int64 `json:"byPriority"`
	ArbitratorWorkload map[string]int64                  `json:"arbitratorWorkload"`
}

// Thresholds tune prioritization and deadlines.
type Thresholds struct {
	MinDescription  int
	MaxDescription  int
	CriticalAmount  decimal.Decimal
	HighAmount      decimal.Decimal
	EscalationAfter time.Duration
	AutomatedMinAge time.Duration
	ReportsPerHour  int
	AutomatedLimit  int
}

// DefaultThresholds match the production policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDescription:  10,
		MaxDescription:  2000,
		CriticalAmount:  decimal.NewFromInt(10000),
		HighAmount:      decimal.NewFromInt(1000),
		EscalationAfter: 72 * time.Hour,
		AutomatedMinAge: time.Hour,
		ReportsPerHour:  10,
		AutomatedLimit:  100,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MinDescription <= 0 {
		t.MinDescription = d.MinDescription
	}
	if t.MaxDescription <= 0 {
		t.MaxDescription = d.MaxDescription
	}
	if !t.CriticalAmount.IsPositive() {
		t.CriticalAmount = d.CriticalAmount
	}
	if !t.HighAmount.IsPositive() {
		t.HighAmount = d.HighAmount
	}
	if t.EscalationAfter <= 0 {
		t.EscalationAfter = d.EscalationAfter
	}
	if t.AutomatedMinAge <= 0 {
		t.AutomatedMinAge = d.AutomatedMinAge
	}
	if t.AutomatedLimit <= 0 {
		t.AutomatedLimit = d.AutomatedLimit
	}
	return t
}

func (t Thresholds) validateReport(r *Report) error {
	r.ReporterID = strings.TrimSpace(r.ReporterID)
	r.Description = strings.TrimSpace(r.Description)
	if r.TransactionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if r.ReporterID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reporter id required")
	}
	if !r.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid fraud type").
			WithDetails(map[string]any{"type": r.Type})
	}
	n := len([]rune(r.Description))
	if n < t.MinDescription || n > t.MaxDescription {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("description must be between %d and %d characters", t.MinDescription, t.MaxDescription))
	}
	return r.Evidence.validate()
}

// Priority ranks a report by amount and type.
func (t Thresholds) Priority(amount decimal.Decimal, caseType enums.FraudCaseType) enums.FraudCasePriority {
	switch {
	case amount.GreaterThan(t.CriticalAmount):
		return enums.FraudCasePriorityCritical
	case amount.GreaterThan(t.HighAmount) || caseType.IsHighSeverity():
		return enums.FraudCasePriorityHigh
	default:
		return enums.FraudCasePriorityMedium
	}
}

// EstimatedResolution is the window quoted to the reporter.
func EstimatedResolution(priority enums.FraudCasePriority, caseType enums.FraudCaseType) string {
	switch {
	case priority == enums.FraudCasePriorityCritical:
		return "24 hours"
	case caseType.IsHighSeverity():
		return "48 hours"
	default:
		return "72 hours"
	}
}

// TimeRemaining formats the time left before escalation, or Overdue.
func TimeRemaining(createdAt, now time.Time, escalationAfter time.Duration) string {
	left := createdAt.Add(escalationAfter).Sub(now)
	if left <= 0 {
		return Overdue
	}
	hours := int(left.Hours())
	minutes := int(left.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
