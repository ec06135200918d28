package enums

import "fmt"

// FraudCaseStatus is the arbitration lifecycle of a fraud case.
type FraudCaseStatus string

const (
	FraudCaseStatusOpen          FraudCaseStatus = "open"
	FraudCaseStatusInvestigating FraudCaseStatus = "investigating"
	FraudCaseStatusResolved      FraudCaseStatus = "resolved"
	FraudCaseStatusClosed        FraudCaseStatus = "closed"
)

var validFraudCaseStatuses = []FraudCaseStatus{
	FraudCaseStatusOpen,
	FraudCaseStatusInvestigating,
	FraudCaseStatusResolved,
	FraudCaseStatusClosed,
}

var fraudCaseTransitions = map[FraudCaseStatus][]FraudCaseStatus{
	FraudCaseStatusOpen:          {FraudCaseStatusInvestigating, FraudCaseStatusClosed},
	FraudCaseStatusInvestigating: {FraudCaseStatusResolved, FraudCaseStatusClosed},
	FraudCaseStatusResolved:      {FraudCaseStatusClosed},
}

// ActiveFraudCaseStatuses block a second case on the same transaction.
var ActiveFraudCaseStatuses = []FraudCaseStatus{FraudCaseStatusOpen, FraudCaseStatusInvestigating}

func (s FraudCaseStatus) String() string {
	return string(s)
}

func (s FraudCaseStatus) IsValid() bool {
	for _, candidate := range validFraudCaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (s FraudCaseStatus) IsActive() bool {
	for _, candidate := range ActiveFraudCaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s FraudCaseStatus) CanTransitionTo(next FraudCaseStatus) bool {
	for _, candidate := range fraudCaseTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func ParseFraudCaseStatus(value string) (FraudCaseStatus, error) {
	for _, candidate := range validFraudCaseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fraud case status %q", value)
}

// FraudCaseType classifies the reported incident.
type FraudCaseType string

const (
	FraudCaseTypeUnauthorizedTransaction FraudCaseType = "unauthorized_transaction"
	FraudCaseTypeAccountTakeover         FraudCaseType = "account_takeover"
	FraudCaseTypePhishing                FraudCaseType = "phishing"
	FraudCaseTypeSocialEngineering       FraudCaseType = "social_engineering"
	FraudCaseTypeTechnicalFraud          FraudCaseType = "technical_fraud"
)

var validFraudCaseTypes = []FraudCaseType{
	FraudCaseTypeUnauthorizedTransaction,
	FraudCaseTypeAccountTakeover,
	FraudCaseTypePhishing,
	FraudCaseTypeSocialEngineering,
	FraudCaseTypeTechnicalFraud,
}

func (t FraudCaseType) String() string {
	return string(t)
}

func (t FraudCaseType) IsValid() bool {
	for _, candidate := range validFraudCaseTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsHighSeverity marks types that are prioritized regardless of amount.
func (t FraudCaseType) IsHighSeverity() bool {
	return t == FraudCaseTypeAccountTakeover || t == FraudCaseTypeTechnicalFraud
}

func ParseFraudCaseType(value string) (FraudCaseType, error) {
	for _, candidate := range validFraudCaseTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fraud case type %q", value)
}

// FraudCasePriority orders the arbitration queue.
type FraudCasePriority string

const (
	FraudCasePriorityLow      FraudCasePriority = "low"
	FraudCasePriorityMedium   FraudCasePriority = "medium"
	FraudCasePriorityHigh     FraudCasePriority = "high"
	FraudCasePriorityCritical FraudCasePriority = "critical"
)

var validFraudCasePriorities = []FraudCasePriority{
	FraudCasePriorityLow,
	FraudCasePriorityMedium,
	FraudCasePriorityHigh,
	FraudCasePriorityCritical,
}

func (p FraudCasePriority) String() string {
	return string(p)
}

func (p FraudCasePriority) IsValid() bool {
	for _, candidate := range validFraudCasePriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// FraudCasePriorities lists priorities from lowest to highest.
func FraudCasePriorities() []FraudCasePriority {
	out := make([]FraudCasePriority, len(validFraudCasePriorities))
	copy(out, validFraudCasePriorities)
	return out
}

// FraudResolution is the outcome recorded when a case resolves.
type FraudResolution string

const (
	FraudResolutionConfirmed            FraudResolution = "fraud_confirmed"
	FraudResolutionDenied               FraudResolution = "fraud_denied"
	FraudResolutionInsufficientEvidence FraudResolution = "insufficient_evidence"
)

var validFraudResolutions = []FraudResolution{
	FraudResolutionConfirmed,
	FraudResolutionDenied,
	FraudResolutionInsufficientEvidence,
}

func (r FraudResolution) String() string {
	return string(r)
}

func (r FraudResolution) IsValid() bool {
	for _, candidate := range validFraudResolutions {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseFraudResolution(value string) (FraudResolution, error) {
	for _, candidate := range validFraudResolutions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fraud resolution %q", value)
}
