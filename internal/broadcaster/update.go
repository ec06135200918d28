package broadcaster

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names the kind of change carried by a StatusUpdate.
type EventType string

const (
	EventTransactionCreated   EventType = "transaction_created"
	EventTransactionCompleted EventType = "transaction_completed"
	EventTransactionFailed    EventType = "transaction_failed"
	EventTransactionReversed  EventType = "transaction_reversed"
	EventFraudScoreUpdated    EventType = "fraud_score_updated"
	EventBalanceUpdated       EventType = "balance_updated"
	EventCaseUpdated          EventType = "case_updated"
)

// StatusUpdate is one message fanned out to subscribers.
type StatusUpdate struct {
	EventType     EventType        `json:"event_type"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Status        string           `json:"status,omitempty"`
	FromWallet    string           `json:"from_wallet,omitempty"`
	ToWallet      string           `json:"to_wallet,omitempty"`
	WalletID      string           `json:"wallet_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	FraudScore    *float64         `json:"fraud_score,omitempty"`
	RiskLevel     string           `json:"risk_level,omitempty"`
	CaseID        string           `json:"case_id,omitempty"`
	Message       string           `json:"message,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Filter selects updates for a subscriber. Empty dimensions match everything;
// every non-empty dimension must match.
type Filter struct {
	TransactionIDs []string `json:"transaction_ids,omitempty"`
	WalletIDs      []string `json:"wallet_ids,omitempty"`
	Statuses       []string `json:"statuses,omitempty"`
}

// Matches reports whether u passes the filter. A wallet matches either side of a transfer.
func (f Filter) Matches(u StatusUpdate) bool {
	if len(f.TransactionIDs) > 0 && !contains(f.TransactionIDs, u.TransactionID) {
		return false
	}
	if len(f.WalletIDs) > 0 {
		if !contains(f.WalletIDs, u.FromWallet) && !contains(f.WalletIDs, u.ToWallet) && !contains(f.WalletIDs, u.WalletID) {
			return false
		}
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, u.Status) {
		return false
	}
	return true
}

func contains(values []string, target string) bool {
	if target == "" {
		return false
	}
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// RiskLevel buckets a fraud score: above 0.7 is high, above 0.3 medium, otherwise low.
func RiskLevel(score float64) string {
	switch {
	case score > 0.7:
		return "high"
	case score > 0.3:
		return "medium"
	default:
		return "low"
	}
}
