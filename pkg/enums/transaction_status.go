package enums

import "fmt"

// TransactionStatus tracks a ledger transaction through settlement and reversal.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusCompleted,
	TransactionStatusFailed,
	TransactionStatusReversed,
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted: {TransactionStatusReversed},
}

func (s TransactionStatus) String() string {
	return string(s)
}

func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, candidate := range transactionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
