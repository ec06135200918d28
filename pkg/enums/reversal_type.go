package enums

import "fmt"

// ReversalType records what triggered a reversal.
type ReversalType string

const (
	ReversalTypeAutomatedFraud    ReversalType = "automated_fraud"
	ReversalTypeManualArbitration ReversalType = "manual_arbitration"
	ReversalTypeUserRequested     ReversalType = "user_requested"
)

var validReversalTypes = []ReversalType{
	ReversalTypeAutomatedFraud,
	ReversalTypeManualArbitration,
	ReversalTypeUserRequested,
}

func (r ReversalType) String() string {
	return string(r)
}

func (r ReversalType) IsValid() bool {
	for _, candidate := range validReversalTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseReversalType(value string) (ReversalType, error) {
	for _, candidate := range validReversalTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reversal type %q", value)
}
