package enums

import "fmt"

// TokenStatus is the lifecycle state of a CBDC token.
type TokenStatus string

const (
	TokenStatusActive   TokenStatus = "active"
	TokenStatusFrozen   TokenStatus = "frozen"
	TokenStatusDisputed TokenStatus = "disputed"
	TokenStatusInvalid  TokenStatus = "invalid"
)

var validTokenStatuses = []TokenStatus{
	TokenStatusActive,
	TokenStatusFrozen,
	TokenStatusDisputed,
	TokenStatusInvalid,
}

// invalid is terminal.
var tokenTransitions = map[TokenStatus][]TokenStatus{
	TokenStatusActive:   {TokenStatusFrozen},
	TokenStatusFrozen:   {TokenStatusActive, TokenStatusDisputed},
	TokenStatusDisputed: {TokenStatusInvalid, TokenStatusActive},
}

func (s TokenStatus) String() string {
	return string(s)
}

func (s TokenStatus) IsValid() bool {
	for _, candidate := range validTokenStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TokenStatus) CanTransitionTo(next TokenStatus) bool {
	for _, candidate := range tokenTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTransferable reports whether ownership may change in this state.
func (s TokenStatus) IsTransferable() bool {
	return s == TokenStatusActive
}

func ParseTokenStatus(value string) (TokenStatus, error) {
	for _, candidate := range validTokenStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid token status %q", value)
}
