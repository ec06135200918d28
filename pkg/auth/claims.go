package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID    string
	Role      enums.ActorRole
	WalletIDs []string
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID    string          `json:"user_id"`
	Role      enums.ActorRole `json:"role"`
	WalletIDs []string        `json:"wallet_ids,omitempty"`
	jwt.RegisteredClaims
}

// OwnsWallet reports whether the token holder controls walletID.
func (c *AccessTokenClaims) OwnsWallet(walletID string) bool {
	return c != nil && slices.Contains(c.WalletIDs, walletID)
}
