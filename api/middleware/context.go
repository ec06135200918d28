package middleware

import (
	"context"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxRole      contextKey = "actor_role"
	ctxWalletIDs contextKey = "wallet_ids"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// WalletIDsFromContext returns the wallets the caller's token grants access to.
func WalletIDsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxWalletIDs).([]string); ok {
		return v
	}
	return nil
}

// ActorFromContext builds the audit actor for the authenticated caller.
func ActorFromContext(ctx context.Context) audit.Actor {
	return audit.Actor{UserID: UserIDFromContext(ctx), Role: RoleFromContext(ctx)}
}

// OwnsWallet reports whether the caller controls walletID. Admins are treated as owning every wallet.
func OwnsWallet(ctx context.Context, walletID string) bool {
	if RoleFromContext(ctx) == enums.ActorRoleAdmin {
		return true
	}
	for _, id := range WalletIDsFromContext(ctx) {
		if id == walletID {
			return true
		}
	}
	return false
}

// WithIdentity injects an authenticated caller into the context.
func WithIdentity(ctx context.Context, userID string, role enums.ActorRole, walletIDs ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return context.WithValue(ctx, ctxWalletIDs, walletIDs)
}
