package controllers

import (
	"context"

	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

func isStaff(ctx context.Context) bool {
	switch middleware.RoleFromContext(ctx) {
	case enums.ActorRoleArbitrator, enums.ActorRoleAdmin:
		return true
	}
	return false
}

// authorizeWallets passes staff, and otherwise requires the caller to own one of walletIDs.
func authorizeWallets(ctx context.Context, walletIDs ...string) error {
	if isStaff(ctx) {
		return nil
	}
	for _, id := range walletIDs {
		if middleware.OwnsWallet(ctx, id) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "wallet access denied")
}
