package middleware

import (
	"net/http"
	"slices"

	"github.com/echopay/echopay-backend/api/responses"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
)

// RequireRole admits callers holding any of roles.
func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required").
					WithDetails(map[string]any{"roles": roles}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
