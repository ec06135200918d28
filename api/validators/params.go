package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

// ParseUUIDParam reads a chi path parameter as a uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

// RequireParam returns a non-empty chi path parameter.
func RequireParam(r *http.Request, name string) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	return raw, nil
}

// ParseAmount parses a decimal string already checked by the positive_decimal tag.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return d, nil
}

// ParseUUIDs parses a list of ids, reporting the first bad entry.
func ParseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid id").
				WithDetails(map[string]any{"value": value})
		}
		ids = append(ids, id)
	}
	return ids, nil
}
