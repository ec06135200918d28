package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the page size for inbox and history lists when none is given.
	DefaultLimit = 25
	// MaxLimit caps any keyset page.
	MaxLimit = 100

	cursorVersion = "v1"
)

// Cursor is the keyset position of the last row on a page. Lists are ordered newest first,
// so the next page holds rows strictly older than (At, ID).
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer asks for one extra row so callers can tell whether another page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// NextPage trims rows fetched with LimitWithBuffer down to the page and returns the cursor
// for the following page, or nil on the last one.
func NextPage[T any](rows []T, limit int, position func(T) Cursor) ([]T, *Cursor) {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return rows, nil
	}
	rows = rows[:size]
	next := position(rows[size-1])
	return rows, &next
}

// EncodeCursor renders a URL-safe token for query strings.
func EncodeCursor(cursor Cursor) string {
	payload := fmt.Sprintf("%s|%s|%s", cursorVersion, cursor.At.UTC().Format(time.RFC3339Nano), cursor.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor decodes a token from EncodeCursor. An empty value means the first page.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.Split(string(decoded), "|")
	if len(parts) != 3 || parts[0] != cursorVersion {
		return nil, fmt.Errorf("unsupported cursor format")
	}
	at, err := time.Parse(time.RFC3339Nano, parts[1])
	if err != nil {
		return nil, fmt.Errorf("cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return nil, fmt.Errorf("cursor id: %w", err)
	}
	return &Cursor{At: at, ID: id}, nil
}
