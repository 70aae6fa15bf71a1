// Package pagination implements opaque keyset cursors for list endpoints.
//
// Cursors encode the (created_at, id) key of the last item on a page, so
// pages stay stable while new ledger events or invocations are appended.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a cursor string cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the decoded position in a descending created_at ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode builds the opaque cursor token for a row key.
func Encode(createdAt time.Time, id string) string {
	token := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(token))
}

// Decode parses a cursor token from a query parameter. An empty token
// decodes to nil, meaning start from the newest row.
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// ComputePage trims an overfetched slice (limit+1 rows) down to the page
// and derives the next cursor from the last kept row.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
