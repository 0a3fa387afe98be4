// Package record provides clients for the remote record store that
// holds one board record per user: a JSON board blob, a last-saved
// timestamp, identity fields, and relationship fields, all addressed
// by opaque field identifiers.
package record

import (
	"context"
	"strings"
)

// Record is the remote representation: an identifier plus a mapping of
// field-id to raw value
type Record struct {
	ID     string
	Fields map[string]any
}

// FieldMap names the opaque field identifiers used by the store. The
// mapping is configuration, not logic.
type FieldMap struct {
	UserID        string   `json:"userId"`
	Email         string   `json:"email"`
	Name          string   `json:"name"`
	BoardData     string   `json:"boardData"`
	LastSaved     string   `json:"lastSaved"`
	Relationships []string `json:"relationships,omitempty"`
}

// Preservable is the fixed allow-list of app-managed fields eligible
// for preservation merges. Identity fields are server-derived and
// never preserved from a stale fetch.
func (f FieldMap) Preservable() []string {
	fields := []string{f.BoardData}
	fields = append(fields, f.Relationships...)
	return fields
}

// Store is the record store contract consumed by the save queue and
// the message bridge
type Store interface {
	// Get fetches a record by identifier
	Get(ctx context.Context, id string) (*Record, error)

	// Update writes the given fields to an existing record and returns
	// the stored result
	Update(ctx context.Context, id string, fields map[string]any) (*Record, error)

	// Create inserts a new record and returns it with its
	// server-assigned identifier
	Create(ctx context.Context, fields map[string]any) (*Record, error)

	// FindByUser returns the single record whose user-identifier field
	// equals userID, or ErrNotFound
	FindByUser(ctx context.Context, userID string) (*Record, error)
}

// TokenProvider supplies a fresh bearer token for each outbound store
// request. Tokens are never cached beyond the current call.
type TokenProvider func(ctx context.Context) (string, error)

// ValidID reports whether s is a well-formed record identifier: a
// fixed-length 24-symbol case-insensitive hexadecimal string. Anything
// else is treated as absent.
func ValidID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 24 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// BoardPayload extracts and decodes the board-data field of a record,
// falling back to an empty board when the field is missing or
// irrecoverably malformed.
func (r *Record) BoardPayload(fields FieldMap) map[string]any {
	raw, ok := r.Fields[fields.BoardData]
	if !ok || raw == nil {
		return DefaultBoardPayload()
	}
	switch v := raw.(type) {
	case string:
		payload, err := DecodePayload(v)
		if err != nil {
			return DefaultBoardPayload()
		}
		return payload
	case map[string]any:
		return v
	default:
		return DefaultBoardPayload()
	}
}

// DefaultBoardPayload is the empty board written into freshly created
// records
func DefaultBoardPayload() map[string]any {
	return map[string]any{"columns": []any{}}
}
