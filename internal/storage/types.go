package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by ListFind/ListFindUpdate/ListFindDelete when
	// no item matches the predicate (or the list does not exist).
	ErrNotFound = errors.New("storage: item not found")

	// ErrClosed is returned after Close().
	ErrClosed = errors.New("storage: store closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "mem":    in-process only (tests, ephemeral runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PageInfo describes the underlying list alongside a page of items.
type PageInfo struct {
	Length int `json:"length"`
}

// Match decides whether a stored record satisfies a lookup.
// The raw bytes are the record as stored; implementations decode as needed.
type Match func(raw json.RawMessage) bool

// FieldEquals returns a Match that decodes the record shallowly and compares
// one top-level string field. This covers every lookup the registry performs.
func FieldEquals(field, want string) Match {
	return func(raw json.RawMessage) bool {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return false
		}
		var got string
		if err := json.Unmarshal(m[field], &got); err != nil {
			return false
		}
		return got == want
	}
}

// Store is the ordered-list persistence API.
//
// Semantics shared by all drivers:
//   - ListGet on a missing list is an empty page, not an error.
//   - ListUnshift inserts at the head (newest first), creating the list.
//   - ListFindUpdate applies patch as a flat field-by-field overwrite onto
//     the matched record (no deep merging) and persists it atomically.
//   - Expire schedules the whole list for deletion at the given time.
type Store interface {
	ListGet(ctx context.Context, key string, offset, limit int) ([]json.RawMessage, PageInfo, error)
	ListFind(ctx context.Context, key string, match Match) (json.RawMessage, error)
	ListUnshift(ctx context.Context, key string, item json.RawMessage) error
	ListFindUpdate(ctx context.Context, key string, match Match, patch map[string]any) error
	ListFindDelete(ctx context.Context, key string, match Match) (json.RawMessage, error)
	Expire(ctx context.Context, key string, at time.Time) error
	Close() error
}

// applyPatch overwrites top-level fields of a stored record. Shared by drivers
// so both have identical merge behavior.
func applyPatch(raw json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	for k, v := range patch {
		rec[k] = v
	}
	return json.Marshal(rec)
}
