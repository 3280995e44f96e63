package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Mem is the in-process driver. It backs tests and ephemeral runs, and is the
// reference for driver semantics (the sqlite driver must behave identically).
type Mem struct {
	mu      sync.Mutex
	lists   map[string][]json.RawMessage
	expires map[string]time.Time
	closed  bool

	// now is swappable in tests.
	now func() time.Time
}

func NewMem() *Mem {
	return &Mem{
		lists:   map[string][]json.RawMessage{},
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

func (s *Mem) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// sweepLocked drops lists whose expiry has passed. Call with s.mu held.
func (s *Mem) sweepLocked() {
	now := s.now()
	for key, at := range s.expires {
		if !at.After(now) {
			delete(s.lists, key)
			delete(s.expires, key)
		}
	}
}

func (s *Mem) ListGet(ctx context.Context, key string, offset, limit int) ([]json.RawMessage, PageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, PageInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, PageInfo{}, ErrClosed
	}
	s.sweepLocked()

	list := s.lists[key]
	info := PageInfo{Length: len(list)}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return nil, info, nil
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]json.RawMessage, end-offset)
	copy(out, list[offset:end])
	return out, info, nil
}

func (s *Mem) ListFind(ctx context.Context, key string, match Match) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.sweepLocked()

	for _, raw := range s.lists[key] {
		if match(raw) {
			return raw, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Mem) ListUnshift(ctx context.Context, key string, item json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make(json.RawMessage, len(item))
	copy(cp, item)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sweepLocked()

	s.lists[key] = append([]json.RawMessage{cp}, s.lists[key]...)
	// Writing to a list cancels any pending expiry for it.
	delete(s.expires, key)
	return nil
}

func (s *Mem) ListFindUpdate(ctx context.Context, key string, match Match, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sweepLocked()

	list := s.lists[key]
	for i, raw := range list {
		if !match(raw) {
			continue
		}
		merged, err := applyPatch(raw, patch)
		if err != nil {
			return err
		}
		list[i] = merged
		return nil
	}
	return ErrNotFound
}

func (s *Mem) ListFindDelete(ctx context.Context, key string, match Match) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.sweepLocked()

	list := s.lists[key]
	for i, raw := range list {
		if !match(raw) {
			continue
		}
		s.lists[key] = append(list[:i:i], list[i+1:]...)
		if len(s.lists[key]) == 0 {
			delete(s.lists, key)
		}
		return raw, nil
	}
	return nil, ErrNotFound
}

func (s *Mem) Expire(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.expires[key] = at
	return nil
}

// ExpiresAt reports the scheduled deletion time for a list, if any.
// Used by diagnostics and tests.
func (s *Mem) ExpiresAt(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.expires[key]
	return at, ok
}
