package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"evron/internal/event"
	"evron/internal/storage"
)

// EventHistory returns a page of one event's completed-job records, newest
// first. Completion rows are written by the job engine; the registry passes
// them through without reinterpreting their shape. An event that has never
// completed a job yields an empty page.
func (s *Service) EventHistory(ctx context.Context, id string, offset, limit int) ([]json.RawMessage, storage.PageInfo, error) {
	if !event.ValidID(id) {
		return nil, storage.PageInfo{}, &event.ValidationError{Field: "id", Reason: "must match ^\\w+$"}
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, info, err := s.store.ListGet(ctx, eventLogKey(id), offset, limit)
	if err != nil {
		return nil, storage.PageInfo{}, fmt.Errorf("event history: %w", err)
	}
	return rows, info, nil
}

// History returns a page of completed-job records across all events.
func (s *Service) History(ctx context.Context, offset, limit int) ([]json.RawMessage, storage.PageInfo, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	rows, info, err := s.store.ListGet(ctx, listCompleted, offset, limit)
	if err != nil {
		return nil, storage.PageInfo{}, fmt.Errorf("history: %w", err)
	}
	return rows, info, nil
}
