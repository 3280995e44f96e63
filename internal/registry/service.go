package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"evron/internal/event"
	"evron/internal/eventbus"
	"evron/internal/identity"
	"evron/internal/storage"
	"evron/pkg/logx"
)

// List returns a page of event definitions, newest first. A schedule that
// has never had an event is an empty page, not an error.
func (s *Service) List(ctx context.Context, offset, limit int) ([]*event.Event, storage.PageInfo, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	rows, info, err := s.store.ListGet(ctx, listSchedule, offset, limit)
	if err != nil {
		return nil, storage.PageInfo{}, fmt.Errorf("list schedule: %w", err)
	}
	out := make([]*event.Event, 0, len(rows))
	for _, raw := range rows {
		e, err := event.Decode(raw)
		if err != nil {
			// A corrupt row should not take the whole schedule down.
			s.log.Warn("skipping undecodable schedule row", logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, info, nil
}

// Get returns one event by id.
func (s *Service) Get(ctx context.Context, id string) (*event.Event, error) {
	if !event.ValidID(id) {
		return nil, &event.ValidationError{Field: "id", Reason: "must match ^\\w+$"}
	}
	raw, err := s.store.ListFind(ctx, listSchedule, storage.FieldEquals("id", id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &event.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return event.Decode(raw)
}

// Create validates a draft, assigns it an id, stamps ownership and
// timestamps, and prepends it to the schedule. The new event's cursor starts
// at the current minute so the scheduler never backfills minutes that
// predate it.
func (s *Service) Create(ctx context.Context, p identity.Principal, draft *event.Event) (*event.Event, error) {
	if err := event.ValidateDraft(draft); err != nil {
		return nil, err
	}

	now := s.now()
	e := *draft
	e.ID = event.NormalizeID(e.ID)
	if e.ID == "" {
		e.ID = s.newID("e")
	}
	event.ApplyDefaults(&e, s.cfg.DefaultTimezone, now)

	// Exactly one owner field, from the resolved principal. Whatever the
	// client sent in the draft is discarded.
	e.APIKey, e.Username = "", ""
	if p.Kind == identity.KindAPIKey {
		e.APIKey = p.Key
	} else {
		e.Username = p.Username
	}

	raw, err := json.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	if err := s.store.ListUnshift(ctx, listSchedule, raw); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}

	s.state.OnCreate(e.ID, now)

	s.log.Info("event created",
		logx.String("event", e.ID),
		logx.String("title", e.Title),
		logx.String("actor", p.Actor()))
	s.record(ctx, "event_create", p.Actor(), map[string]any{"event": e.ID, "title": e.Title})
	s.publish(eventbus.TopicScheduleUpdated, e.ID)
	s.publish(eventbus.TopicStateUpdated, e.ID)

	return &e, nil
}

// Update applies a patch to a stored event. Directive keys (reset_cursor,
// abort_jobs) act on scheduler state and live jobs but are never persisted;
// unknown keys are rejected outright.
func (s *Service) Update(ctx context.Context, p identity.Principal, id string, body map[string]any) (*event.Event, error) {
	if !event.ValidID(id) {
		return nil, &event.ValidationError{Field: "id", Reason: "must match ^\\w+$"}
	}
	patch, err := event.ParsePatch(body)
	if err != nil {
		return nil, err
	}

	raw, err := s.store.ListFind(ctx, listSchedule, storage.FieldEquals("id", id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &event.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	stored, err := event.Decode(raw)
	if err != nil {
		return nil, err
	}

	patch.Fields["modified"] = s.now().Unix()
	err = s.store.ListFindUpdate(ctx, listSchedule, storage.FieldEquals("id", id), patch.Fields)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &event.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	merged, err := patch.Merge(stored)
	if err != nil {
		return nil, err
	}

	if patch.ResetCursor > 0 {
		cur := s.state.ResetCursor(id, patch.ResetCursor)
		s.log.Info("event cursor reset",
			logx.String("event", id),
			logx.Int64("cursor", cur))
		s.publish(eventbus.TopicStateUpdated, id)
	}

	s.log.Info("event updated",
		logx.String("event", id),
		logx.String("actor", p.Actor()))
	s.record(ctx, "event_update", p.Actor(), map[string]any{"event": id, "title": merged.Title})
	s.publish(eventbus.TopicScheduleUpdated, id)

	s.maybeAbortJobs(ctx, merged, patch)
	s.maybeRetick(merged, patch)

	return merged, nil
}

// Delete removes an event from the schedule. Live non-detached jobs block
// the delete; detached ones do not. On success the event's job log list is
// scheduled for expiry and its scheduler state is dropped.
func (s *Service) Delete(ctx context.Context, p identity.Principal, id string) (*event.Event, error) {
	if !event.ValidID(id) {
		return nil, &event.ValidationError{Field: "id", Reason: "must match ^\\w+$"}
	}

	if s.jobs != nil {
		for _, j := range s.jobs.ActiveJobs(ctx) {
			if j.EventID == id && !j.Detached {
				return nil, &event.ConflictError{ID: id, Reason: "event has active jobs"}
			}
		}
	}

	raw, err := s.store.ListFindDelete(ctx, listSchedule, storage.FieldEquals("id", id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &event.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("delete event: %w", err)
	}
	removed, err := event.Decode(raw)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.Expire(ctx, eventLogKey(id), now.Add(logRetention)); err != nil {
		// The event itself is already gone; a failed expiry only leaks a
		// log list, so log and move on.
		s.log.Warn("failed to schedule event log expiry",
			logx.String("event", id), logx.Err(err))
	}

	s.state.RemoveEvent(id)

	s.log.Info("event deleted",
		logx.String("event", id),
		logx.String("title", removed.Title),
		logx.String("actor", p.Actor()))
	s.record(ctx, "event_delete", p.Actor(), map[string]any{"event": id, "title": removed.Title})
	s.publish(eventbus.TopicScheduleUpdated, id)
	s.publish(eventbus.TopicStateUpdated, id)

	return removed, nil
}
