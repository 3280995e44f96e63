// Package audit records operator activity (event edits, manual runs) onto
// the "logs/activity" list and mirrors each row onto the event bus so
// connected clients see activity live.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"evron/internal/eventbus"
	"evron/internal/storage"
	logx "evron/pkg/logx"
)

const listKey = "logs/activity"

// Entry is one activity row. Keep it compact and schema-stable.
type Entry struct {
	Action string         `json:"action"`
	Actor  string         `json:"actor,omitempty"`
	Epoch  int64          `json:"epoch"`
	Data   map[string]any `json:"data,omitempty"`
}

type Recorder struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store storage.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// Record appends one activity row. Activity is a secondary side effect of an
// already-acknowledged request, so failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, action, actor string, data map[string]any) {
	e := Entry{Action: action, Actor: actor, Epoch: time.Now().Unix(), Data: data}

	if r.store != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			err = r.store.ListUnshift(ctx, listKey, raw)
		}
		if err != nil {
			r.log.Warn("activity record failed", logx.String("action", action), logx.Err(err))
		}
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TopicActivity, Data: e})
	}
}

// List returns a page of recent activity, newest first.
func (r *Recorder) List(ctx context.Context, offset, limit int) ([]Entry, storage.PageInfo, error) {
	if r.store == nil {
		return nil, storage.PageInfo{}, nil
	}
	rows, info, err := r.store.ListGet(ctx, listKey, offset, limit)
	if err != nil {
		return nil, storage.PageInfo{}, err
	}
	out := make([]Entry, 0, len(rows))
	for _, raw := range rows {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, info, nil
}
