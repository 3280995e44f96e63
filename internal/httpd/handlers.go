package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"evron/internal/broadcast"
	"evron/internal/event"
	"evron/internal/eventbus"
	"evron/internal/identity"
)

const maxBodyBytes = 1 << 20

// Responses follow the classic envelope: {"code":0,...} on success,
// {"code":1,"description":"..."} on failure, with the HTTP status carrying
// the error class.
func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"code": 0}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"code": 1, "description": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	var (
		verr *event.ValidationError
		nf   *event.NotFoundError
		conf *event.ConflictError
		lerr *event.LaunchError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &conf):
		return http.StatusConflict
	case errors.As(err, &lerr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// principalFrom resolves the caller from request headers. API keys win over
// usernames when both are present.
func principalFrom(r *http.Request) (identity.Principal, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		title := r.Header.Get("X-API-Title")
		if title == "" {
			title = key
		}
		return identity.APIKey(key, title), nil
	}
	if user := r.Header.Get("X-Username"); user != "" {
		return identity.User(user), nil
	}
	return identity.Principal{}, &event.ValidationError{Field: "caller", Reason: "missing X-API-Key or X-Username header"}
}

func pageParams(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	offset, _ = strconv.Atoi(q.Get("offset"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	return offset, limit
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &event.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (s *Service) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	events, info, err := s.registry.List(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"rows": events, "list": info})
}

func (s *Service) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.registry.Get(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"event": e})
}

func (s *Service) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var draft event.Event
	if err := decodeBody(w, r, &draft); err != nil {
		writeErr(w, err)
		return
	}
	e, err := s.registry.Create(r.Context(), p, &draft)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"id": e.ID})
}

func (s *Service) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	id, _ := body["id"].(string)
	delete(body, "id")
	if _, err := s.registry.Update(r.Context(), p, id, body); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Service) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.registry.Delete(r.Context(), p, body.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Service) handleRunEvent(w http.ResponseWriter, r *http.Request) {
	p, err := principalFrom(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	id, _ := body["id"].(string)
	delete(body, "id")
	ids, err := s.registry.Run(r.Context(), p, id, body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"ids": ids})
}

func (s *Service) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	rows, info, err := s.registry.EventHistory(r.Context(), r.URL.Query().Get("id"), offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"rows": rows, "list": info})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	rows, info, err := s.registry.History(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"rows": rows, "list": info})
}

func (s *Service) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeOK(w, map[string]any{"rows": []any{}})
		return
	}
	offset, limit := pageParams(r)
	rows, info, err := s.audit.List(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"rows": rows, "list": info})
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"cursors": s.state.Snapshot()})
}

// handleWatch streams bus events to the client as server-sent events until
// the client disconnects. The broadcast pump delivers sequentially, so
// writes to the response never interleave.
func (s *Service) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.broadcast == nil {
		http.Error(w, "watch unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	detach := s.broadcast.Attach(broadcast.SinkFunc(func(_ context.Context, ev eventbus.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}))
	defer detach()

	<-ctx.Done()
	s.log.Debug("watch client disconnected")
}
