package httpd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"evron/internal/audit"
	"evron/internal/eventbus"
	"evron/internal/job"
	"evron/internal/registry"
	"evron/internal/state"
	"evron/internal/storage"
	"evron/pkg/logx"
)

type fakeLauncher struct{ n int }

func (f *fakeLauncher) Launch(_ context.Context, spec job.Spec) ([]job.Job, error) {
	out := make([]job.Job, 0, f.n)
	for i := 0; i < f.n; i++ {
		out = append(out, job.Job{ID: fmt.Sprintf("j%d", i+1), EventID: spec.EventID()})
	}
	return out, nil
}

type fakeJobs struct{ jobs map[string]job.Job }

func (f *fakeJobs) ActiveJobs(context.Context) map[string]job.Job { return f.jobs }

type testServer struct {
	ts   *httptest.Server
	jobs *fakeJobs
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	store := storage.NewMem()
	st := state.New()
	bus := eventbus.New()
	rec := audit.NewRecorder(store, bus, logx.Nop())
	jobs := &fakeJobs{}

	reg := registry.New(registry.Config{DefaultTimezone: "UTC"}, store, st, bus, rec,
		jobs, nil, &fakeLauncher{n: 2}, nil, logx.Nop())

	svc := New(cfg, reg, rec, st, nil, logx.Nop())
	ts := httptest.NewServer(svc.routes())
	t.Cleanup(func() {
		ts.Close()
		_ = store.Close()
	})
	return &testServer{ts: ts, jobs: jobs}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

var asUser = map[string]string{"X-Username": "bob"}

func createEvent(t *testing.T, s *testServer, id string) {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/app/create_event", map[string]any{
		"id":       id,
		"title":    "Nightly Backup",
		"enabled":  1,
		"category": "general",
		"target":   "host1",
		"plugin":   "shellplug",
	}, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create_event status = %d, body %v", resp.StatusCode, body)
	}
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{})
	createEvent(t, s, "ev1")

	resp, body := s.do(t, http.MethodGet, "/api/app/get_event?id=ev1", nil, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_event status = %d", resp.StatusCode)
	}
	ev := body["event"].(map[string]any)
	if ev["title"] != "Nightly Backup" || ev["username"] != "bob" {
		t.Fatalf("event = %v", ev)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/app/update_event",
		map[string]any{"id": "ev1", "title": "Hourly Backup"}, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update_event status = %d", resp.StatusCode)
	}

	resp, body = s.do(t, http.MethodGet, "/api/app/get_schedule", nil, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_schedule status = %d", resp.StatusCode)
	}
	rows := body["rows"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["title"] != "Hourly Backup" {
		t.Fatalf("rows = %v", rows)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/app/delete_event", map[string]any{"id": "ev1"}, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete_event status = %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/app/get_event?id=ev1", nil, asUser)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get_event after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{})
	createEvent(t, s, "ev1")

	// Unknown id: 404.
	resp, _ := s.do(t, http.MethodGet, "/api/app/get_event?id=nosuch", nil, asUser)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	// Unknown patch key: 400.
	resp, body := s.do(t, http.MethodPost, "/api/app/update_event",
		map[string]any{"id": "ev1", "frobnicate": 1}, asUser)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%v)", resp.StatusCode, body)
	}

	// Delete blocked by an active job: 409.
	s.jobs.jobs = map[string]job.Job{"j1": {ID: "j1", EventID: "ev1"}}
	resp, _ = s.do(t, http.MethodPost, "/api/app/delete_event", map[string]any{"id": "ev1"}, asUser)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}

	// Missing caller identity: 400.
	resp, _ = s.do(t, http.MethodPost, "/api/app/update_event",
		map[string]any{"id": "ev1", "title": "x"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing identity", resp.StatusCode)
	}
}

func TestRunEventReturnsJobIDs(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{})
	createEvent(t, s, "ev1")

	resp, body := s.do(t, http.MethodPost, "/api/app/run_event", map[string]any{"id": "ev1"}, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run_event status = %d", resp.StatusCode)
	}
	ids := body["ids"].([]any)
	if len(ids) != 2 || ids[0] != "j1" {
		t.Fatalf("ids = %v, want [j1 j2]", ids)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Token: "sekrit"})

	resp, _ := s.do(t, http.MethodGet, "/api/app/get_schedule", nil, asUser)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/app/get_schedule", nil,
		map[string]string{"X-Username": "bob", "Authorization": "Bearer sekrit"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with token", resp.StatusCode)
	}

	// healthz stays open.
	resp, _ = s.do(t, http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestValidationErrorSurfacesDescription(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{})

	resp, body := s.do(t, http.MethodPost, "/api/app/create_event", map[string]any{
		"title":    "",
		"category": "general",
		"target":   "host1",
		"plugin":   "shellplug",
	}, asUser)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["code"].(float64) != 1 || body["description"] == "" {
		t.Fatalf("body = %v", body)
	}
}
