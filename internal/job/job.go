// Package job holds the job types shared between the registry and the job
// engine. Jobs are owned by the engine; the registry only reads snapshots
// and issues abort requests by id.
package job

import "encoding/json"

// Job is a point-in-time view of an active or completed job.
type Job struct {
	ID         string `json:"id"`
	EventID    string `json:"event"`
	EventTitle string `json:"event_title,omitempty"`

	// Detached jobs outlive their originating event: they are exempt from
	// disable-triggered aborts and do not block event deletion.
	Detached bool `json:"detached,omitempty"`

	// Source describes how the job was started ("Scheduler", "Manual (bob)",
	// "API Key (deploy)").
	Source string `json:"source,omitempty"`

	Started  int64  `json:"started,omitempty"`  // epoch seconds
	Finished int64  `json:"finished,omitempty"` // epoch seconds, 0 while active
	Code     int    `json:"code,omitempty"`     // completion code, 0 = success
	Detail   string `json:"description,omitempty"`
}

// Spec is the launch request handed to the engine: a deep copy of the event
// definition with run overrides already folded in. It stays a flat JSON
// object because overrides may carry plugin-specific keys the coordinator
// does not model.
type Spec map[string]any

func (s Spec) str(key string) string {
	v, _ := s[key].(string)
	return v
}

func (s Spec) EventID() string { return s.str("id") }
func (s Spec) Title() string   { return s.str("title") }
func (s Spec) Plugin() string  { return s.str("plugin") }
func (s Spec) Target() string  { return s.str("target") }
func (s Spec) Source() string  { return s.str("source") }

func (s Spec) Detached() bool  { return s.flag("detached") }
func (s Spec) Multiplex() bool { return s.flag("multiplex") }

func (s Spec) flag(key string) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v == "1" || v == "true"
	}
	return false
}

// Timeout returns the per-job timeout in seconds (0 = none).
func (s Spec) Timeout() int64 { return s.num("timeout") }

// MaxChildren returns the concurrent-job cap (0 = unlimited).
func (s Spec) MaxChildren() int { return int(s.num("max_children")) }

func (s Spec) num(key string) int64 {
	switch v := s[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Clone returns a shallow copy; top-level mutations on the copy do not leak
// into the original. The engine clones per fan-out member.
func (s Spec) Clone() Spec {
	out := make(Spec, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
