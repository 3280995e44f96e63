package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNormalizeID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Foo! Bar", "foobar"},
		{"backup_daily", "backup_daily"},
		{"UPPER-case.id", "uppercaseid"},
		{"   ", ""},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeID(tt.in); got != tt.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func validDraft() *Event {
	return &Event{
		Title:    "Nightly backup",
		Enabled:  true,
		Category: "general",
		Target:   "db-01.example.com",
		Plugin:   "shellplug",
	}
}

func TestValidateDraft(t *testing.T) {
	t.Parallel()
	if err := ValidateDraft(validDraft()); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Event)
		field  string
	}{
		{"empty title", func(e *Event) { e.Title = "  " }, "title"},
		{"bad category", func(e *Event) { e.Category = "no spaces" }, "category"},
		{"bad target", func(e *Event) { e.Target = "bad host!" }, "target"},
		{"bad plugin", func(e *Event) { e.Plugin = "p-l-u-g" }, "plugin"},
		{"bad timing", func(e *Event) { e.Timing = "not a cron spec at all" }, "timing"},
		{"negative timeout", func(e *Event) { e.Timeout = -1 }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validDraft()
			tt.mutate(e)
			err := ValidateDraft(e)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestValidateDraftAcceptsTiming(t *testing.T) {
	t.Parallel()
	e := validDraft()
	for _, spec := range []string{"*/5 * * * *", "@hourly", "30 2 * * 1"} {
		e.Timing = spec
		if err := ValidateDraft(e); err != nil {
			t.Errorf("timing %q rejected: %v", spec, err)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	e := validDraft()
	now := time.Unix(1700000123, 0)
	ApplyDefaults(e, "UTC", now)
	if e.Timezone != "UTC" {
		t.Fatalf("timezone = %q", e.Timezone)
	}
	if e.Params == nil {
		t.Fatal("params not defaulted")
	}
	if e.Created != 1700000123 || e.Modified != 1700000123 {
		t.Fatalf("created/modified = %d/%d", e.Created, e.Modified)
	}
}

func TestFlagWireForms(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{`1`, `"1"`, `true`} {
		var f Flag
		if err := json.Unmarshal([]byte(raw), &f); err != nil || !f.Bool() {
			t.Errorf("Flag(%s) = %v, err %v; want true", raw, f, err)
		}
	}
	for _, raw := range []string{`0`, `"0"`, `false`} {
		var f Flag
		if err := json.Unmarshal([]byte(raw), &f); err != nil || f.Bool() {
			t.Errorf("Flag(%s) = %v, err %v; want false", raw, f, err)
		}
	}
	b, _ := json.Marshal(Flag(true))
	if string(b) != "1" {
		t.Fatalf("Flag(true) marshals to %s, want 1", b)
	}
}

func TestParsePatchDirectives(t *testing.T) {
	t.Parallel()
	p, err := ParsePatch(map[string]any{
		"enabled":      "0",
		"abort_jobs":   1,
		"reset_cursor": float64(1700000000),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.AbortJobs {
		t.Fatal("abort directive lost")
	}
	if p.ResetCursor != 1700000000 {
		t.Fatalf("reset_cursor = %d", p.ResetCursor)
	}
	if p.Enabled == nil || *p.Enabled {
		t.Fatal("enabled should parse to false")
	}
	// Directives never land in persisted fields.
	if _, ok := p.Fields["reset_cursor"]; ok {
		t.Fatal("reset_cursor leaked into fields")
	}
	if _, ok := p.Fields["abort_jobs"]; ok {
		t.Fatal("abort_jobs leaked into fields")
	}
}

func TestParsePatchRejectsUnknownKey(t *testing.T) {
	t.Parallel()
	_, err := ParsePatch(map[string]any{"id": "sneaky"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "id" {
		t.Fatalf("field = %q, want id", ve.Field)
	}
}

func TestPatchMergeIsFlat(t *testing.T) {
	t.Parallel()
	stored := validDraft()
	stored.ID = "ev1"
	stored.Params = map[string]any{"keep": "me"}

	p, err := ParsePatch(map[string]any{
		"title":  "Renamed",
		"params": map[string]any{"fresh": "map"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	merged, err := p.Merge(stored)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.Title != "Renamed" || merged.ID != "ev1" {
		t.Fatalf("merged = %+v", merged)
	}
	// Flat overwrite: nested maps replaced wholesale.
	if _, ok := merged.Params["keep"]; ok {
		t.Fatal("expected params to be replaced, old key survived")
	}
	if stored.Title != "Nightly backup" {
		t.Fatal("stored event mutated by merge")
	}
}
