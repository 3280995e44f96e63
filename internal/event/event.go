// Package event defines the scheduled-event entity, its validation and patch
// rules, and the error taxonomy shared by the registry and its callers.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Wire field formats. IDs, categories and plugins are word tokens; targets
// additionally allow dots and hyphens (hostnames, group names).
var (
	reToken  = regexp.MustCompile(`^\w+$`)
	reTarget = regexp.MustCompile(`^[\w\-.]+$`)
	reStrip  = regexp.MustCompile(`\W+`)
)

// Flag is a boolean stored as 0/1 on the wire. It also accepts "0"/"1"
// strings and JSON booleans when decoding, since clients send all three.
type Flag bool

func (f Flag) Bool() bool { return bool(f) }

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	v, err := parseFlag(b)
	if err != nil {
		return err
	}
	*f = Flag(v)
	return nil
}

func parseFlag(b []byte) (bool, error) {
	switch string(bytes.TrimSpace(b)) {
	case "1", `"1"`, "true":
		return true, nil
	case "0", `"0"`, "false":
		return false, nil
	}
	return false, fmt.Errorf("not a 0/1 flag: %s", b)
}

// Event is a persisted scheduled-job definition.
//
// ID is assigned exactly once, at creation, and never changes. Every
// mutation stamps Modified. Exactly one of APIKey/Username is set,
// recording which principal created the event.
type Event struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Enabled  Flag   `json:"enabled"`
	Category string `json:"category"`
	Target   string `json:"target"`
	Plugin   string `json:"plugin"`

	// Timing is an optional cron expression evaluated by the external
	// scheduler. The registry only validates that it parses.
	Timing string `json:"timing,omitempty"`

	MaxChildren int            `json:"max_children"`
	Timeout     int64          `json:"timeout"` // seconds; 0 = none
	Timezone    string         `json:"timezone"`
	Params      map[string]any `json:"params"`
	CatchUp     Flag           `json:"catch_up,omitempty"`

	// Multiplex runs the event on every member of a group target at once;
	// off, a group target rotates round-robin across its members.
	Multiplex Flag `json:"multiplex,omitempty"`

	Created  int64 `json:"created"`  // epoch seconds
	Modified int64 `json:"modified"` // epoch seconds

	APIKey   string `json:"api_key,omitempty"`
	Username string `json:"username,omitempty"`
}

// NormalizeID lowercases a requested id and strips every non-word character.
// The result may be empty, which callers treat as "generate one".
func NormalizeID(s string) string {
	return reStrip.ReplaceAllString(strings.ToLower(s), "")
}

// ValidID reports whether s is a well-formed stored id.
func ValidID(s string) bool { return reToken.MatchString(s) }

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateDraft checks the creatable fields of a new event. The id is not
// checked here; it is normalized or generated by the registry afterwards.
func ValidateDraft(e *Event) error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !reToken.MatchString(e.Category) {
		return &ValidationError{Field: "category", Reason: "must match ^\\w+$"}
	}
	if !reTarget.MatchString(e.Target) {
		return &ValidationError{Field: "target", Reason: "must match ^[\\w\\-.]+$"}
	}
	if !reToken.MatchString(e.Plugin) {
		return &ValidationError{Field: "plugin", Reason: "must match ^\\w+$"}
	}
	if err := validateTiming(e.Timing); err != nil {
		return err
	}
	if e.MaxChildren < 0 {
		return &ValidationError{Field: "max_children", Reason: "must be >= 0"}
	}
	if e.Timeout < 0 {
		return &ValidationError{Field: "timeout", Reason: "must be >= 0"}
	}
	return nil
}

func validateTiming(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return &ValidationError{Field: "timing", Reason: err.Error()}
	}
	return nil
}

// ApplyDefaults fills the optional fields of a validated draft.
// Zero max_children means unlimited; zero timeout means none.
func ApplyDefaults(e *Event, defaultTZ string, now time.Time) {
	if e.Timezone == "" {
		e.Timezone = defaultTZ
	}
	if e.Timezone == "" {
		e.Timezone = time.Local.String()
	}
	if e.Params == nil {
		e.Params = map[string]any{}
	}
	e.Created = now.Unix()
	e.Modified = now.Unix()
}

// ToMap renders the event as a flat JSON object, the form used for job specs
// and store patches. The round trip through encoding/json gives a deep copy.
func (e *Event) ToMap() (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Decode parses a stored record back into an Event.
func Decode(raw json.RawMessage) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &e, nil
}
