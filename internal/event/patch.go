package event

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Patch is a parsed update request.
//
// Directive keys (reset_cursor, abort_jobs) are pulled out during parsing and
// never appear in Fields, so they can never reach persisted storage. Fields
// holds only whitelisted, normalized values ready for a flat overwrite.
type Patch struct {
	Fields map[string]any

	// ResetCursor is the requested cursor timestamp (epoch seconds);
	// 0 means the directive was absent.
	ResetCursor int64

	// AbortJobs records the abort directive.
	AbortJobs bool

	// Enabled mirrors Fields["enabled"] when the patch sets it.
	Enabled *bool
}

// ParsePatch validates a wire-level update body. Unknown keys are rejected
// rather than silently copied; id, owner and timestamp fields are not
// patchable.
func ParsePatch(in map[string]any) (*Patch, error) {
	p := &Patch{Fields: make(map[string]any, len(in))}

	for key, val := range in {
		switch key {
		case "reset_cursor":
			ts, ok := asInt64(val)
			if !ok || ts <= 0 {
				return nil, &ValidationError{Field: "reset_cursor", Reason: "must be a positive epoch timestamp"}
			}
			p.ResetCursor = ts

		case "abort_jobs":
			p.AbortJobs = truthy(val)

		case "title":
			s, ok := val.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
			}
			p.Fields[key] = s

		case "enabled":
			on, ok := asFlag(val)
			if !ok {
				return nil, &ValidationError{Field: "enabled", Reason: "must be 0 or 1"}
			}
			p.Fields[key] = flagInt(on)
			p.Enabled = &on

		case "catch_up", "multiplex":
			on, ok := asFlag(val)
			if !ok {
				return nil, &ValidationError{Field: key, Reason: "must be 0 or 1"}
			}
			p.Fields[key] = flagInt(on)

		case "category", "plugin":
			s, _ := val.(string)
			if !reToken.MatchString(s) {
				return nil, &ValidationError{Field: key, Reason: "must match ^\\w+$"}
			}
			p.Fields[key] = s

		case "target":
			s, _ := val.(string)
			if !reTarget.MatchString(s) {
				return nil, &ValidationError{Field: key, Reason: "must match ^[\\w\\-.]+$"}
			}
			p.Fields[key] = s

		case "timing":
			s, ok := val.(string)
			if !ok {
				return nil, &ValidationError{Field: key, Reason: "must be a cron expression"}
			}
			if err := validateTiming(s); err != nil {
				return nil, err
			}
			p.Fields[key] = s

		case "max_children", "timeout":
			n, ok := asInt64(val)
			if !ok || n < 0 {
				return nil, &ValidationError{Field: key, Reason: "must be >= 0"}
			}
			p.Fields[key] = n

		case "timezone":
			s, ok := val.(string)
			if !ok {
				return nil, &ValidationError{Field: key, Reason: "must be a timezone name"}
			}
			p.Fields[key] = s

		case "params":
			m, ok := val.(map[string]any)
			if !ok {
				return nil, &ValidationError{Field: key, Reason: "must be an object"}
			}
			p.Fields[key] = m

		default:
			return nil, &ValidationError{Field: key, Reason: "unknown field"}
		}
	}

	return p, nil
}

// Merge applies the patch onto a stored event and returns the merged view.
// The stored event is not modified.
func (p *Patch) Merge(stored *Event) (*Event, error) {
	m, err := stored.ToMap()
	if err != nil {
		return nil, err
	}
	for k, v := range p.Fields {
		m[k] = v
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

func flagInt(on bool) int64 {
	if on {
		return 1
	}
	return 0
}

func asFlag(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		if x == "1" {
			return true, true
		}
		if x == "0" {
			return false, true
		}
	default:
		if n, ok := asInt64(v); ok {
			if n == 0 || n == 1 {
				return n == 1, true
			}
		}
	}
	return false, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// truthy mirrors the permissive flag handling of the wire protocol:
// numbers, strings and bools are all accepted for directives.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		s := strings.TrimSpace(x)
		return s != "" && s != "0" && !strings.EqualFold(s, "false")
	default:
		if n, ok := asInt64(v); ok {
			return n != 0
		}
		return true
	}
}
