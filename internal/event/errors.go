package event

import "fmt"

// ValidationError reports a malformed or missing field on create/update.
// It is user-correctable; the field name is safe to surface to clients.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown event id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("failed to locate event: %s", e.ID)
}

// ConflictError reports a delete blocked by live, non-detached jobs.
type ConflictError struct {
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("failed to delete event %s: %s", e.ID, e.Reason)
}

// LaunchError wraps a launcher refusal. The message is passed through
// verbatim from the launcher.
type LaunchError struct {
	Msg string
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch event: %s", e.Msg)
}
