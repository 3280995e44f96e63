// Package storage provides the ordered-list persistence layer used by the
// event registry and job engine.
//
// The model is a small set of named lists of JSON records, newest-first:
//   - "global/schedule"  event definitions
//   - "logs/activity"    operator activity rows
//   - "logs/completed"   completed jobs across all events
//   - "logs/events/<id>" completed jobs for one event
//
// Lists can be scheduled for deferred deletion (Expire); expired lists are
// swept lazily during normal operations.
package storage
