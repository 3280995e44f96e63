// Package registry is the event coordinator: it owns the persisted schedule
// (event definitions on the "global/schedule" list), keeps scheduler state
// consistent across mutations, and drives the job-facing side effects of
// those mutations.
//
// Three side channels hang off the write path:
//
//   - disabling an event with the abort_jobs directive aborts its live,
//     non-detached jobs;
//   - re-enabling a catch-up event nudges the scheduler into an immediate
//     re-evaluation so missed minutes are not deferred to the next tick;
//   - deleting an event schedules its job log list for expiry and clears
//     its cursor and round-robin state.
//
// The registry never evaluates timing itself; that stays in the scheduler
// engine, reached only through the sched.Control surface.
package registry
