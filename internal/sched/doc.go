// Package sched runs named background units of work after an optional delay.
//
// Each Scheduler owns a table keyed by task id. A given id has at most one
// live task: scheduling an id that is already present discards the new unit
// of work instead of running it, which makes re-scheduling idempotent per
// resource. Cancelling a delayed task before its delay elapses guarantees
// the wrapped unit never starts; once a unit has started it is shielded
// from cancellation and runs to completion.
package sched
