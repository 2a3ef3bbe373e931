package sched

import (
	"context"
	"fmt"
	"sync/atomic"
)

const (
	unitCreated int32 = iota
	unitRunning
	unitFinished
	unitDiscarded
)

// Unit is an un-started unit of work. It runs at most once: either the
// scheduler starts it, or the scheduler discards it (duplicate task id,
// cancellation during the delay) and it never runs at all.
//
// Don't pass the same Unit to more than one schedule call; a Unit that has
// already been started or discarded cannot be scheduled again.
type Unit struct {
	fn    func(ctx context.Context) error
	state atomic.Int32
}

func NewUnit(fn func(ctx context.Context) error) *Unit {
	if fn == nil {
		panic("sched: NewUnit called with nil func")
	}
	return &Unit{fn: fn}
}

// Started reports whether the unit has left the created state
// (it is running, finished, or was discarded).
func (u *Unit) Started() bool { return u.state.Load() != unitCreated }

// Discarded reports whether the unit was disposed of without running.
func (u *Unit) Discarded() bool { return u.state.Load() == unitDiscarded }

// run executes the unit's body exactly once. Calling run on a unit that is
// not in the created state is a programming error.
func (u *Unit) run(ctx context.Context) error {
	if !u.state.CompareAndSwap(unitCreated, unitRunning) {
		panic(fmt.Sprintf("sched: unit run twice (state=%d)", u.state.Load()))
	}
	defer u.state.Store(unitFinished)
	return u.fn(ctx)
}

// discard marks the unit as disposed without running it. It reports whether
// this call performed the discard (false if the unit already started).
func (u *Unit) discard() bool {
	return u.state.CompareAndSwap(unitCreated, unitDiscarded)
}
