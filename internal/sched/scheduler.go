package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "hushbot/pkg/logx"
)

// Scheduler tracks named in-flight tasks. Task ids are opaque comparable
// values chosen by the caller (chat ids here).
type Scheduler struct {
	name string
	log  logx.Logger

	mu    sync.Mutex
	tasks map[any]*task
}

type task struct {
	id     any
	cancel context.CancelFunc
}

func New(name string, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		name:  name,
		log:   log.With(logx.String("scheduler", name)),
		tasks: map[any]*task{},
	}
}

// Contains reports whether a live task exists for id.
func (s *Scheduler) Contains(id any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Schedule starts u immediately as a tracked task.
//
// Scheduling a unit that has already been started is a programming error and
// panics. If a task already exists for id, u is discarded without running and
// the existing task stays authoritative.
func (s *Scheduler) Schedule(id any, u *Unit) {
	s.log.Trace("scheduling task", logx.Any("task_id", id))

	if u == nil {
		panic(fmt.Sprintf("%s: cannot schedule a nil unit for task %v", s.name, id))
	}
	if u.Started() {
		panic(fmt.Sprintf("%s: cannot schedule an already started unit for task %v", s.name, id))
	}

	s.mu.Lock()
	if _, ok := s.tasks[id]; ok {
		s.mu.Unlock()
		u.discard()
		s.log.Debug("did not schedule task; task was already scheduled", logx.Any("task_id", id))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{id: id, cancel: cancel}
	s.tasks[id] = t
	s.mu.Unlock()

	go s.run(ctx, t, u.run)
	s.log.Debug("scheduled task", logx.Any("task_id", id))
}

// ScheduleLater runs u after delay.
//
// The delay itself is a managed task: cancelling it while it sleeps
// guarantees u is discarded and never starts. If a task already exists for
// id, u is discarded immediately, as with Schedule. Once the delay elapses,
// u runs shielded from the wrapper's cancellation and completes even if
// Cancel is called concurrently.
func (s *Scheduler) ScheduleLater(delay time.Duration, id any, u *Unit) {
	if u == nil {
		panic(fmt.Sprintf("%s: cannot schedule a nil unit for task %v", s.name, id))
	}
	if u.Started() {
		panic(fmt.Sprintf("%s: cannot schedule an already started unit for task %v", s.name, id))
	}

	outer := NewUnit(func(ctx context.Context) error {
		s.log.Trace("waiting before starting task", logx.Any("task_id", id), logx.Duration("delay", delay))
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			if u.discard() {
				s.log.Debug("discarded unit; task cancelled during delay", logx.Any("task_id", id))
			}
			return ctx.Err()
		case <-timer.C:
		}

		s.log.Trace("delay elapsed; starting task", logx.Any("task_id", id))
		// The unit gets a context that is not a child of the wrapper's, so
		// cancelling the wrapper after this point does not interrupt it.
		return u.run(context.WithoutCancel(ctx))
	})

	s.Schedule(id, outer)
	if outer.Discarded() && u.discard() {
		s.log.Debug("discarded unit; task was already scheduled", logx.Any("task_id", id))
	}
}

// ScheduleAt runs u at the given time. A time in the past (or now) behaves
// like an immediate Schedule. Go time values carry their location, so the
// delay computation is timezone-consistent regardless of the zone of at.
func (s *Scheduler) ScheduleAt(at time.Time, id any, u *Unit) {
	delay := time.Until(at)
	if delay > 0 {
		s.ScheduleLater(delay, id, u)
		return
	}
	s.Schedule(id, u)
}

// Cancel stops and discards the task registered under id. A missing task is
// a caller logic warning, not an error.
func (s *Scheduler) Cancel(id any) {
	s.log.Trace("cancelling task", logx.Any("task_id", id))

	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Warn("failed to unschedule task (no task found)", logx.Any("task_id", id))
		return
	}
	t.cancel()
	s.log.Debug("unscheduled task", logx.Any("task_id", id))
}

// CancelAll cancels every currently tracked task.
func (s *Scheduler) CancelAll() {
	s.log.Debug("unscheduling all tasks")

	s.mu.Lock()
	ids := make([]any, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Cancel(id)
	}
}

// run executes the task body and performs the done bookkeeping. Errors and
// panics are contained here; they never propagate past the task boundary.
func (s *Scheduler) run(ctx context.Context, t *task, body func(ctx context.Context) error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in task %v: %v", t.id, r)
				s.log.Error("task panicked", logx.Any("task_id", t.id), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = body(ctx)
	}()

	s.mu.Lock()
	cur := s.tasks[t.id]
	if cur == t {
		// The registered task is the one that just finished; drop it. A later
		// re-schedule under the same id registered a different task and must
		// not be clobbered by this stale completion.
		delete(s.tasks, t.id)
	}
	s.mu.Unlock()

	switch {
	case cur == t:
		s.log.Trace("task done; removed from table", logx.Any("task_id", t.id))
	case cur != nil:
		s.log.Debug("done task differs from scheduled task; id was rescheduled", logx.Any("task_id", t.id))
	case ctx.Err() == nil:
		s.log.Warn("task not found in table while handling completion; task was unscheduled improperly", logx.Any("task_id", t.id))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("error in task", logx.Any("task_id", t.id), logx.Err(err))
	}
}
