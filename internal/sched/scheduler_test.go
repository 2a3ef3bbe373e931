package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "hushbot/pkg/logx"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestScheduleRunsUnit(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	var ran atomic.Bool
	s.Schedule("c1", NewUnit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))

	waitFor(t, time.Second, ran.Load)
	waitFor(t, time.Second, func() bool { return !s.Contains("c1") })
}

func TestScheduleDuplicateIDDiscardsNewUnit(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	block := make(chan struct{})
	var aRuns, bRuns atomic.Int32
	s.Schedule("c1", NewUnit(func(ctx context.Context) error {
		aRuns.Add(1)
		<-block
		return nil
	}))

	b := NewUnit(func(ctx context.Context) error {
		bRuns.Add(1)
		return nil
	})
	s.Schedule("c1", b)

	if !b.Discarded() {
		t.Fatal("second unit should be discarded")
	}
	close(block)
	waitFor(t, time.Second, func() bool { return !s.Contains("c1") })

	if aRuns.Load() != 1 || bRuns.Load() != 0 {
		t.Fatalf("runs = (%d, %d), want (1, 0)", aRuns.Load(), bRuns.Load())
	}
}

func TestScheduleLaterDuplicateIDDiscardsNewUnit(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	var runs atomic.Int32
	s.ScheduleLater(time.Hour, "c1", NewUnit(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	b := NewUnit(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.ScheduleLater(time.Hour, "c1", b)

	if !b.Discarded() {
		t.Fatal("superseded unit should be discarded, not left created")
	}
	s.CancelAll()
	if runs.Load() != 0 {
		t.Fatal("no unit body should have run")
	}
}

func TestScheduleStartedUnitPanics(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	done := make(chan struct{})
	u := NewUnit(func(ctx context.Context) error {
		close(done)
		return nil
	})
	s.Schedule("c1", u)
	<-done
	waitFor(t, time.Second, func() bool { return !s.Contains("c1") })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when scheduling a started unit")
		}
	}()
	s.Schedule("c2", u)
}

func TestScheduleLaterRunsOnce(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	var runs atomic.Int32
	s.ScheduleLater(50*time.Millisecond, "c1", NewUnit(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("unit ran %d times, want 1", got)
	}
	waitFor(t, time.Second, func() bool { return !s.Contains("c1") })
}

func TestCancelBeforeDelayElapsesDiscardsUnit(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	var runs atomic.Int32
	u := NewUnit(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.ScheduleLater(200*time.Millisecond, "c1", u)

	time.Sleep(10 * time.Millisecond)
	s.Cancel("c1")

	waitFor(t, time.Second, u.Discarded)
	time.Sleep(250 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("unit body ran despite cancellation during the delay")
	}
	if s.Contains("c1") {
		t.Fatal("cancelled task still tracked")
	}
}

func TestCancelAfterStartDoesNotInterrupt(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	started := make(chan struct{})
	var finished atomic.Bool
	s.ScheduleLater(10*time.Millisecond, "c1", NewUnit(func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
			finished.Store(true)
			return nil
		}
	}))

	<-started
	s.Cancel("c1") // too late; the unit is shielded

	waitFor(t, time.Second, finished.Load)
}

func TestScheduleAtPastTimeRunsImmediately(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	zones := []*time.Location{time.UTC, time.FixedZone("UTC+7", 7*3600), time.Local}
	for i, loc := range zones {
		var ran atomic.Bool
		s.ScheduleAt(time.Now().In(loc).Add(-time.Hour), i, NewUnit(func(ctx context.Context) error {
			ran.Store(true)
			return nil
		}))
		waitFor(t, time.Second, ran.Load)
	}
}

func TestScheduleAtFutureTime(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	var ran atomic.Bool
	s.ScheduleAt(time.Now().Add(40*time.Millisecond), "c1", NewUnit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))

	if ran.Load() {
		t.Fatal("unit ran before its scheduled time")
	}
	waitFor(t, time.Second, ran.Load)
}

func TestRescheduleAfterCompletionNotClobbered(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	// First task blocks until released; its completion must not remove the
	// task that replaced it under the same id.
	release := make(chan struct{})
	inFirst := make(chan struct{})
	s.Schedule("c1", NewUnit(func(ctx context.Context) error {
		close(inFirst)
		<-release
		return nil
	}))
	<-inFirst

	s.Cancel("c1") // removes the entry; the shielded body keeps running

	blockSecond := make(chan struct{})
	s.Schedule("c1", NewUnit(func(ctx context.Context) error {
		<-blockSecond
		return nil
	}))

	close(release) // first task finishes now
	time.Sleep(20 * time.Millisecond)

	if !s.Contains("c1") {
		t.Fatal("stale completion removed the rescheduled task")
	}
	close(blockSecond)
	waitFor(t, time.Second, func() bool { return !s.Contains("c1") })
}

func TestCancelMissingTaskIsNonFatal(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())
	s.Cancel("nope") // logged warning only
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	var runs atomic.Int32
	for i := 0; i < 5; i++ {
		s.ScheduleLater(time.Minute, i, NewUnit(func(ctx context.Context) error {
			runs.Add(1)
			return nil
		}))
	}
	if s.Len() != 5 {
		t.Fatalf("Len = %d, want 5", s.Len())
	}

	s.CancelAll()
	if s.Len() != 0 {
		t.Fatalf("Len after CancelAll = %d, want 0", s.Len())
	}
	if runs.Load() != 0 {
		t.Fatal("cancelled units must not run")
	}

	s.CancelAll() // safe with zero tasks
}

func TestTaskErrorIsContained(t *testing.T) {
	t.Parallel()
	s := New("test", logx.Nop())

	s.Schedule("bad", NewUnit(func(ctx context.Context) error {
		panic("boom")
	}))
	waitFor(t, time.Second, func() bool { return !s.Contains("bad") })

	// The scheduler survives; new work still runs.
	var ran atomic.Bool
	s.Schedule("ok", NewUnit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))
	waitFor(t, time.Second, ran.Load)
}
