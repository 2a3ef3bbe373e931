package silence

import (
	"context"
	"sync"
	"testing"
	"time"

	"hushbot/pkg/logx"
)

func testLogger() logx.Logger {
	return logx.Nop()
}

type alertCapture struct {
	mu    sync.Mutex
	texts []string
}

func (a *alertCapture) fn(_ context.Context, text string) {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.mu.Unlock()
}

func (a *alertCapture) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.texts)
}

func (a *alertCapture) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		return ""
	}
	return a.texts[len(a.texts)-1]
}

func TestNotifierStartsOnFirstAdd(t *testing.T) {
	t.Parallel()
	var rec alertCapture
	n := NewNotifier(testLogger(), rec.fn, WithTickInterval(5*time.Millisecond), WithReportEvery(2))
	defer n.Stop()

	if n.Running() {
		t.Fatal("notifier running before any chat was added")
	}
	n.Add(1)
	if !n.Running() {
		t.Fatal("notifier not running after Add")
	}
	waitFor(t, time.Second, func() bool { return rec.count() >= 1 })
}

func TestNotifierStopsWhenEmpty(t *testing.T) {
	t.Parallel()
	var rec alertCapture
	n := NewNotifier(testLogger(), rec.fn, WithTickInterval(5*time.Millisecond))
	defer n.Stop()

	n.Add(1)
	n.Add(2)
	n.Remove(1)
	if !n.Running() {
		t.Fatal("notifier stopped while a chat is still tracked")
	}
	n.Remove(2)
	if n.Running() {
		t.Fatal("notifier still running after last chat was removed")
	}
}

func TestNotifierRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	var rec alertCapture
	n := NewNotifier(testLogger(), rec.fn, WithTickInterval(5*time.Millisecond))
	defer n.Stop()

	n.Remove(42)
	n.Add(42)
	n.Remove(42)
	n.Remove(42)
	if n.Running() {
		t.Fatal("notifier running after add then remove")
	}
	if n.Tracked(42) {
		t.Fatal("chat still tracked after remove")
	}
}

func TestNotifierDuplicateAddKeepsStart(t *testing.T) {
	t.Parallel()
	var rec alertCapture
	n := NewNotifier(testLogger(), rec.fn, WithTickInterval(time.Minute), WithReportEvery(3))
	defer n.Stop()

	ctx := context.Background()
	n.Add(7)
	n.onTick(ctx)
	n.Add(7)
	if !n.Tracked(7) {
		t.Fatal("chat not tracked")
	}
	n.onTick(ctx)
	n.onTick(ctx)

	waitFor(t, time.Second, func() bool { return rec.count() >= 1 })
	if got, want := rec.last(), "Currently silenced with no expiry: chat 7 for 3 min"; got != want {
		t.Fatalf("report %q, want %q", got, want)
	}
}

func TestNotifierReportNamesChats(t *testing.T) {
	t.Parallel()
	var rec alertCapture
	titles := func(_ context.Context, chatID int64) string {
		if chatID == 9 {
			return "general"
		}
		return ""
	}
	n := NewNotifier(testLogger(), rec.fn,
		WithTickInterval(5*time.Millisecond), WithReportEvery(2), WithTitleFunc(titles))
	defer n.Stop()

	n.Add(9)
	waitFor(t, time.Second, func() bool { return rec.count() >= 1 })
	rec.mu.Lock()
	text := rec.texts[0]
	rec.mu.Unlock()
	if text != "Currently silenced with no expiry: general for 0 min" {
		t.Fatalf("unexpected report text %q", text)
	}
}

func TestNotifierReportCoversAllChats(t *testing.T) {
	t.Parallel()
	var rec alertCapture
	n := NewNotifier(testLogger(), rec.fn, WithTickInterval(time.Minute), WithReportEvery(3))
	defer n.Stop()

	ctx := context.Background()
	n.Add(1)
	n.onTick(ctx)
	n.Add(2)
	n.onTick(ctx)
	if rec.count() != 0 {
		t.Fatalf("report sent before the interval elapsed: %q", rec.last())
	}
	n.onTick(ctx)

	waitFor(t, time.Second, func() bool { return rec.count() >= 1 })
	want := "Currently silenced with no expiry: chat 1 for 3 min, chat 2 for 2 min"
	if got := rec.last(); got != want {
		t.Fatalf("report %q, want %q", got, want)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
