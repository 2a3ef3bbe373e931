package silence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hushbot/pkg/logx"
)

// AlertFunc delivers a notifier report to the moderator channel.
type AlertFunc func(ctx context.Context, text string)

// TitleFunc resolves a chat id to a display name for reports. Optional.
type TitleFunc func(ctx context.Context, chatID int64) string

// Notifier periodically reminds moderators about chats that are silenced
// with no scheduled expiry. The loop only runs while at least one chat is
// tracked: the first Add starts it, the Remove that empties the set stops
// it. Every reportEvery ticks the loop posts one consolidated report
// covering all tracked chats with how long each has been silenced.
type Notifier struct {
	log         logx.Logger
	alert       AlertFunc
	title       TitleFunc
	interval    time.Duration
	reportEvery uint64

	mu      sync.Mutex
	tracked map[int64]uint64
	tick    uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithTickInterval overrides the loop interval. Used by tests.
func WithTickInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.interval = d
		}
	}
}

// WithReportEvery overrides the number of ticks between reports.
func WithReportEvery(ticks uint64) NotifierOption {
	return func(n *Notifier) {
		if ticks > 0 {
			n.reportEvery = ticks
		}
	}
}

// WithTitleFunc sets a chat title resolver for report formatting.
func WithTitleFunc(fn TitleFunc) NotifierOption {
	return func(n *Notifier) {
		n.title = fn
	}
}

// NewNotifier builds a stopped notifier. alert must not be nil.
func NewNotifier(log logx.Logger, alert AlertFunc, opts ...NotifierOption) *Notifier {
	if alert == nil {
		panic("silence: nil alert func")
	}
	n := &Notifier{
		log:         log.With(logx.String("component", "silence_notifier")),
		alert:       alert,
		interval:    time.Second,
		reportEvery: 900,
		tracked:     make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Add starts tracking a chat. The loop starts if it was not running.
// Adding an already tracked chat keeps its original start tick, so the
// reported duration keeps counting from the first Add.
func (n *Notifier) Add(chatID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.tracked[chatID]; ok {
		return
	}
	n.tracked[chatID] = n.tick
	n.log.Info("tracking indefinitely silenced chat", logx.Int64("chat_id", chatID))
	if n.cancel == nil {
		n.startLocked()
	}
}

// Remove stops tracking a chat. Removing an untracked chat is a no-op.
// The loop stops once the set is empty.
func (n *Notifier) Remove(chatID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.tracked[chatID]; !ok {
		return
	}
	delete(n.tracked, chatID)
	n.log.Info("stopped tracking chat", logx.Int64("chat_id", chatID))
	if len(n.tracked) == 0 {
		n.stopLocked()
	}
}

// Tracked reports whether a chat is currently tracked.
func (n *Notifier) Tracked(chatID int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.tracked[chatID]
	return ok
}

// Running reports whether the loop goroutine is active.
func (n *Notifier) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancel != nil
}

// Stop halts the loop regardless of tracked chats. Tracked state is kept,
// so a later Add of a new chat restarts reporting.
func (n *Notifier) Stop() {
	n.mu.Lock()
	done := n.done
	n.stopLocked()
	n.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (n *Notifier) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	n.tick = 0
	for chatID := range n.tracked {
		n.tracked[chatID] = 0
	}
	go n.loop(ctx, n.done)
	n.log.Debug("notifier loop started")
}

func (n *Notifier) stopLocked() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	n.cancel = nil
	n.done = nil
	n.log.Debug("notifier loop stopped")
}

func (n *Notifier) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.onTick(ctx)
		}
	}
}

func (n *Notifier) onTick(ctx context.Context) {
	type entry struct {
		chatID int64
		since  time.Duration
	}

	n.mu.Lock()
	n.tick++
	if n.tick%n.reportEvery != 0 {
		n.mu.Unlock()
		return
	}
	entries := make([]entry, 0, len(n.tracked))
	for chatID, added := range n.tracked {
		entries = append(entries, entry{chatID, time.Duration(n.tick-added) * n.interval})
	}
	n.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].chatID < entries[j].chatID })
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s for %d min", n.chatName(ctx, e.chatID), int64(e.since/time.Minute)))
	}
	n.alert(ctx, fmt.Sprintf("Currently silenced with no expiry: %s", strings.Join(parts, ", ")))
}

func (n *Notifier) chatName(ctx context.Context, chatID int64) string {
	if n.title != nil {
		if name := n.title(ctx, chatID); name != "" {
			return name
		}
	}
	return fmt.Sprintf("chat %d", chatID)
}
