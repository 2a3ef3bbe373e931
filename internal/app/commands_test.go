package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"hushbot/internal/plugin"
	kit "hushbot/internal/transport"
	logx "hushbot/pkg/logx"
)

type nullAdapter struct{}

func (nullAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (nullAdapter) Stop(context.Context) error                     { return nil }
func (nullAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		text  string
		route string
		args  []string
		ok    bool
	}{
		{name: "plain", text: "/ping", route: "ping", ok: true},
		{name: "with args", text: "/silence 10", route: "silence", args: []string{"10"}, ok: true},
		{name: "addressed", text: "/silence@hushbot forever", route: "silence", args: []string{"forever"}, ok: true},
		{name: "upper", text: "/PING", route: "ping", ok: true},
		{name: "padded", text: "  /ping  ", route: "ping", ok: true},
		{name: "not a command", text: "hello"},
		{name: "bare slash", text: "/"},
		{name: "only at", text: "/@hushbot"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			route, args, ok := parseCommand(tc.text)
			if ok != tc.ok {
				t.Fatalf("parseCommand(%q) ok = %v, want %v", tc.text, ok, tc.ok)
			}
			if !ok {
				return
			}
			if route != tc.route {
				t.Fatalf("route = %q, want %q", route, tc.route)
			}
			if len(args) != len(tc.args) {
				t.Fatalf("args = %v, want %v", args, tc.args)
			}
			for i := range args {
				if args[i] != tc.args[i] {
					t.Fatalf("args = %v, want %v", args, tc.args)
				}
			}
		})
	}
}

func TestDispatchRoutesAndAccess(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls []string
	record := func(name string) func(context.Context, *plugin.Request) error {
		return func(context.Context, *plugin.Request) error {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return nil
		}
	}

	m := NewCommandManager(logx.Nop(), nullAdapter{}, []int64{7})
	m.RegisterAll([]plugin.Command{
		{Route: "ping", Access: plugin.AccessEveryone, Handle: record("ping")},
		{Route: "silence", Aliases: []string{"hush"}, Access: plugin.AccessModerator, Handle: record("silence")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()

	send := func(fromID int64, text string) {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: fromID, Text: text, IsGroup: true}}
	}

	send(1, "/ping")       // everyone
	send(1, "/silence 5")  // denied: not a moderator
	send(7, "/hush 5")     // alias, moderator
	send(7, "/unknown")    // no route
	send(7, "not command") // ignored

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != "ping" || calls[1] != "silence" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestDispatchContainsPanics(t *testing.T) {
	t.Parallel()

	m := NewCommandManager(logx.Nop(), nullAdapter{}, nil)
	ran := make(chan struct{})
	m.RegisterAll([]plugin.Command{
		{Route: "boom", Access: plugin.AccessEveryone, Handle: func(context.Context, *plugin.Request) error {
			panic("kaboom")
		}},
		{Route: "after", Access: plugin.AccessEveryone, Handle: func(context.Context, *plugin.Request) error {
			close(ran)
			return nil
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 2)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: 1, Text: "/boom"}}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: 1, Text: "/after"}}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not survive a panicking handler")
	}
}
