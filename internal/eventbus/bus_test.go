package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeSilenceStart, Data: int64(42)})

	select {
	case e := <-ch:
		if e.Type != TypeSilenceStart {
			t.Fatalf("Type = %q, want %q", e.Type, TypeSilenceStart)
		}
		if e.Time.IsZero() {
			t.Fatal("expected Publish to stamp Time")
		}
		if got, _ := e.Data.(int64); got != 42 {
			t.Fatalf("Data = %v, want 42", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // buffer full; must not block

	e := <-ch
	if e.Type != "a" {
		t.Fatalf("Type = %q, want %q", e.Type, "a")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %q", e.Type)
	default:
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic even though the channel is closed.
	b.Publish(Event{Type: TypeSilenceEnd})
}
