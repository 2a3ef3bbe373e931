package adapter

import (
	"strings"
	"testing"

	kit "hushbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	t.Run("short text is untouched", func(t *testing.T) {
		t.Parallel()
		got := splitTelegramText("hello", 100)
		if len(got) != 1 || got[0] != "hello" {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("splits long text", func(t *testing.T) {
		t.Parallel()
		in := strings.Repeat("a", 250)
		got := splitTelegramText(in, 100)
		if len(got) != 3 {
			t.Fatalf("expected 3 chunks, got %d", len(got))
		}
		for _, c := range got {
			if len(c) > 100 {
				t.Fatalf("chunk over limit: %d", len(c))
			}
		}
	})

	t.Run("prefers newline boundaries", func(t *testing.T) {
		t.Parallel()
		in := strings.Repeat("b", 80) + "\n" + strings.Repeat("c", 80)
		got := splitTelegramText(in, 100)
		if len(got) != 2 {
			t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
		}
		if strings.Contains(got[0], "c") || strings.Contains(got[1], "b") {
			t.Fatalf("split crossed newline boundary: %v", got)
		}
	})
}

func TestRightsRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []kit.ChatPermissions{
		{},
		{CanSendMessages: true},
		{CanSendMessages: true, CanSendMedia: true, CanSendOther: true, CanAddPreviews: true},
		{CanSendMedia: true},
	}
	for _, p := range cases {
		if got := fromRights(toRights(p)); got != p {
			t.Fatalf("round trip changed permissions: %+v -> %+v", p, got)
		}
	}
}
