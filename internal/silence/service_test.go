package silence

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hushbot/internal/eventbus"
	"hushbot/internal/lock"
	"hushbot/internal/storage"
	kit "hushbot/internal/transport"
)

// fakeChat is an in-memory transport adapter with moderator capability.
type fakeChat struct {
	mu    sync.Mutex
	perms map[int64]kit.ChatPermissions
	sent  []string
}

func newFakeChat() *fakeChat {
	return &fakeChat{perms: make(map[int64]kit.ChatPermissions)}
}

func (f *fakeChat) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeChat) Stop(ctx context.Context) error                         { return nil }

func (f *fakeChat) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (f *fakeChat) ChatPermissions(_ context.Context, chatID int64) (kit.ChatPermissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.perms[chatID]
	if !ok {
		return defaultPermissions(), nil
	}
	return p, nil
}

func (f *fakeChat) SetChatPermissions(_ context.Context, chatID int64, p kit.ChatPermissions) error {
	f.mu.Lock()
	f.perms[chatID] = p
	f.mu.Unlock()
	return nil
}

func (f *fakeChat) permsOf(chatID int64) kit.ChatPermissions {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.perms[chatID]
	if !ok {
		return defaultPermissions()
	}
	return p
}

func (f *fakeChat) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestService(t *testing.T, chat *fakeChat, store storage.Store) *Service {
	t.Helper()
	svc, err := NewService(Config{AlertChat: 99}, chat, lock.NewRegistry(testLogger()), store, eventbus.New(), testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc
}

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "hushbot")}, testLogger())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSilenceMutesAndExpiryRestores(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	chat.perms[10] = kit.ChatPermissions{CanSendMessages: true, CanSendMedia: true}
	svc := newTestService(t, chat, openTestStore(t))
	ctx := context.Background()

	if err := svc.Silence(ctx, 10, 1, 30*time.Millisecond, false); err != nil {
		t.Fatalf("Silence: %v", err)
	}
	if !chat.permsOf(10).Muted() {
		t.Fatal("chat not muted after Silence")
	}
	if got := svc.Silenced(); len(got) != 1 || got[0].ChatID != 10 || got[0].Indefinite {
		t.Fatalf("unexpected Silenced() = %+v", got)
	}

	waitFor(t, 2*time.Second, func() bool { return !chat.permsOf(10).Muted() })
	want := kit.ChatPermissions{CanSendMessages: true, CanSendMedia: true}
	if got := chat.permsOf(10); got != want {
		t.Fatalf("restored permissions %+v, want %+v", got, want)
	}
	waitFor(t, time.Second, func() bool { return len(svc.Silenced()) == 0 })
}

func TestSilenceTwiceReturnsAlreadySilenced(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	svc := newTestService(t, chat, nil)
	ctx := context.Background()

	if err := svc.Silence(ctx, 20, 1, time.Hour, false); err != nil {
		t.Fatalf("first Silence: %v", err)
	}
	if err := svc.Silence(ctx, 20, 1, time.Hour, false); !errors.Is(err, ErrAlreadySilenced) {
		t.Fatalf("second Silence error = %v, want ErrAlreadySilenced", err)
	}
}

func TestSilenceIndefiniteTracksNotifier(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	svc := newTestService(t, chat, nil)
	ctx := context.Background()

	if err := svc.Silence(ctx, 30, 1, 0, true); err != nil {
		t.Fatalf("Silence: %v", err)
	}
	if !svc.notifier.Tracked(30) {
		t.Fatal("indefinite silence not tracked by notifier")
	}
	if got := svc.Silenced(); len(got) != 1 || !got[0].Indefinite {
		t.Fatalf("unexpected Silenced() = %+v", got)
	}

	if err := svc.Unsilence(ctx, 30, 2); err != nil {
		t.Fatalf("Unsilence: %v", err)
	}
	if svc.notifier.Tracked(30) || svc.notifier.Running() {
		t.Fatal("notifier still tracking after Unsilence")
	}
}

func TestUnsilenceWithoutSilenceReturnsNotSilenced(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	svc := newTestService(t, chat, nil)

	if err := svc.Unsilence(context.Background(), 40, 1); !errors.Is(err, ErrNotSilenced) {
		t.Fatalf("Unsilence error = %v, want ErrNotSilenced", err)
	}
}

func TestUnsilenceRestoresPreviousPermissions(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	prev := kit.ChatPermissions{CanSendMessages: true}
	chat.perms[50] = prev
	svc := newTestService(t, chat, nil)
	ctx := context.Background()

	if err := svc.Silence(ctx, 50, 1, time.Hour, false); err != nil {
		t.Fatalf("Silence: %v", err)
	}
	if err := svc.Unsilence(ctx, 50, 1); err != nil {
		t.Fatalf("Unsilence: %v", err)
	}
	if got := chat.permsOf(50); got != prev {
		t.Fatalf("permissions after Unsilence = %+v, want %+v", got, prev)
	}
	if svc.tasks.Contains(int64(50)) {
		t.Fatal("expiry task still scheduled after Unsilence")
	}
}

func TestUnsilenceUnknownMutedChatRestoresDefaults(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	chat.perms[60] = kit.ChatPermissions{}
	svc := newTestService(t, chat, nil)

	if err := svc.Unsilence(context.Background(), 60, 1); err != nil {
		t.Fatalf("Unsilence: %v", err)
	}
	if got := chat.permsOf(60); got != defaultPermissions() {
		t.Fatalf("permissions = %+v, want defaults", got)
	}
	texts := chat.sentTexts()
	if len(texts) != 1 || !strings.Contains(texts[0], "not recorded") {
		t.Fatalf("expected a restore warning alert, got %v", texts)
	}
}

func TestConcurrentOperationFailsWithLockedResource(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	svc := newTestService(t, chat, nil)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = svc.locks.Do(ctx, lockNamespace, int64(70), lock.ModeWait, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := svc.Silence(ctx, 70, 1, time.Hour, false)
	var lerr *lock.LockedResourceError
	if !errors.As(err, &lerr) {
		t.Fatalf("Silence error = %v, want *lock.LockedResourceError", err)
	}
	if lerr.Type != lockNamespace || lerr.ID != int64(70) {
		t.Fatalf("unexpected lock error fields: %+v", lerr)
	}
}

func TestReconcileRestoresState(t *testing.T) {
	t.Parallel()
	chat := newFakeChat()
	st := openTestStore(t)
	ctx := context.Background()

	mustPut := func(e storage.SilenceEntry) {
		t.Helper()
		if err := st.PutSilence(ctx, e); err != nil {
			t.Fatalf("PutSilence: %v", err)
		}
	}
	prevJSON := func(p kit.ChatPermissions) string {
		raw, _ := json.Marshal(p)
		return string(raw)
	}
	now := time.Now()
	open := kit.ChatPermissions{CanSendMessages: true, CanSendMedia: true}
	mustPut(storage.SilenceEntry{ChatID: 100, PrevPerms: prevJSON(open), ExpiresAt: storage.IndefiniteExpiry, CreatedAt: now})
	mustPut(storage.SilenceEntry{ChatID: 101, PrevPerms: prevJSON(open), ExpiresAt: now.Add(-time.Minute).Unix(), CreatedAt: now.Add(-time.Hour)})
	mustPut(storage.SilenceEntry{ChatID: 102, PrevPerms: prevJSON(open), ExpiresAt: now.Add(time.Hour).Unix(), CreatedAt: now})
	chat.perms[100] = kit.ChatPermissions{}
	chat.perms[101] = kit.ChatPermissions{}
	chat.perms[102] = kit.ChatPermissions{}

	svc := newTestService(t, chat, st)
	if err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !svc.notifier.Tracked(100) {
		t.Fatal("indefinite silence not re-tracked")
	}
	if got := chat.permsOf(101); got != open {
		t.Fatalf("expired silence not lifted, permissions = %+v", got)
	}
	if !svc.tasks.Contains(int64(102)) {
		t.Fatal("future silence not rescheduled")
	}
	if !chat.permsOf(102).Muted() {
		t.Fatal("future silence should stay muted")
	}
}
