package silence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hushbot/internal/eventbus"
	"hushbot/internal/lock"
	"hushbot/internal/sched"
	"hushbot/internal/storage"
	kit "hushbot/internal/transport"
	"hushbot/pkg/logx"
)

// Lock namespace for per-chat silence operations.
const lockNamespace = "silence"

var (
	// ErrAlreadySilenced is returned when silencing a chat that is already
	// silenced or whose default permissions already block messaging.
	ErrAlreadySilenced = errors.New("chat is already silenced")

	// ErrNotSilenced is returned when unsilencing a chat with no active
	// silence and unrestricted permissions.
	ErrNotSilenced = errors.New("chat is not silenced")

	// ErrNoModerator means the transport adapter cannot manage chat
	// permissions, so the service cannot operate.
	ErrNoModerator = errors.New("transport adapter does not support chat moderation")
)

// Config holds silence service tunables.
type Config struct {
	// DefaultDuration applies when no duration argument is given.
	DefaultDuration time.Duration

	// AlertChat receives notifier reports and permission-restore warnings.
	// Zero disables alerts.
	AlertChat int64

	// NotifyInterval and NotifyReportEvery tune the indefinite-silence
	// notifier. Zero values keep the defaults (1s ticks, report every
	// 900 ticks).
	NotifyInterval    time.Duration
	NotifyReportEvery uint64
}

// Change describes a silence state transition. It is the Data payload of
// eventbus silence events.
type Change struct {
	ChatID    int64
	ActorID   int64
	ExpiresAt int64 // unix seconds, storage.IndefiniteExpiry for none
	Detail    string
}

// Status describes one active silence for listing commands.
type Status struct {
	ChatID     int64
	Indefinite bool
	ExpiresAt  time.Time // zero when indefinite
}

// Service silences and unsilences group chats by rewriting their default
// member permissions. Every mutation of a chat runs under that chat's lock;
// concurrent attempts fail fast with *lock.LockedResourceError. Timed
// silences are lifted by a scheduled task, indefinite ones are tracked by
// the notifier until a moderator lifts them.
type Service struct {
	cfg      Config
	log      logx.Logger
	adapter  kit.Adapter
	mod      kit.ChatModerator
	locks    *lock.Registry
	tasks    *sched.Scheduler
	store    storage.Store // nil when storage is disabled
	bus      eventbus.Bus  // nil when eventing is disabled
	notifier *Notifier
	gate     *lock.SharedGate

	mu   sync.Mutex
	prev map[int64]kit.ChatPermissions // chat id -> permissions to restore
	ends map[int64]int64               // chat id -> expiry unix, IndefiniteExpiry for none
}

// NewService wires the silence service. The adapter must implement
// kit.ChatModerator or ErrNoModerator is returned. store and bus may be nil.
func NewService(cfg Config, adapter kit.Adapter, locks *lock.Registry, store storage.Store, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	mod, ok := adapter.(kit.ChatModerator)
	if !ok {
		return nil, ErrNoModerator
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 10 * time.Minute
	}
	log = log.With(logx.String("component", "silence"))

	s := &Service{
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		mod:     mod,
		locks:   locks,
		tasks:   sched.New("silence", log),
		store:   store,
		bus:     bus,
		gate:    lock.NewSharedGate(),
		prev:    make(map[int64]kit.ChatPermissions),
		ends:    make(map[int64]int64),
	}

	var opts []NotifierOption
	if cfg.NotifyInterval > 0 {
		opts = append(opts, WithTickInterval(cfg.NotifyInterval))
	}
	if cfg.NotifyReportEvery > 0 {
		opts = append(opts, WithReportEvery(cfg.NotifyReportEvery))
	}
	if titler, ok := adapter.(kit.ChatTitler); ok {
		opts = append(opts, WithTitleFunc(func(ctx context.Context, chatID int64) string {
			name, err := titler.ChatTitle(ctx, chatID)
			if err != nil {
				return ""
			}
			return name
		}))
	}
	s.notifier = NewNotifier(log, s.alert, opts...)
	return s, nil
}

// Silence mutes a chat for d, or until unsilenced when indefinite is set.
// A zero d uses the configured default. Returns ErrAlreadySilenced if the
// chat is silenced and *lock.LockedResourceError if another operation on
// the same chat is in flight.
func (s *Service) Silence(ctx context.Context, chatID, actorID int64, d time.Duration, indefinite bool) error {
	if d <= 0 {
		d = s.cfg.DefaultDuration
	}
	_, err := s.locks.Do(ctx, lockNamespace, chatID, lock.ModeFail, func(ctx context.Context) error {
		return s.silenceLocked(ctx, chatID, actorID, d, indefinite)
	})
	return err
}

func (s *Service) silenceLocked(ctx context.Context, chatID, actorID int64, d time.Duration, indefinite bool) error {
	if s.tasks.Contains(chatID) || s.notifier.Tracked(chatID) {
		return ErrAlreadySilenced
	}

	perms, err := s.mod.ChatPermissions(ctx, chatID)
	if err != nil {
		return fmt.Errorf("read chat permissions: %w", err)
	}
	if perms.Muted() {
		return ErrAlreadySilenced
	}

	if err := s.mod.SetChatPermissions(ctx, chatID, kit.ChatPermissions{}); err != nil {
		return fmt.Errorf("mute chat: %w", err)
	}

	now := time.Now()
	expiresAt := storage.IndefiniteExpiry
	if !indefinite {
		expiresAt = now.Add(d).Unix()
	}

	s.mu.Lock()
	s.prev[chatID] = perms
	s.ends[chatID] = expiresAt
	s.mu.Unlock()

	if s.store != nil {
		raw, merr := json.Marshal(perms)
		if merr != nil {
			raw = []byte("{}")
		}
		entry := storage.SilenceEntry{
			ChatID:    chatID,
			PrevPerms: string(raw),
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		if err := s.store.PutSilence(ctx, entry); err != nil {
			s.log.Error("failed to persist silence", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}

	if indefinite {
		s.notifier.Add(chatID)
		s.log.Info("chat silenced indefinitely", logx.Int64("chat_id", chatID), logx.Int64("actor_id", actorID))
	} else {
		s.tasks.ScheduleLater(d, chatID, sched.NewUnit(func(ctx context.Context) error {
			return s.expire(ctx, chatID)
		}))
		s.log.Info("chat silenced",
			logx.Int64("chat_id", chatID),
			logx.Int64("actor_id", actorID),
			logx.Duration("duration", d))
	}

	s.publish(eventbus.TypeSilenceStart, Change{
		ChatID:    chatID,
		ActorID:   actorID,
		ExpiresAt: expiresAt,
	})
	return nil
}

// Unsilence lifts a chat's silence and restores its previous permissions.
// Returns ErrNotSilenced when nothing is silenced, *lock.LockedResourceError
// when another operation on the chat is in flight.
func (s *Service) Unsilence(ctx context.Context, chatID, actorID int64) error {
	_, err := s.locks.Do(ctx, lockNamespace, chatID, lock.ModeFail, func(ctx context.Context) error {
		return s.unsilenceLocked(ctx, chatID, actorID, "unsilenced")
	})
	return err
}

// expire is the scheduled end of a timed silence. It waits for any in-flight
// command on the chat instead of failing, then lifts the silence.
func (s *Service) expire(ctx context.Context, chatID int64) error {
	_, err := s.locks.Do(ctx, lockNamespace, chatID, lock.ModeWait, func(ctx context.Context) error {
		err := s.unsilenceLocked(ctx, chatID, 0, "expired")
		if errors.Is(err, ErrNotSilenced) {
			// A moderator lifted it between the timer firing and the lock
			// being granted.
			return nil
		}
		return err
	})
	return err
}

func (s *Service) unsilenceLocked(ctx context.Context, chatID, actorID int64, detail string) error {
	s.gate.Enter()
	defer s.gate.Leave()

	s.mu.Lock()
	prev, known := s.prev[chatID]
	s.mu.Unlock()

	scheduled := s.tasks.Contains(chatID)
	tracked := s.notifier.Tracked(chatID)

	if !known && !scheduled && !tracked {
		perms, err := s.mod.ChatPermissions(ctx, chatID)
		if err != nil {
			return fmt.Errorf("read chat permissions: %w", err)
		}
		if !perms.Muted() {
			return ErrNotSilenced
		}
		// Muted but unknown to us: restore defaults and warn. This covers
		// silences from a previous run that never reached storage.
		prev = defaultPermissions()
		s.alert(ctx, fmt.Sprintf("Restored default permissions for chat %d; the original permissions were not recorded.", chatID))
	}

	if err := s.mod.SetChatPermissions(ctx, chatID, prev); err != nil {
		return fmt.Errorf("restore chat permissions: %w", err)
	}

	if scheduled {
		s.tasks.Cancel(chatID)
	}
	s.notifier.Remove(chatID)

	s.mu.Lock()
	delete(s.prev, chatID)
	delete(s.ends, chatID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteSilence(ctx, chatID); err != nil {
			s.log.Error("failed to delete persisted silence", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}

	s.log.Info("chat unsilenced",
		logx.Int64("chat_id", chatID),
		logx.Int64("actor_id", actorID),
		logx.String("reason", detail))
	s.publish(eventbus.TypeSilenceEnd, Change{
		ChatID:  chatID,
		ActorID: actorID,
		Detail:  detail,
	})
	return nil
}

// Silenced lists active silences sorted by chat id.
func (s *Service) Silenced() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.ends))
	for chatID, end := range s.ends {
		st := Status{ChatID: chatID}
		if end == storage.IndefiniteExpiry {
			st.Indefinite = true
		} else {
			st.ExpiresAt = time.Unix(end, 0)
		}
		out = append(out, st)
	}
	sortStatuses(out)
	return out
}

// Reconcile restores silence state from storage after a restart. Expired
// silences are lifted immediately, future ones are rescheduled, indefinite
// ones go back under notifier tracking.
func (s *Service) Reconcile(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	entries, err := s.store.ListSilences(ctx)
	if err != nil {
		return fmt.Errorf("list persisted silences: %w", err)
	}
	now := time.Now()
	for _, e := range entries {
		var perms kit.ChatPermissions
		if err := json.Unmarshal([]byte(e.PrevPerms), &perms); err != nil {
			s.log.Warn("unreadable stored permissions; will restore defaults",
				logx.Int64("chat_id", e.ChatID), logx.Err(err))
			perms = defaultPermissions()
		}

		s.mu.Lock()
		s.prev[e.ChatID] = perms
		s.ends[e.ChatID] = e.ExpiresAt
		s.mu.Unlock()

		switch {
		case e.Indefinite():
			s.notifier.Add(e.ChatID)
		case e.Expired(now):
			if err := s.expire(ctx, e.ChatID); err != nil {
				var lerr *lock.LockedResourceError
				if !errors.As(err, &lerr) {
					s.log.Error("failed to lift expired silence", logx.Int64("chat_id", e.ChatID), logx.Err(err))
				}
			}
		default:
			chatID := e.ChatID
			s.tasks.ScheduleAt(time.Unix(e.ExpiresAt, 0), chatID, sched.NewUnit(func(ctx context.Context) error {
				return s.expire(ctx, chatID)
			}))
		}
	}
	s.log.Info("silence state reconciled", logx.Int("entries", len(entries)))
	return nil
}

// Close cancels pending expirations, stops the notifier, and waits for any
// in-flight unsilence to finish. Chat permissions are left as they are;
// Reconcile restores the state on the next start.
func (s *Service) Close(ctx context.Context) error {
	s.tasks.CancelAll()
	s.notifier.Stop()
	return s.gate.Wait(ctx)
}

func (s *Service) alert(ctx context.Context, text string) {
	if s.cfg.AlertChat == 0 {
		return
	}
	if _, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: s.cfg.AlertChat}, text, nil); err != nil {
		s.log.Warn("failed to deliver alert", logx.Err(err))
	}
}

func (s *Service) publish(eventType string, c Change) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventType, Time: time.Now(), Data: c})
}

func defaultPermissions() kit.ChatPermissions {
	return kit.ChatPermissions{
		CanSendMessages: true,
		CanSendMedia:    true,
		CanSendOther:    true,
		CanAddPreviews:  true,
	}
}

func sortStatuses(s []Status) {
	sort.Slice(s, func(i, j int) bool { return s[i].ChatID < s[j].ChatID })
}
