package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "hushbot/internal/runtime/supervisor"
	kit "hushbot/internal/transport"
	logx "hushbot/pkg/logx"
)

// Config configures the Telegram adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		up := kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			},
		}
		a.sendUpdate(up)
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				// Final flush.
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// Ensure we stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	sup.Go0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown on a Telegram long-poll.
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}

	sup.Cancel()
	if a.bot != nil {
		go a.bot.Stop()
	}

	// Grace window: keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send
// to Telegram, preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						end = i + 1
					}
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitTelegramText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				if first.ChatID != 0 {
					return first, ctx.Err()
				}
				return kit.MessageRef{}, ctx.Err()
			default:
			}
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}

		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}

	return first, nil
}

// ChatPermissions reads the default member permissions of a group chat.
func (a *Adapter) ChatPermissions(ctx context.Context, chatID int64) (kit.ChatPermissions, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.ChatPermissions{}, err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return kit.ChatPermissions{}, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat.Permissions == nil {
		// Telegram omits permissions for chats without restrictions.
		return kit.ChatPermissions{CanSendMessages: true, CanSendMedia: true, CanSendOther: true, CanAddPreviews: true}, nil
	}
	return fromRights(*chat.Permissions), nil
}

// SetChatPermissions rewrites the default member permissions of a group chat.
func (a *Adapter) SetChatPermissions(ctx context.Context, chatID int64, p kit.ChatPermissions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := a.bot.SetGroupPermissions(&tele.Chat{ID: chatID}, toRights(p)); err != nil {
		return fmt.Errorf("set permissions for chat %d: %w", chatID, err)
	}
	return nil
}

// ChatTitle resolves a chat's display title.
func (a *Adapter) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return "", err
	}
	return chat.Title, nil
}

func fromRights(r tele.Rights) kit.ChatPermissions {
	return kit.ChatPermissions{
		CanSendMessages: r.CanSendMessages,
		CanSendMedia: r.CanSendPhotos || r.CanSendVideos || r.CanSendAudios ||
			r.CanSendDocuments || r.CanSendVideoNotes || r.CanSendVoiceNotes,
		CanSendOther:   r.CanSendOther,
		CanAddPreviews: r.CanAddPreviews,
	}
}

func toRights(p kit.ChatPermissions) tele.Rights {
	return tele.Rights{
		CanSendMessages:   p.CanSendMessages,
		CanSendPhotos:     p.CanSendMedia,
		CanSendVideos:     p.CanSendMedia,
		CanSendAudios:     p.CanSendMedia,
		CanSendDocuments:  p.CanSendMedia,
		CanSendVideoNotes: p.CanSendMedia,
		CanSendVoiceNotes: p.CanSendMedia,
		CanSendPolls:      p.CanSendOther,
		CanSendOther:      p.CanSendOther,
		CanAddPreviews:    p.CanAddPreviews,
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
