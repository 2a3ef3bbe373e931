// Package app wires configuration, transport, storage, and the silence
// service into one runnable bot.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hushbot/internal/config"
	"hushbot/internal/eventbus"
	"hushbot/internal/lock"
	"hushbot/internal/plugin"
	rtsup "hushbot/internal/runtime/supervisor"
	"hushbot/internal/silence"
	"hushbot/internal/storage"
	kit "hushbot/internal/transport"
	telegram "hushbot/internal/transport/telegram/adapter"
	logx "hushbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	locks    *lock.Registry
	silencer *silence.Service
	janitor  *Janitor

	cmdm *CommandManager
	pm   *plugin.Manager

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging disabled, set the target, then Apply()
	// the final config, so Apply() cannot warn about a missing target.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if chatID, ok := parseChatID(cfg.Telegram.GroupLog); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	locks := lock.NewRegistry(log.With(logx.String("comp", "locks")))

	scfg, err := mapSilenceConfig(cfg)
	if err != nil {
		return nil, err
	}
	silencer, err := silence.NewService(scfg, ad, locks, store, bus, log)
	if err != nil {
		return nil, err
	}

	janitor, err := NewJanitor(cfg.Janitor, store, log)
	if err != nil {
		return nil, err
	}

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.ModeratorIDs)

	pm := plugin.NewManager(log.With(logx.String("comp", "plugins")), plugin.Deps{
		Logger:   log,
		Adapter:  ad,
		Config:   cfgm,
		Bus:      bus,
		Store:    store,
		Locks:    locks,
		Silencer: silencer,
	})

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		locks:    locks,
		silencer: silencer,
		janitor:  janitor,
		cmdm:     cmdm,
		pm:       pm,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Register adds a plugin. Call before Start.
func (a *App) Register(p plugin.Plugin) { a.pm.Register(p) }

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSilenceConfig(cfg); err != nil {
			return err
		}
		if cfg.Janitor != nil {
			if _, err := config.ParseDurationOrDefault("janitor.audit_retention", cfg.Janitor.AuditRetention, defaultAuditRetention); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// Restore persisted silences before accepting commands, so a silence
	// from the previous run cannot race a fresh one.
	if err := a.silencer.Reconcile(ctx); err != nil {
		a.log.Error("silence reconciliation failed", logx.Err(err))
	}

	if err := a.pm.StartAll(a.sup.Context(), a.cfgm.Get()); err != nil {
		return err
	}
	a.cmdm.RegisterAll(a.pm.Commands())

	a.janitor.Start()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// Persist silence lifecycle events as audit rows.
	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("audit.subscribe", func(c context.Context) {
			defer unsub()
			a.auditLoop(c, events)
		})
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifyReady(a.sup.Context(), a.log, a.sup.Go0)
	a.log.Info("app started")
	return nil
}

func (a *App) auditLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ch, ok := e.Data.(silence.Change)
			if !ok {
				continue
			}
			action := "silence"
			if e.Type == eventbus.TypeSilenceEnd {
				action = "unsilence"
			}
			entry := storage.AuditEntry{
				At:      e.Time,
				ActorID: ch.ActorID,
				ChatID:  ch.ChatID,
				Action:  action,
				Detail:  ch.Detail,
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := a.store.AppendAudit(wctx, entry); err != nil {
				a.log.Warn("audit append failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (a *App) applyConfig(prev, cfg *config.Config) {
	if cfg == nil {
		return
	}

	if chatID, ok := parseChatID(cfg.Telegram.GroupLog); ok {
		a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})

	a.cmdm.SetModerators(cfg.Telegram.ModeratorIDs)
	a.pm.OnConfigUpdate(a.sup.Context(), cfg)

	// Storage and silence tunables are wired at construction time.
	if changedSection(prev, cfg) {
		a.log.Warn("storage/silence config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	notifyStopping(a.log)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component cannot stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c); return nil })
	step("silence", 3*time.Second, func(c context.Context) error { return a.silencer.Close(c) })
	step("janitor", 2*time.Second, func(c context.Context) error { a.janitor.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapSilenceConfig(cfg *config.Config) (silence.Config, error) {
	out := silence.Config{}
	if cfg == nil || cfg.Silence == nil {
		return out, nil
	}
	d, err := config.ParseDurationOrDefault("silence.default_duration", cfg.Silence.DefaultDuration, 0)
	if err != nil {
		return out, err
	}
	if d > silence.MaxDuration {
		return out, fmt.Errorf("silence.default_duration must be at most %s", silence.MaxDuration)
	}
	out.DefaultDuration = d
	if raw := strings.TrimSpace(cfg.Silence.AlertChat); raw != "" {
		chatID, ok := parseChatID(raw)
		if !ok {
			return out, fmt.Errorf("silence.alert_chat: invalid chat id %q", raw)
		}
		out.AlertChat = chatID
	}
	return out, nil
}

func parseChatID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func changedSection(prev, next *config.Config) bool {
	if prev == nil || next == nil {
		return false
	}
	if (prev.Storage == nil) != (next.Storage == nil) {
		return true
	}
	if prev.Storage != nil && *prev.Storage != *next.Storage {
		return true
	}
	if (prev.Silence == nil) != (next.Silence == nil) {
		return true
	}
	if prev.Silence != nil && *prev.Silence != *next.Silence {
		return true
	}
	return false
}
