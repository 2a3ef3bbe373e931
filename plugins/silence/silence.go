// Package silence exposes the silence service as chat commands.
package silence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hushbot/internal/lock"
	"hushbot/internal/plugin"
	core "hushbot/internal/silence"
	logx "hushbot/pkg/logx"
)

type Config struct {
	DefaultMinutes int `json:"default_minutes"`
}

type Plugin struct {
	log  logx.Logger
	cfg  Config
	deps plugin.Deps
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "silence" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	if deps.Silencer == nil {
		return errors.New("silence service not available")
	}
	p.deps = deps
	p.log = deps.Logger.With(logx.String("plugin", p.Name()))
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	if c.DefaultMinutes < 0 || time.Duration(c.DefaultMinutes)*time.Minute > core.MaxDuration {
		return fmt.Errorf("default_minutes must be between 0 and %d", int(core.MaxDuration.Minutes()))
	}
	p.cfg = c
	return nil
}

func (p *Plugin) Start(ctx context.Context) error { return nil }
func (p *Plugin) Stop(ctx context.Context) error  { return nil }

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "silence",
			Aliases:     []string{"hush"},
			Description: "silence the current chat",
			Usage:       "/silence [minutes|forever]",
			Access:      plugin.AccessModerator,
			Handle:      p.handleSilence,
		},
		{
			Route:       "unsilence",
			Aliases:     []string{"unhush"},
			Description: "unsilence the current chat",
			Usage:       "/unsilence",
			Access:      plugin.AccessModerator,
			Handle:      p.handleUnsilence,
		},
		{
			Route:       "silenced",
			Description: "list active silences",
			Usage:       "/silenced",
			Access:      plugin.AccessModerator,
			Handle:      p.handleSilenced,
		},
	}
}

func (p *Plugin) handleSilence(ctx context.Context, req *plugin.Request) error {
	if !req.Msg.IsGroup {
		return req.Reply(ctx, "This command only works in group chats.")
	}

	d := time.Duration(p.cfg.DefaultMinutes) * time.Minute
	indefinite := false
	if len(req.Args) > 0 {
		var err error
		d, indefinite, err = core.ParseHushDuration(req.Args[0])
		if err != nil {
			return req.Reply(ctx, fmt.Sprintf("⚠️ %v", err))
		}
	}

	err := p.deps.Silencer.Silence(ctx, req.Chat.ChatID, req.Msg.FromID, d, indefinite)
	switch {
	case err == nil:
		if indefinite {
			return req.Reply(ctx, "✅ Silenced this chat indefinitely.")
		}
		if d <= 0 {
			return req.Reply(ctx, "✅ Silenced this chat.")
		}
		return req.Reply(ctx, fmt.Sprintf("✅ Silenced this chat for %d minute(s).", int(d.Minutes())))
	case errors.Is(err, core.ErrAlreadySilenced):
		return req.Reply(ctx, "⚠️ This chat is already silenced.")
	default:
		return p.replyBusyOrFail(ctx, req, err, "silence")
	}
}

func (p *Plugin) handleUnsilence(ctx context.Context, req *plugin.Request) error {
	if !req.Msg.IsGroup {
		return req.Reply(ctx, "This command only works in group chats.")
	}

	err := p.deps.Silencer.Unsilence(ctx, req.Chat.ChatID, req.Msg.FromID)
	switch {
	case err == nil:
		return req.Reply(ctx, "✅ Unsilenced this chat.")
	case errors.Is(err, core.ErrNotSilenced):
		return req.Reply(ctx, "⚠️ This chat is not silenced.")
	default:
		return p.replyBusyOrFail(ctx, req, err, "unsilence")
	}
}

func (p *Plugin) handleSilenced(ctx context.Context, req *plugin.Request) error {
	active := p.deps.Silencer.Silenced()
	if len(active) == 0 {
		return req.Reply(ctx, "No chats are currently silenced.")
	}
	var b strings.Builder
	b.WriteString("Currently silenced:\n")
	for _, st := range active {
		if st.Indefinite {
			fmt.Fprintf(&b, "• %d — indefinitely\n", st.ChatID)
			continue
		}
		fmt.Fprintf(&b, "• %d — until %s\n", st.ChatID, st.ExpiresAt.Format("15:04:05 MST"))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (p *Plugin) replyBusyOrFail(ctx context.Context, req *plugin.Request, err error, action string) error {
	var lerr *lock.LockedResourceError
	if errors.As(err, &lerr) {
		return req.Reply(ctx, "⏳ Another moderation action on this chat is still in progress; try again shortly.")
	}
	p.log.Error("command failed",
		logx.String("action", action),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Err(err))
	return req.Reply(ctx, fmt.Sprintf("❌ Failed to %s this chat.", action))
}
