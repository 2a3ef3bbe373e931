package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"hushbot/internal/plugin"
	kit "hushbot/internal/transport"
	logx "hushbot/pkg/logx"
)

const commandTimeout = 30 * time.Second

// CommandManager routes incoming chat messages to plugin commands.
type CommandManager struct {
	log     logx.Logger
	adapter kit.Adapter

	mu     sync.RWMutex
	routes map[string]plugin.Command
	mods   map[int64]struct{}
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, moderatorIDs []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		log:     log,
		adapter: adapter,
		routes:  make(map[string]plugin.Command),
	}
	m.SetModerators(moderatorIDs)
	return m
}

// SetModerators replaces the moderator id set. Safe during dispatch.
func (m *CommandManager) SetModerators(ids []int64) {
	mods := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		mods[id] = struct{}{}
	}
	m.mu.Lock()
	m.mods = mods
	m.mu.Unlock()
}

// RegisterAll installs a plugin command table. Later registrations win on
// route collisions, which is logged.
func (m *CommandManager) RegisterAll(cmds []plugin.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		for _, route := range append([]string{c.Route}, c.Aliases...) {
			route = strings.ToLower(strings.TrimSpace(route))
			if route == "" {
				continue
			}
			if _, dup := m.routes[route]; dup {
				m.log.Warn("duplicate command route", logx.String("route", route))
			}
			m.routes[route] = c
		}
	}
}

func (m *CommandManager) lookup(route string) (plugin.Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.routes[route]
	return c, ok
}

func (m *CommandManager) isModerator(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.mods[userID]
	return ok
}

// DispatchLoop consumes updates until ctx is cancelled or the channel
// closes. Each command runs inline with a bounded context; a panicking
// handler is contained and logged.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			m.handleMessage(ctx, up.Message)
		}
	}
}

func (m *CommandManager) handleMessage(ctx context.Context, msg *kit.Message) {
	route, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, ok := m.lookup(route)
	if !ok {
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == plugin.AccessModerator && !m.isModerator(msg.FromID) {
		m.log.Debug("command denied",
			logx.String("route", route),
			logx.Int64("from_id", msg.FromID),
			logx.Int64("chat_id", msg.ChatID))
		return
	}

	req := &plugin.Request{Adapter: m.adapter, Chat: chat, Msg: msg, Args: args}
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	start := time.Now()
	err := m.invoke(cctx, cmd, req)
	if err != nil {
		m.log.Warn("command error",
			logx.String("route", route),
			logx.Int64("chat_id", msg.ChatID),
			logx.Err(err))
		return
	}
	m.log.Debug("command handled",
		logx.String("route", route),
		logx.Int64("chat_id", msg.ChatID),
		logx.Duration("took", time.Since(start)))
}

func (m *CommandManager) invoke(ctx context.Context, cmd plugin.Command, req *plugin.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in command %s: %v", cmd.Route, r)
			m.log.Error("command panicked",
				logx.String("route", cmd.Route),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return cmd.Handle(ctx, req)
}

// parseCommand extracts the route and args from "/route[@botname] args...".
func parseCommand(text string) (route string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	route = strings.ToLower(fields[0])
	// Group chats address commands as /cmd@botname.
	if i := strings.IndexByte(route, '@'); i >= 0 {
		route = route[:i]
	}
	if route == "" {
		return "", nil, false
	}
	return route, fields[1:], true
}
