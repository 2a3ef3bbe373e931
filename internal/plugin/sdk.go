// Package plugin defines the command-plugin surface: small units that
// register chat commands and receive their dependencies from the app.
package plugin

import (
	"context"
	"encoding/json"

	"hushbot/internal/config"
	"hushbot/internal/eventbus"
	"hushbot/internal/lock"
	"hushbot/internal/silence"
	"hushbot/internal/storage"
	kit "hushbot/internal/transport"
	logx "hushbot/pkg/logx"
)

// Access restricts who may invoke a command.
type Access int

const (
	AccessEveryone Access = iota
	AccessModerator
)

// Request carries one parsed command invocation.
type Request struct {
	Adapter kit.Adapter
	Chat    kit.ChatTarget
	Msg     *kit.Message
	Args    []string
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, nil)
	return err
}

// Command is one routable chat command.
type Command struct {
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Handle      func(ctx context.Context, req *Request) error
}

// Deps is everything the app hands to a plugin at Init time.
type Deps struct {
	Logger   logx.Logger
	Adapter  kit.Adapter
	Config   *config.Manager
	Bus      eventbus.Bus
	Store    storage.Store
	Locks    *lock.Registry
	Silencer *silence.Service
}

// Plugin is implemented by each command plugin.
type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigWatcher is an optional hook for plugins with their own config block.
type ConfigWatcher interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}
