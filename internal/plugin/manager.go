package plugin

import (
	"context"
	"fmt"
	"sync"

	"hushbot/internal/config"
	logx "hushbot/pkg/logx"
)

// Manager owns plugin lifecycle: registration, init/start/stop in order,
// and per-plugin config fanout on hot reload.
type Manager struct {
	log  logx.Logger
	deps Deps

	mu      sync.Mutex
	plugins []Plugin
	started map[string]bool
}

func NewManager(log logx.Logger, deps Deps) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:     log,
		deps:    deps,
		started: make(map[string]bool),
	}
}

// Register adds a plugin. Must be called before StartAll.
func (m *Manager) Register(p Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = append(m.plugins, p)
}

// Plugins returns the registered plugins in registration order.
func (m *Manager) Plugins() []Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Plugin(nil), m.plugins...)
}

func (m *Manager) enabled(cfg *config.Config, name string) bool {
	if cfg == nil {
		return true
	}
	pc, ok := cfg.Plugins[name]
	if !ok {
		// Plugins are registered in code; absence from config means enabled.
		return true
	}
	return pc.Enabled
}

// StartAll inits and starts every enabled plugin in registration order.
// The first failure aborts the sequence.
func (m *Manager) StartAll(ctx context.Context, cfg *config.Config) error {
	for _, p := range m.Plugins() {
		name := p.Name()
		if !m.enabled(cfg, name) {
			m.log.Info("plugin disabled", logx.String("plugin", name))
			continue
		}
		if err := p.Init(ctx, m.deps); err != nil {
			return fmt.Errorf("init plugin %s: %w", name, err)
		}
		if cw, ok := p.(ConfigWatcher); ok && cfg != nil {
			if pc, ok := cfg.Plugins[name]; ok && len(pc.Config) > 0 {
				if err := cw.OnConfigChange(ctx, pc.Config); err != nil {
					return fmt.Errorf("configure plugin %s: %w", name, err)
				}
			}
		}
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start plugin %s: %w", name, err)
		}
		m.mu.Lock()
		m.started[name] = true
		m.mu.Unlock()
		m.log.Info("plugin started", logx.String("plugin", name))
	}
	return nil
}

// StopAll stops started plugins in reverse registration order. Stop errors
// are logged, not propagated; shutdown keeps going.
func (m *Manager) StopAll(ctx context.Context) {
	plugins := m.Plugins()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		name := p.Name()
		m.mu.Lock()
		started := m.started[name]
		delete(m.started, name)
		m.mu.Unlock()
		if !started {
			continue
		}
		if err := p.Stop(ctx); err != nil {
			m.log.Warn("plugin stop error", logx.String("plugin", name), logx.Err(err))
		}
	}
}

// OnConfigUpdate fans a reloaded config out to plugins that watch theirs.
func (m *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	for _, p := range m.Plugins() {
		cw, ok := p.(ConfigWatcher)
		if !ok {
			continue
		}
		pc, ok := cfg.Plugins[p.Name()]
		if !ok || len(pc.Config) == 0 {
			continue
		}
		if err := cw.OnConfigChange(ctx, pc.Config); err != nil {
			m.log.Warn("plugin rejected config update", logx.String("plugin", p.Name()), logx.Err(err))
		}
	}
}

// Commands collects the command tables of every started plugin.
func (m *Manager) Commands() []Command {
	var out []Command
	for _, p := range m.Plugins() {
		m.mu.Lock()
		started := m.started[p.Name()]
		m.mu.Unlock()
		if !started {
			continue
		}
		out = append(out, p.Commands()...)
	}
	return out
}
