package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage backs the moderation state that must survive restarts
	// (pending unsilence timestamps, previous chat permissions, audit log).
	Storage *StorageConfig `json:"storage,omitempty"`

	// Janitor controls periodic maintenance jobs (audit pruning, stats).
	Janitor *JanitorConfig `json:"janitor,omitempty"`

	// Silence tunes the silence service.
	Silence *SilenceConfig `json:"silence,omitempty"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// ModeratorIDs are user ids allowed to run moderation commands.
	ModeratorIDs []int64 `json:"moderator_ids"`

	// GroupLog is the chat id (as a string) receiving log forwards.
	GroupLog string `json:"group_log"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hushbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// JanitorConfig controls background maintenance.
//
// PruneSpec is a cron spec (or "@every <duration>"); AuditRetention is a
// Go duration string bounding how long audit rows are kept.
type JanitorConfig struct {
	Enabled        bool   `json:"enabled"`
	PruneSpec      string `json:"prune_spec,omitempty"`
	AuditRetention string `json:"audit_retention,omitempty"`
}

// SilenceConfig tunes the silence service.
//
// AlertChat is the chat id (as a string, like telegram.group_log) that
// receives indefinite-silence reminders and permission-restore warnings.
type SilenceConfig struct {
	AlertChat       string `json:"alert_chat,omitempty"`
	DefaultDuration string `json:"default_duration,omitempty"` // Go duration string
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so stale keys are caught early
// during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	p.Enabled = t.Enabled
	p.Config = t.Config
	return nil
}
