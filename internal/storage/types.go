package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// IndefiniteExpiry marks a silence with no scheduled end.
const IndefiniteExpiry int64 = -1

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (JSON snapshot + audit jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SilenceEntry records one active silence.
//
// PrevPerms is the JSON-encoded permission set to restore on unsilence.
// ExpiresAt is a unix timestamp (seconds); IndefiniteExpiry means the
// silence has no expiry and stays until explicitly removed.
type SilenceEntry struct {
	ChatID    int64     `json:"chat_id"`
	PrevPerms string    `json:"prev_perms"`
	ExpiresAt int64     `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (e SilenceEntry) Indefinite() bool { return e.ExpiresAt == IndefiniteExpiry }

// Expired reports whether the entry's expiry has passed at the given time.
func (e SilenceEntry) Expired(now time.Time) bool {
	return !e.Indefinite() && now.Unix() >= e.ExpiresAt
}

// AuditEntry records a moderation action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	ChatID  int64     `json:"chat_id"`
	Action  string    `json:"action"`
	Detail  string    `json:"detail,omitempty"`
	Error   string    `json:"err,omitempty"`
}
