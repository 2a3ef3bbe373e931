package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "hushbot/pkg/logx"
)

// Store is the minimal persistence API used by the silence service and the
// app's audit subscriber.
type Store interface {
	PutSilence(ctx context.Context, e SilenceEntry) error
	DeleteSilence(ctx context.Context, chatID int64) error
	ListSilences(ctx context.Context) ([]SilenceEntry, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, olderThan time.Time) (removed int64, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
