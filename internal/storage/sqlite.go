package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "hushbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS silences (
	chat_id    INTEGER PRIMARY KEY,
	prev_perms TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	at       TEXT NOT NULL,
	actor_id INTEGER NOT NULL DEFAULT 0,
	chat_id  INTEGER NOT NULL DEFAULT 0,
	action   TEXT NOT NULL,
	detail   TEXT,
	err      TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_at ON audit(at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutSilence(ctx context.Context, e SilenceEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO silences(chat_id, prev_perms, expires_at, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET prev_perms=excluded.prev_perms, expires_at=excluded.expires_at`,
		e.ChatID, e.PrevPerms, e.ExpiresAt, e.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteSilence(ctx context.Context, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM silences WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) ListSilences(ctx context.Context) ([]SilenceEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, prev_perms, expires_at, created_at FROM silences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SilenceEntry
	for rows.Next() {
		var e SilenceEntry
		var createdAt string
		if err := rows.Scan(&e.ChatID, &e.PrevPerms, &e.ExpiresAt, &createdAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, action, detail, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.ChatID, e.Action, nullStr(e.Detail), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
