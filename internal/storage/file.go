package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "hushbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.silences.json (snapshot, rewritten on every change)
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
//
// Silences change rarely (a handful of chats at most), so snapshot
// rewriting is cheaper than journaling.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	silencePath string
	silences    map[int64]SilenceEntry

	auditPath string
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	silencePath := prefix + ".silences.json"
	auditPath := prefix + ".audit.jsonl"

	silences := map[int64]SilenceEntry{}
	if err := loadSilenceSnapshot(silencePath, silences); err != nil {
		log.Warn("silence snapshot unreadable; starting empty", logx.String("path", silencePath), logx.Err(err))
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:         log,
		silencePath: silencePath,
		silences:    silences,
		auditPath:   auditPath,
		auditFile:   af,
	}, nil
}

func loadSilenceSnapshot(path string, into map[int64]SilenceEntry) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []SilenceEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		into[e.ChatID] = e
	}
	return nil
}

// writeSilenceSnapshotLocked writes atomically via rename so a crash during
// the write can't corrupt the snapshot.
func (s *fileStore) writeSilenceSnapshotLocked() error {
	entries := make([]SilenceEntry, 0, len(s.silences))
	for _, e := range s.silences {
		entries = append(entries, e)
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.silencePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.silencePath)
}

func (s *fileStore) PutSilence(ctx context.Context, e SilenceEntry) error {
	_ = ctx
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silences[e.ChatID] = e
	return s.writeSilenceSnapshotLocked()
}

func (s *fileStore) DeleteSilence(ctx context.Context, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.silences[chatID]; !ok {
		return nil
	}
	delete(s.silences, chatID)
	return s.writeSilenceSnapshotLocked()
}

func (s *fileStore) ListSilences(ctx context.Context) ([]SilenceEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SilenceEntry, 0, len(s.silences))
	for _, e := range s.silences {
		out = append(out, e)
	}
	return out, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// PruneAudit rewrites the audit file keeping only entries at or after olderThan.
func (s *fileStore) PruneAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auditFile == nil {
		return 0, errors.New("audit file closed")
	}

	in, err := os.Open(s.auditPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp := s.auditPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}

	var removed int64
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Keep unparseable lines; pruning must not destroy evidence.
			if _, err := out.WriteString(line + "\n"); err != nil {
				_ = out.Close()
				return removed, err
			}
			continue
		}
		if e.At.Before(olderThan) {
			removed++
			continue
		}
		if err := enc.Encode(e); err != nil {
			_ = out.Close()
			return removed, err
		}
	}
	if err := sc.Err(); err != nil {
		_ = out.Close()
		return removed, err
	}
	if err := out.Close(); err != nil {
		return removed, err
	}

	// Swap in the pruned file and reopen the append handle.
	_ = s.auditFile.Close()
	if err := os.Rename(tmp, s.auditPath); err != nil {
		return removed, err
	}
	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.auditFile = nil
		return removed, err
	}
	s.auditFile = af
	return removed, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}
