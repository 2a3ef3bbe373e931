package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"hushbot/internal/config"
	"hushbot/internal/storage"
	logx "hushbot/pkg/logx"
)

const (
	defaultPruneSpec      = "@every 6h"
	defaultAuditRetention = 30 * 24 * time.Hour
)

// Janitor runs periodic maintenance: pruning old audit rows on a cron
// schedule. It is a no-op when storage is disabled or the config turns
// it off.
type Janitor struct {
	log       logx.Logger
	store     storage.Store
	retention time.Duration
	spec      string

	c *cron.Cron
}

func NewJanitor(cfg *config.JanitorConfig, store storage.Store, log logx.Logger) (*Janitor, error) {
	if cfg == nil || !cfg.Enabled || store == nil {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	spec := cfg.PruneSpec
	if spec == "" {
		spec = defaultPruneSpec
	}
	retention, err := config.ParseDurationOrDefault("janitor.audit_retention", cfg.AuditRetention, defaultAuditRetention)
	if err != nil {
		return nil, err
	}
	if retention <= 0 {
		return nil, fmt.Errorf("janitor.audit_retention must be positive")
	}

	j := &Janitor{
		log:       log.With(logx.String("comp", "janitor")),
		store:     store,
		retention: retention,
		spec:      spec,
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	j.c = cron.New(cron.WithParser(parser))
	if _, err := j.c.AddFunc(spec, j.prune); err != nil {
		return nil, fmt.Errorf("janitor.prune_spec: invalid %q: %w", spec, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	if j == nil {
		return
	}
	j.c.Start()
	j.log.Info("janitor started", logx.String("spec", j.spec), logx.Duration("retention", j.retention))
}

// Stop halts the cron loop and waits for a running job, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) {
	if j == nil {
		return
	}
	done := j.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		j.log.Warn("janitor stop timed out")
	}
}

func (j *Janitor) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	removed, err := j.store.PruneAudit(ctx, cutoff)
	if err != nil {
		j.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		j.log.Info("audit pruned", logx.Int64("removed", removed), logx.Time("cutoff", cutoff))
	} else {
		j.log.Debug("audit prune: nothing to remove", logx.Time("cutoff", cutoff))
	}
}
