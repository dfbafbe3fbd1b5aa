package routestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner removes long-expired routes on a cron schedule.
type Pruner struct {
	store     *Store
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewPruner prunes routes expired for longer than retention, on schedule
// (standard five-field cron syntax or descriptors such as "@hourly").
func NewPruner(store *Store, schedule string, retention time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     store,
		schedule:  schedule,
		retention: retention,
		cron:      cron.New(),
		logger:    logger.With("component", "routestore.pruner"),
	}
}

// Start schedules pruning. An empty schedule disables it.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.schedule == "" {
		p.logger.Info("Prune schedule not configured, skipping")
		return nil
	}
	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.schedule, err)
	}
	if _, err := p.cron.AddFunc(p.schedule, func() { p.Run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("Route pruner started", "schedule", p.schedule, "retention", p.retention)
	return nil
}

// Run prunes once.
func (p *Pruner) Run(ctx context.Context) {
	n, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Error("Route pruning failed", "error", err)
		return
	}
	p.logger.Debug("Route pruning completed", "deleted", n)
}

// Stop stops the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		<-p.cron.Stop().Done()
		p.running = false
	}
}
