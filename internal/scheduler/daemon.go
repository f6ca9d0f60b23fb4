package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/clock"
)

// DefaultInterval is how often the daemon reconciles schedules with reality.
const DefaultInterval = 30 * time.Second

// TemplateLifecycle is the slice of the template service the daemon drives.
type TemplateLifecycle interface {
	ActivateDueTemplates(ctx context.Context, now time.Time) (int, error)
	CompleteDueTemplates(ctx context.Context, now time.Time) (int, error)
}

// SessionSweeper is the slice of the session service the daemon drives.
type SessionSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Daemon periodically promotes scheduled templates, completes expired ones,
// and times out overdue sessions. It is the only component that moves
// lifecycle state without a user request, so everything it does must be safe
// to repeat: each pass re-reads state and the underlying transitions are
// compare-and-swap.
type Daemon struct {
	templates TemplateLifecycle
	sessions  SessionSweeper
	clock     clock.Clock
	interval  time.Duration
	logger    *slog.Logger
}

func NewDaemon(templates TemplateLifecycle, sessions SessionSweeper, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Daemon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Daemon{
		templates: templates,
		sessions:  sessions,
		clock:     clk,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs the reconcile loop until ctx is cancelled. One pass runs
// immediately so restarts recover overdue work without waiting a full tick.
func (d *Daemon) Start(ctx context.Context) {
	d.logger.Info("Scheduling daemon started", "interval", d.interval)

	d.RunTick(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Scheduling daemon stopped")
			return
		case <-ticker.C:
			d.RunTick(ctx)
		}
	}
}

// RunTick performs one reconcile pass: activations first, then completions,
// then the session sweep. Order matters: a template whose window both opened
// and closed since the last pass still ends Completed.
func (d *Daemon) RunTick(ctx context.Context) {
	now := d.clock.Now()

	activated, err := d.templates.ActivateDueTemplates(ctx, now)
	if err != nil {
		d.logger.Error("Template activation pass failed", "error", err)
	}

	completed, err := d.templates.CompleteDueTemplates(ctx, now)
	if err != nil {
		d.logger.Error("Template completion pass failed", "error", err)
	}

	swept, err := d.sessions.SweepExpired(ctx, now)
	if err != nil {
		d.logger.Error("Session sweep failed", "error", err)
	}

	if activated > 0 || completed > 0 || swept > 0 {
		d.logger.Info("Scheduler tick finished",
			"activated", activated,
			"completed", completed,
			"timed_out", swept)
	}
}
