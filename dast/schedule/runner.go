package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/scan"
)

// Starter launches scans for fired schedules.
type Starter interface {
	StartScan(ctx context.Context, req scan.StartRequest) (*model.Scan, error)
}

// Runner polls for due schedules and fires them. Each tick is
// independent: a schedule that fails to fire stays due and is retried on
// the next tick, so a transient conflict (a manual scan still running)
// resolves itself without bookkeeping.
type Runner struct {
	service *Service
	starter Starter
	events  *scan.EventRecorder
	// Interval between due-schedule checks. Zero means 30s.
	Interval time.Duration
}

func NewRunner(service *Service, starter Starter, events *scan.EventRecorder) *Runner {
	return &Runner{service: service, starter: starter, events: events}
}

// Run blocks until ctx is cancelled, checking for due schedules every
// interval.
func (r *Runner) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Schedule runner started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Schedule runner stopped")
			return
		case now := <-ticker.C:
			r.Tick(ctx, now.UTC())
		}
	}
}

// Tick fires every schedule due at now. Exported so tests and manual
// trigger endpoints can drive the runner without the ticker.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	due, err := r.service.ListDue(now)
	if err != nil {
		slog.Error("Failed to list due schedules", "error", err)
		return
	}
	for i := range due {
		r.fire(ctx, &due[i], now)
	}
}

func (r *Runner) fire(ctx context.Context, sched *model.Schedule, now time.Time) {
	s, err := r.starter.StartScan(ctx, scan.StartRequest{
		TargetID:  sched.TargetID,
		TargetURL: sched.TargetURL,
		Profile:   sched.Profile,
	})
	if err != nil {
		// Left due: the next tick retries.
		slog.Warn("Scheduled scan failed to start",
			"schedule_id", sched.ID,
			"target_id", sched.TargetID,
			"error", err)
		r.events.Record(scan.EventScheduleFailed, "warn", "", sched.TargetID,
			"schedule "+sched.Name+" failed to start: "+err.Error())
		return
	}

	if err := r.service.MarkFired(sched, s.ID, now); err != nil {
		slog.Error("Failed to record schedule fire",
			"schedule_id", sched.ID, "scan_id", s.ID, "error", err)
	}
	slog.Info("Schedule fired",
		"schedule_id", sched.ID,
		"target_id", sched.TargetID,
		"scan_id", s.ID,
		"next_run_at", sched.NextRunAt)
	r.events.Record(scan.EventScheduleFired, "info", s.ID, sched.TargetID,
		"schedule "+sched.Name+" started a scan")
}
