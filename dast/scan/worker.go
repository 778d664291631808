package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mqxerror/qa-guardian/dast/finding"
	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
	"github.com/mqxerror/qa-guardian/dast/scope"
	"github.com/mqxerror/qa-guardian/dast/store"
)

type cmdKind int

const (
	cmdProgress cmdKind = iota
	cmdAlert
	cmdCancel
	cmdDone
)

// command is one message to the scan's owning worker. All state mutation
// for a scan flows through its command channel, which gives the
// single-writer guarantee: readers always see fully-formed snapshots.
type command struct {
	kind     cmdKind
	progress model.Progress
	alert    RawAlert
	err      error
	stats    model.Statistics
}

// worker owns one scan record from start to terminal state.
type worker struct {
	scan    model.Scan
	scope   ScanScope
	repo    *postgres.Repository
	cache   *store.ProgressCache
	backend Backend
	events  *EventRecorder

	commands  chan command
	cancel    context.CancelFunc
	cancelled bool
	lastPct   int
	onDone    func()
}

func newWorker(s model.Scan, sc ScanScope, repo *postgres.Repository, cache *store.ProgressCache, backend Backend, events *EventRecorder, onDone func()) *worker {
	return &worker{
		scan:     s,
		scope:    sc,
		repo:     repo,
		cache:    cache,
		backend:  backend,
		events:   events,
		commands: make(chan command, 128),
		onDone:   onDone,
	}
}

// requestCancel asks the worker to stop between phases. Safe to call from
// any goroutine; the buffered channel makes it non-blocking in practice.
func (w *worker) requestCancel() {
	select {
	case w.commands <- command{kind: cmdCancel}:
	default:
	}
}

// run is the single writer for this scan. It consumes commands from the
// driver goroutine (and cancellation requests from the manager) until the
// scan reaches a terminal state.
func (w *worker) run() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	defer cancel()

	go w.drive(ctx)

	for c := range w.commands {
		switch c.kind {
		case cmdProgress:
			w.applyProgress(c.progress)
		case cmdAlert:
			w.applyAlert(c.alert)
		case cmdCancel:
			if !w.cancelled {
				w.cancelled = true
				w.cancel()
			}
		case cmdDone:
			w.finalize(c.err, c.stats)
			if w.onDone != nil {
				w.onDone()
			}
			return
		}
	}
}

// drive executes the scan phases in strict order, streaming progress and
// alerts to the worker loop. It checks for cancellation between phases;
// in-flight backend calls are interrupted through ctx.
func (w *worker) drive(ctx context.Context) {
	var stats model.Statistics
	start := time.Now()

	done := func(err error) {
		stats.DurationSeconds = int(time.Since(start).Seconds())
		w.commands <- command{kind: cmdDone, err: err, stats: stats}
	}

	w.sendProgress(model.PhaseSpider, 0, "Crawling target", 0, 0)

	spiderRes, err := w.backend.Spider(ctx, w.scan.TargetURL, w.scope)
	if err != nil {
		done(err)
		return
	}
	stats.RequestsSent += spiderRes.RequestsSent
	urls := scope.Filter(spiderRes.URLs, w.scope.Include, w.scope.Exclude)
	w.sendProgress(model.PhaseSpider, 25, "Crawl complete", len(urls), 0)

	if ctx.Err() != nil {
		done(ctx.Err())
		return
	}

	passiveEnd := 55
	if w.scan.Profile == model.ProfileBaseline {
		passiveEnd = 80
	}
	w.sendProgress(model.PhasePassiveScan, 30, "Passive analysis", len(urls), 0)
	passiveRes, err := w.backend.PassiveScan(ctx, w.scan.TargetURL, urls, w.scope, w.emit)
	if err != nil {
		done(err)
		return
	}
	stats.RequestsSent += passiveRes.RequestsSent
	stats.URLsScanned = len(urls)
	w.sendProgress(model.PhasePassiveScan, passiveEnd, "Passive analysis complete", len(urls), len(urls))

	// Baseline profile never runs active attacks.
	if w.scan.Profile != model.ProfileBaseline {
		if ctx.Err() != nil {
			done(ctx.Err())
			return
		}
		w.sendProgress(model.PhaseActiveScan, 60, "Active attack phase", len(urls), len(urls))
		activeRes, err := w.backend.ActiveScan(ctx, w.scan.TargetURL, urls, w.scope, w.emit)
		if err != nil {
			done(err)
			return
		}
		stats.RequestsSent += activeRes.RequestsSent
		w.sendProgress(model.PhaseActiveScan, 85, "Active attack phase complete", len(urls), len(urls))
	}

	if ctx.Err() != nil {
		done(ctx.Err())
		return
	}
	w.sendProgress(model.PhaseAnalyzing, 90, "Correlating findings", len(urls), len(urls))

	done(nil)
}

// emit forwards one backend alert to the worker loop, dropping alerts for
// URLs outside the scan scope.
func (w *worker) emit(a RawAlert) {
	if !scope.InScope(a.URL, w.scope.Include, w.scope.Exclude) {
		return
	}
	w.commands <- command{kind: cmdAlert, alert: a}
}

func (w *worker) sendProgress(phase model.ScanPhase, pct int, description string, discovered, scanned int) {
	w.commands <- command{kind: cmdProgress, progress: model.Progress{
		Phase:            phase,
		PhaseDescription: description,
		Percentage:       pct,
		URLsDiscovered:   discovered,
		URLsScanned:      scanned,
	}}
}

// applyProgress writes the full progress object. Percentage never moves
// backwards; the alert count always mirrors the finding list.
func (w *worker) applyProgress(p model.Progress) {
	if w.scan.Status.Terminal() {
		return
	}
	if p.Percentage < w.lastPct {
		p.Percentage = w.lastPct
	}
	w.lastPct = p.Percentage
	p.AlertsFound = len(w.scan.Findings)
	w.scan.Progress = &p
	w.persistProgress()
}

func (w *worker) applyAlert(a RawAlert) {
	if w.scan.Status.Terminal() {
		return
	}
	f := mapAlert(w.scan.ID, a)
	if err := w.repo.AppendFinding(&f); err != nil {
		slog.Error("Failed to persist finding", "scan_id", w.scan.ID, "plugin_id", f.PluginID, "error", err)
	}
	w.scan.Findings = append(w.scan.Findings, f)
	if w.scan.Progress != nil {
		p := *w.scan.Progress
		p.AlertsFound = len(w.scan.Findings)
		w.scan.Progress = &p
		w.persistProgress()
	}
}

func (w *worker) persistProgress() {
	if err := w.repo.SaveScanRecord(&w.scan); err != nil {
		slog.Error("Failed to persist scan progress", "scan_id", w.scan.ID, "error", err)
	}
	if w.cache != nil && w.scan.Progress != nil {
		if err := w.cache.SaveProgress(context.Background(), w.scan.ID, *w.scan.Progress); err != nil {
			slog.Debug("Failed to cache scan progress", "scan_id", w.scan.ID, "error", err)
		}
	}
}

// finalize moves the scan to its terminal state, applies false-positive
// suppressions, recomputes the summary, and records lifecycle events.
func (w *worker) finalize(driveErr error, stats model.Statistics) {
	now := time.Now().UTC()
	w.scan.CompletedAt = &now
	w.scan.Statistics = &stats

	switch {
	case w.cancelled || errors.Is(driveErr, context.Canceled):
		w.scan.Status = model.StatusCancelled
	case driveErr != nil:
		w.scan.Status = model.StatusFailed
		// Preserved verbatim for operator diagnosis.
		w.scan.Error = driveErr.Error()
	default:
		w.scan.Status = model.StatusCompleted
	}

	suppressions, err := w.repo.ListFalsePositives(w.scan.TargetID)
	if err != nil {
		slog.Warn("Failed to load false positives", "target_id", w.scan.TargetID, "error", err)
	} else if flagged := finding.ApplyFalsePositives(w.scan.Findings, suppressions); flagged > 0 {
		if err := w.repo.SaveFindings(w.scan.Findings); err != nil {
			slog.Error("Failed to persist false-positive flags", "scan_id", w.scan.ID, "error", err)
		}
	}

	summary, err := finding.RecomputeSummary(w.scan.Findings)
	if err != nil {
		// A backend alert carried an unknown enum value. Surface it
		// rather than dropping findings from the counts.
		slog.Error("Summary recompute failed", "scan_id", w.scan.ID, "error", err)
		if w.scan.Status == model.StatusCompleted {
			w.scan.Status = model.StatusFailed
			w.scan.Error = err.Error()
		}
	} else {
		w.scan.Summary = summary
	}

	if w.scan.Status == model.StatusCompleted {
		w.scan.Progress = &model.Progress{
			Phase:            model.PhaseComplete,
			PhaseDescription: "Scan complete",
			Percentage:       100,
			URLsDiscovered:   stats.URLsScanned,
			URLsScanned:      stats.URLsScanned,
			AlertsFound:      len(w.scan.Findings),
		}
	}

	if err := w.repo.SaveScanRecord(&w.scan); err != nil {
		slog.Error("Failed to persist terminal scan state", "scan_id", w.scan.ID, "error", err)
	}

	if w.cache != nil {
		ctx := context.Background()
		if w.scan.Progress != nil {
			if err := w.cache.SaveProgress(ctx, w.scan.ID, *w.scan.Progress); err != nil {
				slog.Debug("Failed to cache final progress", "scan_id", w.scan.ID, "error", err)
			}
		}
		if w.scan.Status == model.StatusCompleted {
			if err := w.cache.SaveSummary(ctx, w.scan.ID, w.scan.Summary); err != nil {
				slog.Debug("Failed to cache scan summary", "scan_id", w.scan.ID, "error", err)
			}
		}
	}

	switch w.scan.Status {
	case model.StatusCompleted:
		if err := w.repo.TouchLastScan(w.scan.TargetID, w.scan.ID, now); err != nil {
			slog.Warn("Failed to update last-scan bookkeeping", "target_id", w.scan.TargetID, "error", err)
		}
		w.events.Record(EventScanCompleted, "info", w.scan.ID, w.scan.TargetID, "scan completed")
	case model.StatusCancelled:
		w.events.Record(EventScanCancelled, "info", w.scan.ID, w.scan.TargetID, "scan cancelled")
	case model.StatusFailed:
		w.events.Record(EventScanFailed, "error", w.scan.ID, w.scan.TargetID, w.scan.Error)
	}

	slog.Info("Scan finished",
		"scan_id", w.scan.ID,
		"target_id", w.scan.TargetID,
		"status", w.scan.Status,
		"findings", len(w.scan.Findings))
}
