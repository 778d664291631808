package scan

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
	"github.com/mqxerror/qa-guardian/dast/scope"
	"github.com/mqxerror/qa-guardian/dast/store"
)

var (
	// ErrScanConflict: a scan is already running for the target.
	ErrScanConflict = errors.New("a scan is already running for this target")
	// ErrScanNotFound: the scan id does not exist.
	ErrScanNotFound = errors.New("scan not found")
	// ErrScanFinished: the scan is terminal and cannot be cancelled.
	ErrScanFinished = errors.New("scan already finished")
)

// ValidationError rejects bad input before any scan state is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid scan request: " + e.Reason }

// StartRequest describes a scan to start. TargetURL and Profile override
// the target's stored configuration when set.
type StartRequest struct {
	TargetID  string            `json:"target_id"`
	TargetURL string            `json:"target_url,omitempty"`
	Profile   model.ScanProfile `json:"profile,omitempty"`
}

// Manager starts, cancels and reports scans. It enforces at most one
// running scan per target and hands each scan to a dedicated worker.
type Manager struct {
	repo    *postgres.Repository
	cache   *store.ProgressCache
	backend Backend
	events  *EventRecorder

	mu     sync.Mutex
	active map[string]*worker // keyed by target ID
}

// NewManager wires a Manager. cache and events may be nil.
func NewManager(repo *postgres.Repository, cache *store.ProgressCache, backend Backend, events *EventRecorder) *Manager {
	return &Manager{
		repo:    repo,
		cache:   cache,
		backend: backend,
		events:  events,
		active:  make(map[string]*worker),
	}
}

// validateTargetURL rejects anything that is not an absolute http(s) URL.
func validateTargetURL(raw string) error {
	if raw == "" {
		return &ValidationError{Reason: "target URL is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("malformed target URL %q", raw)}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Reason: fmt.Sprintf("target URL %q must be absolute http or https", raw)}
	}
	return nil
}

// effectiveScope derives the backend scope from the target configuration.
// The api profile restricts the include list to the documented endpoint
// set.
func effectiveScope(cfg *model.ScanConfig, profile model.ScanProfile) ScanScope {
	var sc ScanScope
	if cfg == nil {
		return sc
	}
	if cfg.ScopeConfig != nil {
		sc.Include = cfg.ScopeConfig.IncludeURLs
		sc.Exclude = cfg.ScopeConfig.ExcludeURLs
		sc.MaxCrawlDepth = cfg.ScopeConfig.MaxCrawlDepth
	}
	sc.AlertThreshold = cfg.AlertThreshold
	if profile == model.ProfileAPI && len(cfg.OpenAPIEndpoints) > 0 {
		sc.Include = cfg.OpenAPIEndpoints
	}
	return sc
}

// StartScan validates the request and launches a scan worker. No scan
// record is created for invalid input. A target with a scan in flight
// yields ErrScanConflict and the existing scan is untouched.
func (m *Manager) StartScan(ctx context.Context, req StartRequest) (*model.Scan, error) {
	if req.TargetID == "" {
		return nil, &ValidationError{Reason: "target id is required"}
	}

	cfg, err := m.repo.GetScanConfig(req.TargetID)
	if err != nil && !errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("load scan config: %w", err)
	}

	targetURL := req.TargetURL
	profile := req.Profile
	if cfg != nil {
		if targetURL == "" {
			targetURL = cfg.TargetURL
		}
		if profile == "" {
			profile = cfg.Profile
		}
	}
	if profile == "" {
		profile = model.ProfileBaseline
	}
	switch profile {
	case model.ProfileBaseline, model.ProfileFull, model.ProfileAPI:
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown scan profile %q", profile)}
	}

	if err := validateTargetURL(targetURL); err != nil {
		return nil, err
	}

	sc := effectiveScope(cfg, profile)
	if err := scope.Validate(sc.Include); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if err := scope.Validate(sc.Exclude); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[req.TargetID]; busy {
		return nil, ErrScanConflict
	}
	// A running row owned by another instance also counts as in flight.
	if running, err := m.repo.HasRunningScan(req.TargetID); err != nil {
		return nil, fmt.Errorf("check running scans: %w", err)
	} else if running {
		return nil, ErrScanConflict
	}

	s := model.Scan{
		ID:        uuid.New().String(),
		TargetID:  req.TargetID,
		TargetURL: targetURL,
		Profile:   profile,
		Status:    model.StatusRunning,
		StartedAt: time.Now().UTC(),
		Progress: &model.Progress{
			Phase:            model.PhaseSpider,
			PhaseDescription: "Starting scan",
			Percentage:       0,
		},
	}
	if err := m.repo.CreateScan(&s); err != nil {
		return nil, err
	}

	w := newWorker(s, sc, m.repo, m.cache, m.backend, m.events, func() {
		m.release(req.TargetID)
	})
	m.active[req.TargetID] = w
	go w.run()

	m.events.Record(EventScanStarted, "info", s.ID, s.TargetID,
		fmt.Sprintf("scan started with profile %s", profile))

	result := s
	return &result, nil
}

func (m *Manager) release(targetID string) {
	m.mu.Lock()
	delete(m.active, targetID)
	m.mu.Unlock()
}

// CancelScan requests cooperative cancellation of a running scan. The
// worker stops between phases and preserves findings gathered so far.
func (m *Manager) CancelScan(ctx context.Context, scanID string) error {
	m.mu.Lock()
	for _, w := range m.active {
		if w.scan.ID == scanID {
			w.requestCancel()
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()

	s, err := m.repo.GetScan(scanID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return ErrScanNotFound
		}
		return err
	}
	if s.Status.Terminal() {
		return ErrScanFinished
	}

	// Non-terminal but no worker owns it: a leftover from a previous
	// process. Close it out directly; there is no single-writer to race.
	now := time.Now().UTC()
	s.Status = model.StatusCancelled
	s.CompletedAt = &now
	if err := m.repo.SaveScanRecord(s); err != nil {
		return err
	}
	m.events.Record(EventScanCancelled, "info", s.ID, s.TargetID, "scan cancelled")
	return nil
}

// GetScan returns a scan with its findings. For running scans the live
// cached progress snapshot overlays the persisted one when available.
func (m *Manager) GetScan(ctx context.Context, scanID string) (*model.Scan, error) {
	s, err := m.repo.GetScan(scanID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, err
	}
	if !s.Status.Terminal() && m.cache != nil {
		if p, err := m.cache.GetProgress(ctx, scanID); err == nil {
			s.Progress = p
		}
	}
	return s, nil
}

// ListScans lists scans, optionally filtered by target and status.
func (m *Manager) ListScans(targetID string, status model.ScanStatus, limit int) ([]model.Scan, error) {
	return m.repo.ListScans(targetID, status, limit)
}

// RecoverStale marks scans left in a non-terminal state by a previous
// process as failed so their targets are not blocked forever. Call once
// at startup before accepting requests.
func (m *Manager) RecoverStale() error {
	stale, err := m.repo.ListScans("", model.StatusRunning, 500)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for i := range stale {
		stale[i].Status = model.StatusFailed
		stale[i].Error = "scan interrupted by service restart"
		stale[i].CompletedAt = &now
		if err := m.repo.SaveScanRecord(&stale[i]); err != nil {
			return fmt.Errorf("recover stale scan %s: %w", stale[i].ID, err)
		}
	}
	return nil
}
