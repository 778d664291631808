package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mqxerror/qa-guardian/dast/model"
)

// ErrNotFound is returned when a record does not exist. Callers use it to
// distinguish a stale reference from bad input.
var ErrNotFound = errors.New("record not found")

// Repository provides explicit database operations for every persisted
// DAST record. It is the single backing store for the engine; there is no
// in-memory fallback.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository over an open gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- scan configs ----

// UpsertScanConfig creates the config for a target or replaces the
// existing one. One config per target.
func (r *Repository) UpsertScanConfig(cfg *model.ScanConfig) error {
	var existing model.ScanConfig
	err := r.db.Where("target_id = ?", cfg.TargetID).First(&existing).Error
	if err == nil {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
		return r.db.Save(cfg).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("look up scan config for target %s: %w", cfg.TargetID, err)
	}
	return r.db.Create(cfg).Error
}

// GetScanConfig retrieves the config for a target.
func (r *Repository) GetScanConfig(targetID string) (*model.ScanConfig, error) {
	var cfg model.ScanConfig
	if err := r.db.Where("target_id = ?", targetID).First(&cfg).Error; err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

// TouchLastScan records last-scan bookkeeping on the target's config. A
// missing config is not an error; ad-hoc scans may target unconfigured
// URLs.
func (r *Repository) TouchLastScan(targetID, scanID string, at time.Time) error {
	return r.db.Model(&model.ScanConfig{}).
		Where("target_id = ?", targetID).
		Updates(map[string]interface{}{
			"last_scan_id": scanID,
			"last_scan_at": at,
			"updated_at":   time.Now(),
		}).Error
}

// ---- scans ----

// CreateScan persists a new scan record.
func (r *Repository) CreateScan(s *model.Scan) error {
	if err := r.db.Create(s).Error; err != nil {
		return fmt.Errorf("create scan %s: %w", s.ID, err)
	}
	return nil
}

// GetScan retrieves a scan with its findings.
func (r *Repository) GetScan(id string) (*model.Scan, error) {
	var s model.Scan
	if err := r.db.Preload("Findings").First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// SaveScanRecord writes the scalar columns of a scan (status, progress,
// summary, statistics, error) without touching its findings.
func (r *Repository) SaveScanRecord(s *model.Scan) error {
	if err := r.db.Omit("Findings").Save(s).Error; err != nil {
		return fmt.Errorf("save scan %s: %w", s.ID, err)
	}
	return nil
}

// AppendFinding adds one finding to a scan.
func (r *Repository) AppendFinding(f *model.Finding) error {
	if err := r.db.Create(f).Error; err != nil {
		return fmt.Errorf("append finding to scan %s: %w", f.ScanID, err)
	}
	return nil
}

// SaveFindings persists flag changes on existing findings.
func (r *Repository) SaveFindings(findings []model.Finding) error {
	for i := range findings {
		if err := r.db.Model(&model.Finding{}).
			Where("id = ?", findings[i].ID).
			Update("is_false_positive", findings[i].IsFalsePositive).Error; err != nil {
			return fmt.Errorf("update finding %d: %w", findings[i].ID, err)
		}
	}
	return nil
}

// ListScans returns scans, optionally filtered by target and status, most
// recent first. Findings are not loaded.
func (r *Repository) ListScans(targetID string, status model.ScanStatus, limit int) ([]model.Scan, error) {
	query := r.db.Model(&model.Scan{})
	if targetID != "" {
		query = query.Where("target_id = ?", targetID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var scans []model.Scan
	if err := query.Order("started_at DESC").Limit(limit).Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return scans, nil
}

// ListCompletedScansWithFindings loads every terminal scan of a target
// including findings, for false-positive re-evaluation.
func (r *Repository) ListCompletedScansWithFindings(targetID string) ([]model.Scan, error) {
	var scans []model.Scan
	err := r.db.Preload("Findings").
		Where("target_id = ? AND status IN ?", targetID,
			[]model.ScanStatus{model.StatusCompleted, model.StatusCancelled}).
		Find(&scans).Error
	if err != nil {
		return nil, fmt.Errorf("list completed scans for target %s: %w", targetID, err)
	}
	return scans, nil
}

// HasRunningScan reports whether the target has a scan in a non-terminal
// state.
func (r *Repository) HasRunningScan(targetID string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Scan{}).
		Where("target_id = ? AND status IN ?", targetID,
			[]model.ScanStatus{model.StatusPending, model.StatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ---- false positives ----

func (r *Repository) CreateFalsePositive(fp *model.FalsePositive) error {
	if err := r.db.Create(fp).Error; err != nil {
		return fmt.Errorf("create false positive: %w", err)
	}
	return nil
}

func (r *Repository) GetFalsePositive(id string) (*model.FalsePositive, error) {
	var fp model.FalsePositive
	if err := r.db.First(&fp, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &fp, nil
}

func (r *Repository) DeleteFalsePositive(id string) error {
	result := r.db.Delete(&model.FalsePositive{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListFalsePositives(targetID string) ([]model.FalsePositive, error) {
	var fps []model.FalsePositive
	if err := r.db.Where("target_id = ?", targetID).Order("created_at DESC").Find(&fps).Error; err != nil {
		return nil, fmt.Errorf("list false positives for target %s: %w", targetID, err)
	}
	return fps, nil
}

// ---- schedules ----

func (r *Repository) CreateSchedule(s *model.Schedule) error {
	if err := r.db.Create(s).Error; err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (r *Repository) GetSchedule(id string) (*model.Schedule, error) {
	var s model.Schedule
	if err := r.db.First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *Repository) SaveSchedule(s *model.Schedule) error {
	if err := r.db.Save(s).Error; err != nil {
		return fmt.Errorf("save schedule %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) DeleteSchedule(id string) error {
	result := r.db.Delete(&model.Schedule{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListSchedules(targetID string) ([]model.Schedule, error) {
	query := r.db.Model(&model.Schedule{})
	if targetID != "" {
		query = query.Where("target_id = ?", targetID)
	}
	var schedules []model.Schedule
	if err := query.Order("created_at DESC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// ListDueSchedules returns enabled schedules whose next run is at or
// before now.
func (r *Repository) ListDueSchedules(now time.Time) ([]model.Schedule, error) {
	var schedules []model.Schedule
	err := r.db.Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return schedules, nil
}

// ---- graphql scans ----

func (r *Repository) CreateGraphQLScan(s *model.GraphQLScan) error {
	if err := r.db.Create(s).Error; err != nil {
		return fmt.Errorf("create graphql scan %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) GetGraphQLScan(id string) (*model.GraphQLScan, error) {
	var s model.GraphQLScan
	if err := r.db.Preload("Findings").First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// SaveGraphQLScanRecord writes the scalar columns of a GraphQL scan
// without touching its findings.
func (r *Repository) SaveGraphQLScanRecord(s *model.GraphQLScan) error {
	if err := r.db.Omit("Findings").Save(s).Error; err != nil {
		return fmt.Errorf("save graphql scan %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) AppendGraphQLFinding(f *model.GraphQLFinding) error {
	if err := r.db.Create(f).Error; err != nil {
		return fmt.Errorf("append graphql finding to scan %s: %w", f.GraphQLScanID, err)
	}
	return nil
}

func (r *Repository) ListGraphQLScans(limit int) ([]model.GraphQLScan, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var scans []model.GraphQLScan
	if err := r.db.Order("started_at DESC").Limit(limit).Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("list graphql scans: %w", err)
	}
	return scans, nil
}

// ---- scan events ----

func (r *Repository) CreateEvent(e *model.ScanEvent) error {
	if err := r.db.Create(e).Error; err != nil {
		return fmt.Errorf("create scan event: %w", err)
	}
	return nil
}

// EventFilters narrows an event query.
type EventFilters struct {
	ScanID   string
	TargetID string
	Type     string
	Limit    int
}

// ListEvents retrieves lifecycle events, most recent first.
func (r *Repository) ListEvents(filters EventFilters) ([]model.ScanEvent, error) {
	query := r.db.Model(&model.ScanEvent{})
	if filters.ScanID != "" {
		query = query.Where("scan_id = ?", filters.ScanID)
	}
	if filters.TargetID != "" {
		query = query.Where("target_id = ?", filters.TargetID)
	}
	if filters.Type != "" {
		query = query.Where("type = ?", filters.Type)
	}
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var events []model.ScanEvent
	if err := query.Order("timestamp DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list scan events: %w", err)
	}
	return events, nil
}
