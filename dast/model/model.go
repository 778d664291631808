// Package model holds the persisted domain types for the DAST engine:
// scan configurations, scan executions with their findings, false-positive
// suppressions, recurring schedules and GraphQL scans. Types carry both
// gorm and json tags so the repository and the HTTP API share one shape.
package model

import (
	"time"
)

// ScanProfile selects how aggressive a scan is.
type ScanProfile string

const (
	ProfileBaseline ScanProfile = "baseline" // passive only
	ProfileFull     ScanProfile = "full"     // passive + active attacks
	ProfileAPI      ScanProfile = "api"      // scoped to documented API endpoints
)

// ScanStatus is the lifecycle state of a scan execution.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
	StatusCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ScanPhase is the stage a running scan is currently in. Phases advance in
// strict order; baseline scans skip PhaseActiveScan.
type ScanPhase string

const (
	PhaseSpider      ScanPhase = "spider"
	PhasePassiveScan ScanPhase = "passive_scan"
	PhaseActiveScan  ScanPhase = "active_scan"
	PhaseAnalyzing   ScanPhase = "analyzing"
	PhaseComplete    ScanPhase = "complete"
)

// Risk is the severity taxonomy shared by REST and GraphQL findings.
type Risk string

const (
	RiskHigh          Risk = "High"
	RiskMedium        Risk = "Medium"
	RiskLow           Risk = "Low"
	RiskInformational Risk = "Informational"
)

// Confidence expresses how certain the scanner is about a finding.
type Confidence string

const (
	ConfidenceHigh          Confidence = "High"
	ConfidenceMedium        Confidence = "Medium"
	ConfidenceLow           Confidence = "Low"
	ConfidenceUserConfirmed Confidence = "User Confirmed"
	ConfidenceFalsePositive Confidence = "False Positive"
)

// AuthConfig describes form-based login for authenticated scans.
type AuthConfig struct {
	LoginURL         string `json:"login_url"`
	UsernameField    string `json:"username_field"`
	PasswordField    string `json:"password_field"`
	SuccessIndicator string `json:"success_indicator"`
}

// ScopeConfig bounds which URLs a scan may touch. Patterns use '*' as a
// multi-character wildcard; everything else is literal.
type ScopeConfig struct {
	IncludeURLs   []string `json:"include_urls,omitempty"`
	ExcludeURLs   []string `json:"exclude_urls,omitempty"`
	MaxCrawlDepth int      `json:"max_crawl_depth,omitempty"` // 1-10
}

// ScanConfig is the per-target scan configuration. One row per target.
type ScanConfig struct {
	ID               uint         `gorm:"primaryKey" json:"-"`
	TargetID         string       `gorm:"uniqueIndex" json:"target_id"`
	Enabled          bool         `json:"enabled"`
	TargetURL        string       `json:"target_url"`
	Profile          ScanProfile  `json:"scan_profile"`
	AuthConfig       *AuthConfig  `gorm:"serializer:json" json:"auth_config,omitempty"`
	ScopeConfig      *ScopeConfig `gorm:"serializer:json" json:"scope_config,omitempty"`
	AlertThreshold   string       `json:"alert_threshold"` // LOW, MEDIUM, HIGH
	AutoScan         bool         `json:"auto_scan"`
	OpenAPIEndpoints []string     `gorm:"serializer:json" json:"openapi_endpoints,omitempty"`
	LastScanID       *string      `json:"last_scan_id,omitempty"`
	LastScanAt       *time.Time   `json:"last_scan_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Finding is a single reported security issue. Immutable once recorded
// except for the false-positive flag, which only the false-positive
// workflow may change.
type Finding struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	ScanID          string     `gorm:"index" json:"-"`
	PluginID        string     `json:"plugin_id"`
	Name            string     `json:"name"`
	Risk            Risk       `json:"risk"`
	Confidence      Confidence `json:"confidence"`
	Description     string     `json:"description"`
	URL             string     `json:"url"`
	Method          string     `json:"method"`
	Param           string     `json:"param,omitempty"`
	Attack          string     `json:"attack,omitempty"`
	Evidence        string     `json:"evidence,omitempty"`
	Solution        string     `json:"solution"`
	CWEID           int        `json:"cwe_id,omitempty"`
	WASCID          int        `json:"wasc_id,omitempty"`
	IsFalsePositive bool       `json:"is_false_positive"`
}

// Summary aggregates the non-false-positive findings of a scan. It is
// always recomputed from the finding set, never maintained independently.
type Summary struct {
	Total            int `json:"total"`
	High             int `json:"high"`
	Medium           int `json:"medium"`
	Low              int `json:"low"`
	Informational    int `json:"informational"`
	ConfidenceHigh   int `json:"confidence_high"`
	ConfidenceMedium int `json:"confidence_medium"`
	ConfidenceLow    int `json:"confidence_low"`
}

// Statistics captures volume metrics gathered during a scan.
type Statistics struct {
	URLsScanned     int `json:"urls_scanned"`
	RequestsSent    int `json:"requests_sent"`
	DurationSeconds int `json:"duration_seconds"`
}

// Progress is the live state of a running scan. The owning worker writes
// the full object on every update so readers always see a complete
// snapshot.
type Progress struct {
	Phase                  ScanPhase `json:"phase"`
	PhaseDescription       string    `json:"phase_description"`
	Percentage             int       `json:"percentage"` // 0-100, monotonic
	URLsDiscovered         int       `json:"urls_discovered"`
	URLsScanned            int       `json:"urls_scanned"`
	AlertsFound            int       `json:"alerts_found"`
	EstimatedTimeRemaining string    `json:"estimated_time_remaining,omitempty"`
	CurrentURL             string    `json:"current_url,omitempty"`
}

// Scan is one scan execution for a target.
type Scan struct {
	ID          string      `gorm:"primaryKey" json:"id"`
	TargetID    string      `gorm:"index" json:"target_id"`
	TargetURL   string      `json:"target_url"`
	Profile     ScanProfile `json:"scan_profile"`
	Status      ScanStatus  `gorm:"index" json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Findings    []Finding   `gorm:"foreignKey:ScanID" json:"findings,omitempty"`
	Summary     Summary     `gorm:"embedded;embeddedPrefix:summary_" json:"summary"`
	Statistics  *Statistics `gorm:"serializer:json" json:"statistics,omitempty"`
	Progress    *Progress   `gorm:"serializer:json" json:"progress,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// FalsePositive suppresses findings matching pluginID+URL (and param when
// set) for all scans of a target. A nil Param matches only findings that
// have no param.
type FalsePositive struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	TargetID  string    `gorm:"index" json:"target_id"`
	PluginID  string    `json:"plugin_id"`
	URL       string    `json:"url"`
	Param     *string   `json:"param,omitempty"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ScanEvent is a persisted lifecycle record for operator diagnosis.
type ScanEvent struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	EventID   string    `gorm:"uniqueIndex" json:"event_id"`
	ScanID    string    `gorm:"index" json:"scan_id"`
	TargetID  string    `gorm:"index" json:"target_id"`
	Type      string    `json:"type"` // scan.started, scan.completed, ...
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}
