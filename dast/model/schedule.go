package model

import "time"

// Frequency is the recurrence of a scheduled scan.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyNightly Frequency = "nightly"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Schedule is a recurring scan definition. CronExpression is derived from
// Frequency and the timing fields; NextRunAt is recomputed on create,
// update and every successful fire.
type Schedule struct {
	ID               string      `gorm:"primaryKey" json:"id"`
	TargetID         string      `gorm:"index" json:"target_id"`
	Name             string      `json:"name"`
	Frequency        Frequency   `json:"frequency"`
	CronExpression   string      `json:"cron_expression"`
	Timezone         string      `json:"timezone"`
	Enabled          bool        `gorm:"index" json:"enabled"`
	Profile          ScanProfile `json:"scan_profile"`
	TargetURL        string      `json:"target_url"`
	Hour             int         `json:"hour"`
	Minute           int         `json:"minute"`
	DayOfWeek        int         `json:"day_of_week"`  // 0=Sunday..6=Saturday
	DayOfMonth       int         `json:"day_of_month"` // 1-31
	NotifyOnComplete bool        `json:"notify_on_complete"`
	NotifyOnFailure  bool        `json:"notify_on_failure"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	NextRunAt        *time.Time  `gorm:"index" json:"next_run_at,omitempty"`
	LastRunAt        *time.Time  `json:"last_run_at,omitempty"`
	LastRunID        *string     `json:"last_run_id,omitempty"`
	RunCount         int         `json:"run_count"`
}
