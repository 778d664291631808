package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
)

// ErrScheduleNotFound: the schedule id does not exist.
var ErrScheduleNotFound = errors.New("schedule not found")

// Service owns schedule CRUD. It keeps CronExpression and NextRunAt
// derived fields consistent: both are recomputed on every create and
// update, and NextRunAt again on every fire.
type Service struct {
	repo *postgres.Repository
}

func NewService(repo *postgres.Repository) *Service {
	return &Service{repo: repo}
}

func validateTiming(s *model.Schedule) error {
	switch s.Frequency {
	case model.FrequencyHourly, model.FrequencyDaily, model.FrequencyNightly,
		model.FrequencyWeekly, model.FrequencyMonthly:
	default:
		return fmt.Errorf("unknown frequency %q", s.Frequency)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("minute %d out of range 0-59", s.Minute)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("hour %d out of range 0-23", s.Hour)
	}
	if s.Frequency == model.FrequencyWeekly && (s.DayOfWeek < 0 || s.DayOfWeek > 6) {
		return fmt.Errorf("day of week %d out of range 0-6", s.DayOfWeek)
	}
	if s.Frequency == model.FrequencyMonthly && (s.DayOfMonth < 1 || s.DayOfMonth > 31) {
		return fmt.Errorf("day of month %d out of range 1-31", s.DayOfMonth)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", s.Timezone)
		}
	}
	return nil
}

// refresh recomputes the derived cron expression and next-run instant.
func refresh(s *model.Schedule, now time.Time) error {
	s.CronExpression = BuildCron(s.Frequency, s.Hour, s.Minute, s.DayOfWeek, s.DayOfMonth)
	if err := ValidateCron(s.CronExpression); err != nil {
		return err
	}
	if s.Enabled {
		s.NextRunAt = NextRun(s.CronExpression, s.Timezone, now)
	} else {
		s.NextRunAt = nil
	}
	return nil
}

// Create validates and stores a new schedule.
func (svc *Service) Create(s *model.Schedule) error {
	if s.TargetID == "" {
		return errors.New("target id is required")
	}
	if err := validateTiming(s); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if err := refresh(s, time.Now()); err != nil {
		return err
	}
	return svc.repo.CreateSchedule(s)
}

// Update applies changes to an existing schedule and recomputes its
// derived fields. The run history fields are preserved.
func (svc *Service) Update(s *model.Schedule) error {
	existing, err := svc.Get(s.ID)
	if err != nil {
		return err
	}
	if err := validateTiming(s); err != nil {
		return err
	}
	s.TargetID = existing.TargetID
	s.CreatedAt = existing.CreatedAt
	s.LastRunAt = existing.LastRunAt
	s.LastRunID = existing.LastRunID
	s.RunCount = existing.RunCount
	if err := refresh(s, time.Now()); err != nil {
		return err
	}
	return svc.repo.SaveSchedule(s)
}

func (svc *Service) Get(id string) (*model.Schedule, error) {
	s, err := svc.repo.GetSchedule(id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return s, nil
}

func (svc *Service) Delete(id string) error {
	if err := svc.repo.DeleteSchedule(id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return ErrScheduleNotFound
		}
		return err
	}
	return nil
}

func (svc *Service) List(targetID string) ([]model.Schedule, error) {
	return svc.repo.ListSchedules(targetID)
}

// ListDue returns enabled schedules whose next run is at or before now.
func (svc *Service) ListDue(now time.Time) ([]model.Schedule, error) {
	return svc.repo.ListDueSchedules(now)
}

// MarkFired records a successful fire and advances the next run.
func (svc *Service) MarkFired(s *model.Schedule, scanID string, at time.Time) error {
	s.LastRunAt = &at
	s.LastRunID = &scanID
	s.RunCount++
	s.NextRunAt = NextRun(s.CronExpression, s.Timezone, at)
	return svc.repo.SaveSchedule(s)
}
