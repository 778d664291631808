package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
	"github.com/mqxerror/qa-guardian/dast/scan"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := postgres.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return NewService(postgres.NewRepository(db))
}

func TestCreateDerivesCronAndNextRun(t *testing.T) {
	svc := newTestService(t)
	s := model.Schedule{
		TargetID:  "target-1",
		Name:      "weekly full",
		Frequency: model.FrequencyWeekly,
		Hour:      3,
		Minute:    30,
		DayOfWeek: 2,
		Enabled:   true,
		Profile:   model.ProfileFull,
		TargetURL: "https://example.com",
	}
	if err := svc.Create(&s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" {
		t.Error("Create did not assign an id")
	}
	if s.CronExpression != "30 3 * * 2" {
		t.Errorf("cron = %q, want %q", s.CronExpression, "30 3 * * 2")
	}
	if s.NextRunAt == nil {
		t.Fatal("NextRunAt not computed")
	}
	if !s.NextRunAt.After(time.Now().Add(-time.Minute)) {
		t.Errorf("NextRunAt %v is in the past", s.NextRunAt)
	}
}

func TestCreateRejectsBadTiming(t *testing.T) {
	svc := newTestService(t)
	cases := []model.Schedule{
		{TargetID: "t", Frequency: "fortnightly"},
		{TargetID: "t", Frequency: model.FrequencyDaily, Hour: 24},
		{TargetID: "t", Frequency: model.FrequencyDaily, Minute: 60},
		{TargetID: "t", Frequency: model.FrequencyWeekly, DayOfWeek: 7},
		{TargetID: "t", Frequency: model.FrequencyMonthly, DayOfMonth: 0},
		{TargetID: "t", Frequency: model.FrequencyDaily, Timezone: "Mars/Olympus"},
		{Frequency: model.FrequencyDaily},
	}
	for _, c := range cases {
		if err := svc.Create(&c); err == nil {
			t.Errorf("Create(%+v) accepted invalid schedule", c)
		}
	}
}

func TestDisabledScheduleHasNoNextRun(t *testing.T) {
	svc := newTestService(t)
	s := model.Schedule{
		TargetID:  "target-1",
		Frequency: model.FrequencyDaily,
		Hour:      2,
		Enabled:   false,
	}
	if err := svc.Create(&s); err != nil {
		t.Fatal(err)
	}
	if s.NextRunAt != nil {
		t.Errorf("disabled schedule has NextRunAt %v", s.NextRunAt)
	}
}

func TestUpdatePreservesRunHistory(t *testing.T) {
	svc := newTestService(t)
	s := model.Schedule{
		TargetID:  "target-1",
		Frequency: model.FrequencyDaily,
		Hour:      2,
		Enabled:   true,
	}
	if err := svc.Create(&s); err != nil {
		t.Fatal(err)
	}
	fired := time.Now().UTC().Truncate(time.Second)
	if err := svc.MarkFired(&s, "scan-123", fired); err != nil {
		t.Fatal(err)
	}

	edit := s
	edit.Frequency = model.FrequencyHourly
	edit.Minute = 15
	edit.RunCount = 0 // a stale client value must not clobber history
	if err := svc.Update(&edit); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := svc.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CronExpression != "15 * * * *" {
		t.Errorf("cron = %q after update", got.CronExpression)
	}
	if got.RunCount != 1 || got.LastRunID == nil || *got.LastRunID != "scan-123" {
		t.Errorf("run history lost on update: count=%d lastRunID=%v", got.RunCount, got.LastRunID)
	}
}

func TestGetAndDeleteUnknown(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Get("nope"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Get(unknown) = %v", err)
	}
	if err := svc.Delete("nope"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Delete(unknown) = %v", err)
	}
}

// fakeStarter records start requests and optionally fails.
type fakeStarter struct {
	requests []scan.StartRequest
	err      error
}

func (f *fakeStarter) StartScan(ctx context.Context, req scan.StartRequest) (*model.Scan, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Scan{ID: fmt.Sprintf("scan-%d", len(f.requests))}, nil
}

func dueSchedule(t *testing.T, svc *Service, targetID string) *model.Schedule {
	t.Helper()
	s := model.Schedule{
		TargetID:  targetID,
		Name:      "daily " + targetID,
		Frequency: model.FrequencyDaily,
		Hour:      2,
		Enabled:   true,
		Profile:   model.ProfileBaseline,
		TargetURL: "https://" + targetID + ".example",
	}
	if err := svc.Create(&s); err != nil {
		t.Fatal(err)
	}
	// Force the schedule due.
	past := time.Now().UTC().Add(-time.Minute)
	s.NextRunAt = &past
	if err := svc.repo.SaveSchedule(&s); err != nil {
		t.Fatal(err)
	}
	return &s
}

func TestTickFiresDueSchedules(t *testing.T) {
	svc := newTestService(t)
	sched := dueSchedule(t, svc, "target-due")
	dueSchedule(t, svc, "target-due-2")

	starter := &fakeStarter{}
	r := NewRunner(svc, starter, nil)
	now := time.Now().UTC()
	r.Tick(context.Background(), now)

	if len(starter.requests) != 2 {
		t.Fatalf("fired %d scans, want 2", len(starter.requests))
	}
	if starter.requests[0].TargetID != "target-due" || starter.requests[0].Profile != model.ProfileBaseline {
		t.Errorf("unexpected start request %+v", starter.requests[0])
	}

	got, err := svc.Get(sched.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 1 || got.LastRunID == nil {
		t.Errorf("fire not recorded: count=%d", got.RunCount)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(now) {
		t.Errorf("NextRunAt %v not advanced past %v", got.NextRunAt, now)
	}

	// Nothing due anymore.
	r.Tick(context.Background(), now)
	if len(starter.requests) != 2 {
		t.Errorf("second tick re-fired schedules: %d requests", len(starter.requests))
	}
}

func TestFailedFireStaysDue(t *testing.T) {
	svc := newTestService(t)
	sched := dueSchedule(t, svc, "target-busy")

	starter := &fakeStarter{err: scan.ErrScanConflict}
	r := NewRunner(svc, starter, nil)
	r.Tick(context.Background(), time.Now().UTC())

	got, err := svc.Get(sched.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunCount != 0 {
		t.Errorf("failed fire recorded as a run")
	}
	if got.NextRunAt == nil || got.NextRunAt.After(time.Now()) {
		t.Errorf("failed schedule no longer due: NextRunAt=%v", got.NextRunAt)
	}

	// Retried on the next tick.
	starter.err = nil
	r.Tick(context.Background(), time.Now().UTC())
	if len(starter.requests) != 2 {
		t.Fatalf("schedule not retried after failure")
	}
	got, _ = svc.Get(sched.ID)
	if got.RunCount != 1 {
		t.Errorf("retry not recorded")
	}
}
