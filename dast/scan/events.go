package scan

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
	"github.com/mqxerror/qa-guardian/dast/queue"
)

// Lifecycle event types.
const (
	EventScanStarted    = "scan.started"
	EventScanCompleted  = "scan.completed"
	EventScanFailed     = "scan.failed"
	EventScanCancelled  = "scan.cancelled"
	EventScheduleFired  = "schedule.fired"
	EventScheduleFailed = "schedule.failed"
)

// EventRecorder persists lifecycle events and mirrors them to the event
// queue. Publishing is best-effort: a broker outage never fails a scan.
type EventRecorder struct {
	repo *postgres.Repository
	// PublishQueue is the AMQP queue events are mirrored to; empty
	// disables publishing.
	PublishQueue string
}

// NewEventRecorder creates an EventRecorder that also publishes to the
// default event queue.
func NewEventRecorder(repo *postgres.Repository) *EventRecorder {
	return &EventRecorder{repo: repo, PublishQueue: queue.QueueScanEvents}
}

// Record writes one lifecycle event. A nil recorder is a no-op so callers
// can run without event wiring in tests.
func (er *EventRecorder) Record(eventType, severity, scanID, targetID, message string) {
	if er == nil {
		return
	}
	event := model.ScanEvent{
		EventID:   uuid.New().String(),
		ScanID:    scanID,
		TargetID:  targetID,
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	if er.repo != nil {
		if err := er.repo.CreateEvent(&event); err != nil {
			slog.Warn("Failed to persist scan event", "type", eventType, "scan_id", scanID, "error", err)
		}
	}

	if er.PublishQueue != "" {
		payload, err := json.Marshal(event)
		if err == nil {
			if err := queue.Send(er.PublishQueue, string(payload)); err != nil {
				slog.Debug("Failed to publish scan event", "type", eventType, "error", err)
			}
		}
	}
}
