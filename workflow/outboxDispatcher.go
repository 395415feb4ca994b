package workflow

import (
	"context"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"github.com/sirupsen/logrus"
)

// AlertDispatcher drains the alert_events outbox and publishes each row to
// Pub/Sub. Rows commit in the scan transaction, so delivery is at-least-once
// and downstream consumers must tolerate duplicates by event id.
type AlertDispatcher struct {
	Logger    *logrus.Logger
	WorkerID  string
	BatchSize int
	Interval  time.Duration
}

func NewAlertDispatcher(logger *logrus.Logger) *AlertDispatcher {
	return &AlertDispatcher{
		Logger:    logger,
		WorkerID:  "alert-" + time.Now().Format("20060102-150405.000"),
		BatchSize: 50,
		Interval:  2 * time.Second,
	}
}

func (d *AlertDispatcher) Run(ctx context.Context) {
	if d == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Interval):
		}
	}
}

func (d *AlertDispatcher) processOnce(ctx context.Context) {
	events, err := models.ClaimPendingAlertEvents(ctx, d.WorkerID, d.BatchSize)
	if err != nil {
		d.Logger.WithFields(logrus.Fields{"error": err.Error()}).
			Warn("alert outbox claim failed")
		return
	}

	for _, event := range events {
		msg := config.AlertEventMessage{
			EventID:       event.ID,
			BatchID:       event.BatchId,
			QRCodeID:      event.QRCodeId,
			UserID:        event.UserId,
			AlertType:     string(event.AlertType),
			Severity:      string(event.Severity),
			Description:   event.Description,
			Evidence:      []byte(event.Evidence),
			OccurredAt:    event.CreatedAt,
			CorrelationId: event.CorrelationId,
		}
		msgID, err := config.PublishAlertEventWithResult(ctx, msg)
		if err != nil {
			d.Logger.WithFields(logrus.Fields{
				"event_id": event.ID,
				"attempts": event.PublishAttempts,
				"error":    err.Error(),
			}).Warn("alert event publish failed")
			if err := models.MarkAlertEventFailed(ctx, event.ID, event.PublishAttempts); err != nil {
				d.Logger.WithFields(logrus.Fields{"event_id": event.ID, "error": err.Error()}).
					Error("alert event reschedule failed")
			}
			continue
		}
		if err := models.MarkAlertEventSent(ctx, event.ID); err != nil {
			// The publish went out; the row will be retried and the
			// duplicate filtered downstream by event id.
			d.Logger.WithFields(logrus.Fields{"event_id": event.ID, "error": err.Error()}).
				Error("alert event mark sent failed")
			continue
		}
		d.Logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"message_id": msgID,
			"alert_type": string(event.AlertType),
		}).Info("alert event published")
	}
}
