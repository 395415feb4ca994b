package models

import (
	"context"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AlertEvent is an outbox row for one fraud alert notification. It commits
// in the same transaction as the alert it announces; a background dispatcher
// drains the table and publishes to Pub/Sub.
type AlertEvent struct {
	ID              string           `gorm:"primary_key;size:36" json:"id"`
	BatchId         *string          `gorm:"size:36" json:"batch_id"`
	QRCodeId        *string          `gorm:"size:36" json:"qr_code_id"`
	UserId          *string          `gorm:"size:36" json:"user_id"`
	AlertType       FraudAlertType   `gorm:"size:30;not null" json:"alert_type"`
	Severity        FraudSeverity    `gorm:"size:10;not null" json:"severity"`
	Description     string           `gorm:"size:500" json:"description"`
	Evidence        datatypes.JSON   `json:"evidence"`
	CorrelationId   string           `gorm:"size:36" json:"correlation_id"`
	Status          AlertEventStatus `gorm:"size:15;not null;default:'PENDING';index:idx_alert_event_pending" json:"status"`
	PublishAttempts int              `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt   time.Time        `gorm:"not null;index:idx_alert_event_pending" json:"next_attempt_at"`
	LockedAt        *time.Time       `json:"locked_at"`
	LockedBy        *string          `gorm:"size:36" json:"locked_by"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	alertEventMaxAttempts = 8
	alertEventLockTTL     = 2 * time.Minute
)

type NewAlertEvent struct {
	BatchId       *string
	QRCodeId      *string
	UserId        *string
	AlertType     FraudAlertType
	Severity      FraudSeverity
	Description   string
	Evidence      datatypes.JSON
	CorrelationId string
}

func CreateAlertEvent(ctx context.Context, tx *gorm.DB, input *NewAlertEvent) (*AlertEvent, error) {
	event := AlertEvent{
		ID:            uuid.NewString(),
		BatchId:       input.BatchId,
		QRCodeId:      input.QRCodeId,
		UserId:        input.UserId,
		AlertType:     input.AlertType,
		Severity:      input.Severity,
		Description:   input.Description,
		Evidence:      input.Evidence,
		CorrelationId: input.CorrelationId,
		Status:        AlertEventStatusPending,
		NextAttemptAt: time.Now(),
	}
	if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ClaimPendingAlertEvents moves a page of due PENDING rows to PROCESSING
// under workerId. Rows stuck in PROCESSING past the lock TTL are reclaimed.
func ClaimPendingAlertEvents(ctx context.Context, workerId string, limit int) ([]AlertEvent, error) {
	db := config.GetDB()
	now := time.Now()
	var claimed []AlertEvent

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []AlertEvent
		stale := now.Add(-alertEventLockTTL)
		if err := tx.
			Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_at < ?)",
				AlertEventStatusPending, now, AlertEventStatusProcessing, stale).
			Order("next_attempt_at ASC").Limit(limit).Find(&candidates).Error; err != nil {
			return err
		}
		for i := range candidates {
			res := tx.Model(&AlertEvent{}).
				Where("id = ? AND status = ? AND updated_at = ?",
					candidates[i].ID, candidates[i].Status, candidates[i].UpdatedAt).
				Updates(map[string]any{
					"status":    AlertEventStatusProcessing,
					"locked_at": now,
					"locked_by": workerId,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				candidates[i].Status = AlertEventStatusProcessing
				claimed = append(claimed, candidates[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func MarkAlertEventSent(ctx context.Context, eventId string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&AlertEvent{}).
		Where("id = ?", eventId).
		Updates(map[string]any{
			"status":    AlertEventStatusSent,
			"locked_at": nil,
			"locked_by": nil,
		}).Error
}

// MarkAlertEventFailed reschedules with exponential backoff, parking the row
// as DEAD once attempts are exhausted.
func MarkAlertEventFailed(ctx context.Context, eventId string, attempts int) error {
	db := config.GetDB()
	next := attempts + 1
	update := map[string]any{
		"publish_attempts": next,
		"locked_at":        nil,
		"locked_by":        nil,
	}
	if next >= alertEventMaxAttempts {
		update["status"] = AlertEventStatusDead
	} else {
		backoff := time.Duration(1<<uint(next)) * time.Second
		if backoff > 10*time.Minute {
			backoff = 10 * time.Minute
		}
		update["status"] = AlertEventStatusPending
		update["next_attempt_at"] = time.Now().Add(backoff)
	}
	return db.WithContext(ctx).Model(&AlertEvent{}).
		Where("id = ?", eventId).Updates(update).Error
}
