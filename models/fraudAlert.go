package models

import (
	"context"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FraudAlert is one triggered detector finding. Evidence holds the
// detector-specific payload as JSON so each rule can attach whatever it
// observed without schema churn.
type FraudAlert struct {
	ID             string         `gorm:"primary_key;size:36" json:"id"`
	BatchId        *string        `gorm:"size:36;index" json:"batch_id"`
	QRCodeId       *string        `gorm:"size:36;index" json:"qr_code_id"`
	UserId         *string        `gorm:"size:36;index" json:"user_id"`
	ScanLogId      *string        `gorm:"size:36;index" json:"scan_log_id"`
	AlertType      FraudAlertType `gorm:"size:30;not null;index" json:"alert_type"`
	Severity       FraudSeverity  `gorm:"size:10;not null" json:"severity"`
	Description    string         `gorm:"size:500;not null" json:"description"`
	Evidence       datatypes.JSON `json:"evidence"`
	IsResolved     bool           `gorm:"not null;default:false;index" json:"is_resolved"`
	ResolvedBy     *string        `gorm:"size:36" json:"resolved_by"`
	ResolvedAt     *time.Time     `json:"resolved_at"`
	ResolutionNote string         `gorm:"size:500" json:"resolution_note"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`

	Batch  *Batch  `gorm:"foreignKey:BatchId" json:"batch,omitempty"`
	QRCode *QRCode `gorm:"foreignKey:QRCodeId" json:"qr_code,omitempty"`
}

type NewFraudAlert struct {
	BatchId     *string
	QRCodeId    *string
	UserId      *string
	ScanLogId   *string
	AlertType   FraudAlertType
	Severity    FraudSeverity
	Description string
	Evidence    map[string]any
}

func CreateFraudAlert(ctx context.Context, tx *gorm.DB, input *NewFraudAlert) (*FraudAlert, error) {
	var evidence datatypes.JSON
	if input.Evidence != nil {
		raw, err := utils.MarshalToJSON(input.Evidence)
		if err != nil {
			return nil, err
		}
		evidence = datatypes.JSON(raw)
	}
	alert := FraudAlert{
		ID:          uuid.NewString(),
		BatchId:     input.BatchId,
		QRCodeId:    input.QRCodeId,
		UserId:      input.UserId,
		ScanLogId:   input.ScanLogId,
		AlertType:   input.AlertType,
		Severity:    input.Severity,
		Description: input.Description,
		Evidence:    evidence,
	}
	if err := tx.WithContext(ctx).Create(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

type FraudAlertFilter struct {
	AlertType  *FraudAlertType
	Severity   *FraudSeverity
	BatchId    *string
	IsResolved *bool
	Limit      int
	Offset     int
}

func ListFraudAlerts(ctx context.Context, filter *FraudAlertFilter) ([]FraudAlert, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&FraudAlert{})
	if filter.AlertType != nil {
		q = q.Where("alert_type = ?", *filter.AlertType)
	}
	if filter.Severity != nil {
		q = q.Where("severity = ?", *filter.Severity)
	}
	if filter.BatchId != nil {
		q = q.Where("batch_id = ?", *filter.BatchId)
	}
	if filter.IsResolved != nil {
		q = q.Where("is_resolved = ?", *filter.IsResolved)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var alerts []FraudAlert
	err := q.Preload("Batch").Preload("Batch.Medicine").
		Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&alerts).Error
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func ResolveFraudAlert(ctx context.Context, alertId string, resolvedBy string, note string) (*FraudAlert, error) {
	db := config.GetDB()
	var alert FraudAlert
	if err := db.WithContext(ctx).First(&alert, "id = ?", alertId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	now := time.Now()
	update := map[string]any{
		"is_resolved":     true,
		"resolved_by":     resolvedBy,
		"resolved_at":     now,
		"resolution_note": note,
	}
	if err := db.WithContext(ctx).Model(&alert).Updates(update).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}
