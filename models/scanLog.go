package models

import (
	"context"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ScanLog is the immutable record of one verification attempt. Batch and QR
// references are nullable: an unresolved code still leaves an audit row.
type ScanLog struct {
	ID                 string           `gorm:"primary_key;size:36" json:"id"`
	QRCodeId           *string          `gorm:"size:36;index" json:"qr_code_id"`
	BatchId            *string          `gorm:"size:36;index" json:"batch_id"`
	UserId             *string          `gorm:"size:36;index" json:"user_id"`
	RawCode            string           `gorm:"size:128" json:"raw_code"`
	DeviceId           string           `gorm:"size:100" json:"device_id"`
	DeviceModel        string           `gorm:"size:100" json:"device_model"`
	DeviceOS           string           `gorm:"size:50" json:"device_os"`
	AppVersion         string           `gorm:"size:20" json:"app_version"`
	LocationLat        *decimal.Decimal `gorm:"type:decimal(10,8)" json:"location_lat"`
	LocationLng        *decimal.Decimal `gorm:"type:decimal(11,8)" json:"location_lng"`
	LocationAddress    string           `gorm:"size:500" json:"location_address"`
	ScanType           ScanType         `gorm:"size:20;not null;default:'VERIFICATION'" json:"scan_type"`
	BlockchainVerified bool             `gorm:"not null;default:false" json:"blockchain_verified"`
	BlockchainStatus   string           `gorm:"size:50" json:"blockchain_status"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`

	QRCode *QRCode `gorm:"foreignKey:QRCodeId" json:"qr_code,omitempty"`
	Batch  *Batch  `gorm:"foreignKey:BatchId" json:"batch,omitempty"`
}

// NewScanLog carries everything the orchestrator knows by persist time.
type NewScanLog struct {
	QRCodeId           *string
	BatchId            *string
	UserId             *string
	RawCode            string
	DeviceId           string
	DeviceModel        string
	DeviceOS           string
	AppVersion         string
	LocationLat        *decimal.Decimal
	LocationLng        *decimal.Decimal
	LocationAddress    string
	ScanType           ScanType
	BlockchainVerified bool
	BlockchainStatus   string
}

func CreateScanLog(ctx context.Context, tx *gorm.DB, input *NewScanLog) (*ScanLog, error) {
	entry := ScanLog{
		ID:                 uuid.NewString(),
		QRCodeId:           input.QRCodeId,
		BatchId:            input.BatchId,
		UserId:             input.UserId,
		RawCode:            input.RawCode,
		DeviceId:           input.DeviceId,
		DeviceModel:        input.DeviceModel,
		DeviceOS:           input.DeviceOS,
		AppVersion:         input.AppVersion,
		LocationLat:        input.LocationLat,
		LocationLng:        input.LocationLng,
		LocationAddress:    input.LocationAddress,
		ScanType:           input.ScanType,
		BlockchainVerified: input.BlockchainVerified,
		BlockchainStatus:   input.BlockchainStatus,
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecentScanCount counts VERIFICATION/PURCHASE scans of one QR code inside
// the rolling window. DB fallback for the redis counter; a slightly stale
// read is fine, the detector surfaces anomalies, it does not gate access.
func RecentScanCount(ctx context.Context, qrCodeId string, window time.Duration) (int, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&ScanLog{}).
		Where("qr_code_id = ?", qrCodeId).
		Where("scan_type IN ?", []ScanType{ScanTypeVerification, ScanTypePurchase}).
		Where("created_at > ?", time.Now().Add(-window)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListScanLogs is the staff-facing listing: optionally scoped to one
// batch, newest first.
func ListScanLogs(ctx context.Context, batchId string, limit int) ([]ScanLog, error) {
	db := config.GetDB()
	var scans []ScanLog

	q := db.WithContext(ctx).Model(&ScanLog{})
	if batchId != "" {
		q = q.Where("batch_id = ?", batchId)
	}
	if err := q.Preload("Batch").Preload("Batch.Medicine").
		Order("created_at DESC").Limit(limit).Find(&scans).Error; err != nil {
		return nil, err
	}
	return scans, nil
}

func ListScanHistory(ctx context.Context, userId string, limit int, offset int) ([]ScanLog, int64, error) {
	db := config.GetDB()
	var scans []ScanLog
	var total int64

	q := db.WithContext(ctx).Model(&ScanLog{}).Where("user_id = ?", userId)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Preload("Batch").Preload("Batch.Medicine").
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&scans).Error; err != nil {
		return nil, 0, err
	}
	return scans, total, nil
}
