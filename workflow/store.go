package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"gorm.io/gorm"
)

// ScanStore is the persistence surface the orchestrator needs. Narrow on
// purpose: tests drive the whole workflow against in-memory fakes.
type ScanStore interface {
	ResolveCode(ctx context.Context, code string) (*models.QRCode, error)
	CountRecentScans(ctx context.Context, qrCodeId string, window time.Duration) (int, error)
	LastLocatedScan(ctx context.Context, qrCodeId string) (*models.ScanLog, error)
	InTransaction(ctx context.Context, fn func(tx ScanTx) error) error
}

// ScanTx is the transactional slice of the store. Every method joins the
// enclosing database transaction.
type ScanTx interface {
	BeginIdempotency(ctx context.Context, handler string, token string) (*models.IdempotencyKey, error)
	MarkIdempotencySucceeded(ctx context.Context, handler string, token string, result []byte) error
	ReloadBatch(ctx context.Context, batchId string) (*models.Batch, error)
	CASLifecycle(ctx context.Context, batchId string, expected models.LifecycleStatus, next models.LifecycleStatus) (bool, error)
	DecrementRemaining(ctx context.Context, batchId string) error
	CreateScanLog(ctx context.Context, input *models.NewScanLog) (*models.ScanLog, error)
	CreateFraudAlert(ctx context.Context, input *models.NewFraudAlert) (*models.FraudAlert, error)
	CreateAlertEvent(ctx context.Context, input *models.NewAlertEvent) (*models.AlertEvent, error)
	CreateAuditTrail(ctx context.Context, input *models.NewAuditTrail) error
}

// GormScanStore backs ScanStore with gorm plus the redis scan counter.
type GormScanStore struct{}

func NewGormScanStore() *GormScanStore {
	return &GormScanStore{}
}

func (s *GormScanStore) ResolveCode(ctx context.Context, code string) (*models.QRCode, error) {
	return models.GetQRCodeByCode(ctx, code)
}

// CountRecentScans uses the redis sliding counter when redis is connected
// and falls back to a scan_logs window query otherwise. The counter is
// incremented here, so the returned value already includes the scan in
// flight.
func (s *GormScanStore) CountRecentScans(ctx context.Context, qrCodeId string, window time.Duration) (int, error) {
	key := fmt.Sprintf("scan_count:%s", qrCodeId)
	count, err := config.IncrRedisCounterWithWindow(ctx, key, window)
	if err == nil && count > 0 {
		return int(count), nil
	}
	n, dbErr := models.RecentScanCount(ctx, qrCodeId, window)
	if dbErr != nil {
		return 0, dbErr
	}
	return n + 1, nil
}

func (s *GormScanStore) LastLocatedScan(ctx context.Context, qrCodeId string) (*models.ScanLog, error) {
	db := config.GetDB()
	var scan models.ScanLog
	err := db.WithContext(ctx).
		Where("qr_code_id = ? AND location_lat IS NOT NULL AND location_lng IS NOT NULL", qrCodeId).
		Order("created_at DESC").First(&scan).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &scan, nil
}

func (s *GormScanStore) InTransaction(ctx context.Context, fn func(tx ScanTx) error) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormScanTx{tx: tx})
	})
}

type gormScanTx struct {
	tx *gorm.DB
}

func (t *gormScanTx) BeginIdempotency(ctx context.Context, handler string, token string) (*models.IdempotencyKey, error) {
	return models.BeginIdempotency(ctx, t.tx, handler, token)
}

func (t *gormScanTx) MarkIdempotencySucceeded(ctx context.Context, handler string, token string, result []byte) error {
	return models.MarkIdempotencySucceeded(ctx, t.tx, handler, token, result)
}

func (t *gormScanTx) ReloadBatch(ctx context.Context, batchId string) (*models.Batch, error) {
	var batch models.Batch
	if err := t.tx.WithContext(ctx).First(&batch, "id = ?", batchId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (t *gormScanTx) CASLifecycle(ctx context.Context, batchId string, expected models.LifecycleStatus, next models.LifecycleStatus) (bool, error) {
	return models.CASLifecycleStatus(ctx, t.tx, batchId, expected, next)
}

func (t *gormScanTx) DecrementRemaining(ctx context.Context, batchId string) error {
	return models.DecrementRemainingQuantity(ctx, t.tx, batchId)
}

func (t *gormScanTx) CreateScanLog(ctx context.Context, input *models.NewScanLog) (*models.ScanLog, error) {
	return models.CreateScanLog(ctx, t.tx, input)
}

func (t *gormScanTx) CreateFraudAlert(ctx context.Context, input *models.NewFraudAlert) (*models.FraudAlert, error) {
	return models.CreateFraudAlert(ctx, t.tx, input)
}

func (t *gormScanTx) CreateAlertEvent(ctx context.Context, input *models.NewAlertEvent) (*models.AlertEvent, error) {
	return models.CreateAlertEvent(ctx, t.tx, input)
}

func (t *gormScanTx) CreateAuditTrail(ctx context.Context, input *models.NewAuditTrail) error {
	return models.CreateAuditTrail(ctx, t.tx, input)
}
