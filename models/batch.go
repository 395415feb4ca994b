package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Batch struct {
	ID                string          `gorm:"primary_key;size:36" json:"id"`
	BatchHash         string          `gorm:"size:64;not null;unique" json:"batch_hash"`
	BatchNumber       string          `gorm:"size:100;not null;index" json:"batch_number"`
	ManufacturerId    string          `gorm:"size:36;not null;index" json:"manufacturer_id"`
	MedicineId        string          `gorm:"size:36;not null;index" json:"medicine_id"`
	ManufacturingDate time.Time       `gorm:"not null" json:"manufacturing_date"`
	ExpiryDate        time.Time       `gorm:"not null" json:"expiry_date"`
	Status            BatchStatus     `gorm:"size:20;not null;default:'VALID'" json:"status"`
	LifecycleStatus   LifecycleStatus `gorm:"size:20;not null;default:'IN_PRODUCTION';index" json:"lifecycle_status"`
	BlockchainTxHash  *string         `gorm:"size:128" json:"blockchain_tx_hash"`
	BlockchainPda     *string         `gorm:"size:64" json:"blockchain_pda"`
	Quantity          int             `gorm:"not null" json:"quantity"`
	RemainingQuantity int             `gorm:"not null;default:0" json:"remaining_quantity"`
	InvoiceNumber     string          `gorm:"size:100" json:"invoice_number"`
	InvoiceDate       *time.Time      `json:"invoice_date"`
	GstNumber         string          `gorm:"size:50" json:"gst_number"`
	WarehouseLocation string          `gorm:"size:200" json:"warehouse_location"`
	WarehouseAddress  string          `gorm:"type:text" json:"warehouse_address"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Manufacturer *Manufacturer `gorm:"foreignKey:ManufacturerId" json:"manufacturer,omitempty"`
	Medicine     *Medicine     `gorm:"foreignKey:MedicineId" json:"medicine,omitempty"`
	QRCodes      []QRCode      `gorm:"foreignKey:BatchId" json:"qr_codes,omitempty"`
}

type NewBatch struct {
	BatchNumber       string     `json:"batch_number" binding:"required"`
	ManufacturerId    string     `json:"manufacturer_id" binding:"required"`
	MedicineId        string     `json:"medicine_id" binding:"required"`
	ManufacturingDate time.Time  `json:"manufacturing_date" binding:"required"`
	ExpiryDate        time.Time  `json:"expiry_date" binding:"required"`
	Quantity          int        `json:"quantity" binding:"required,gt=0"`
	BlockchainTxHash  *string    `json:"blockchain_tx_hash"`
	BlockchainPda     *string    `json:"blockchain_pda"`
	InvoiceNumber     string     `json:"invoice_number"`
	InvoiceDate       *time.Time `json:"invoice_date"`
	GstNumber         string     `json:"gst_number"`
	WarehouseLocation string     `json:"warehouse_location"`
	WarehouseAddress  string     `json:"warehouse_address"`
}

// ComputeBatchHash builds the canonical content fingerprint over the
// immutable manufacturing fields. The same recipe is anchored on chain at
// registration, so verification is byte-exact: change any input and the
// stored hash no longer matches.
func ComputeBatchHash(manufacturerId, medicineId, batchNumber string, manufacturingDate, expiryDate time.Time, quantity int) string {
	canonical := fmt.Sprintf("%s|%s|%s|%d|%d|%d",
		manufacturerId,
		medicineId,
		batchNumber,
		manufacturingDate.UTC().Unix(),
		expiryDate.UTC().Unix(),
		quantity,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:32]
}

func (input *NewBatch) validate(ctx context.Context) error {
	if !input.ExpiryDate.After(input.ManufacturingDate) {
		return errors.New("expiry date must be after manufacturing date")
	}
	if _, err := GetManufacturer(ctx, input.ManufacturerId); err != nil {
		return errors.New("manufacturer not found")
	}
	if _, err := GetMedicine(ctx, input.MedicineId); err != nil {
		return errors.New("medicine not found")
	}
	return nil
}

func CreateBatch(ctx context.Context, input *NewBatch) (*Batch, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	batch := Batch{
		ID:                uuid.NewString(),
		BatchHash:         ComputeBatchHash(input.ManufacturerId, input.MedicineId, input.BatchNumber, input.ManufacturingDate, input.ExpiryDate, input.Quantity),
		BatchNumber:       input.BatchNumber,
		ManufacturerId:    input.ManufacturerId,
		MedicineId:        input.MedicineId,
		ManufacturingDate: input.ManufacturingDate,
		ExpiryDate:        input.ExpiryDate,
		Status:            BatchStatusValid,
		LifecycleStatus:   LifecycleInProduction,
		BlockchainTxHash:  input.BlockchainTxHash,
		BlockchainPda:     input.BlockchainPda,
		Quantity:          input.Quantity,
		InvoiceNumber:     input.InvoiceNumber,
		InvoiceDate:       input.InvoiceDate,
		GstNumber:         input.GstNumber,
		WarehouseLocation: input.WarehouseLocation,
		WarehouseAddress:  input.WarehouseAddress,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func GetBatch(ctx context.Context, id string) (*Batch, error) {
	db := config.GetDB()
	var batch Batch
	if err := db.WithContext(ctx).
		Preload("Manufacturer").Preload("Medicine").
		Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &batch, nil
}

func ListBatches(ctx context.Context, manufacturerId string, limit int, offset int) ([]Batch, int64, error) {
	db := config.GetDB()
	var batches []Batch
	var total int64

	q := db.WithContext(ctx).Model(&Batch{})
	if manufacturerId != "" {
		q = q.Where("manufacturer_id = ?", manufacturerId)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Preload("Medicine").Order("created_at DESC").Limit(limit).Offset(offset).Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// RecallBatch marks the batch RECALLED. Both status and lifecycle move; the
// lifecycle state is absorbing and survives any in-flight scan's CAS retry.
func RecallBatch(ctx context.Context, tx *gorm.DB, batchId string, performedBy string, performedByRole string) error {
	var batch Batch
	if err := tx.WithContext(ctx).Where("id = ?", batchId).First(&batch).Error; err != nil {
		return utils.ErrorRecordNotFound
	}
	if batch.Status == BatchStatusRecalled {
		return nil
	}

	if err := tx.WithContext(ctx).Model(&Batch{}).Where("id = ?", batchId).Updates(map[string]interface{}{
		"status":           BatchStatusRecalled,
		"lifecycle_status": LifecycleRecalled,
	}).Error; err != nil {
		return err
	}

	return CreateAuditTrail(ctx, tx, &NewAuditTrail{
		EntityType:      "Batch",
		EntityId:        batchId,
		Action:          "RECALL",
		FieldName:       "status",
		OldValue:        string(batch.Status),
		NewValue:        string(BatchStatusRecalled),
		PerformedBy:     performedBy,
		PerformedByRole: performedByRole,
	})
}

var ErrInvalidLifecycleTransition = errors.New("lifecycle status can only move forward")

var lifecycleRank = map[LifecycleStatus]int{
	LifecycleInProduction:  0,
	LifecycleInTransit:     1,
	LifecycleAtDistributor: 2,
	LifecycleAtPharmacy:    3,
	LifecycleSold:          4,
}

// SetLifecycleStatus is the staff override for custody corrections. It only
// moves forward along the distribution chain (or parks the batch EXPIRED);
// recalls go through RecallBatch. Uses the same compare-and-swap as the scan
// path so a concurrent scan cannot be silently overwritten.
func SetLifecycleStatus(ctx context.Context, tx *gorm.DB, batchId string, next LifecycleStatus, performedBy string, performedByRole string) error {
	var batch Batch
	if err := tx.WithContext(ctx).Where("id = ?", batchId).First(&batch).Error; err != nil {
		return utils.ErrorRecordNotFound
	}
	if batch.LifecycleStatus == next {
		return nil
	}
	if batch.LifecycleStatus.IsTerminal() {
		return ErrInvalidLifecycleTransition
	}
	if next != LifecycleExpired {
		nextRank, ok := lifecycleRank[next]
		if !ok || nextRank <= lifecycleRank[batch.LifecycleStatus] {
			return ErrInvalidLifecycleTransition
		}
	}

	ok, err := CASLifecycleStatus(ctx, tx, batchId, batch.LifecycleStatus, next)
	if err != nil {
		return err
	}
	if !ok {
		return utils.ErrorScanNotCommitted
	}

	return CreateAuditTrail(ctx, tx, &NewAuditTrail{
		EntityType:      "Batch",
		EntityId:        batchId,
		Action:          "LIFECYCLE_TRANSITION",
		FieldName:       "lifecycle_status",
		OldValue:        string(batch.LifecycleStatus),
		NewValue:        string(next),
		PerformedBy:     performedBy,
		PerformedByRole: performedByRole,
	})
}

// CASLifecycleStatus commits a lifecycle transition only when the row still
// carries the state the caller computed against. Returns false on a lost
// race; the caller re-reads and recomputes.
func CASLifecycleStatus(ctx context.Context, tx *gorm.DB, batchId string, expected, next LifecycleStatus) (bool, error) {
	res := tx.WithContext(ctx).Model(&Batch{}).
		Where("id = ? AND lifecycle_status = ?", batchId, expected).
		Update("lifecycle_status", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DecrementRemainingQuantity consumes one unit on PURCHASE. Guarded so the
// counter never goes negative under concurrent sales.
func DecrementRemainingQuantity(ctx context.Context, tx *gorm.DB, batchId string) error {
	res := tx.WithContext(ctx).Model(&Batch{}).
		Where("id = ? AND remaining_quantity > 0", batchId).
		Update("remaining_quantity", gorm.Expr("remaining_quantity - 1"))
	return res.Error
}
