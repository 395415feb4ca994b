package models

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

type QRCode struct {
	ID         string    `gorm:"primary_key;size:36" json:"id"`
	Code       string    `gorm:"size:128;not null;unique" json:"code"`
	BatchId    string    `gorm:"size:36;not null;index" json:"batch_id"`
	UnitNumber *int      `json:"unit_number"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Batch *Batch `gorm:"foreignKey:BatchId" json:"batch,omitempty"`
}

// generateCodeString builds the printable token. Batch prefix + unit number
// keep codes debuggable on the factory floor; the random suffix keeps them
// unguessable.
func generateCodeString(batchId string, unitNumber int) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	prefix := batchId
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("QR-%s-%d-%d-%s", prefix, unitNumber, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// GenerateQRCodes mints one code per unit for a batch. One-shot: a batch
// that already has codes keeps them.
func GenerateQRCodes(ctx context.Context, batchId string, quantity int, performedBy string, performedByRole string) ([]QRCode, error) {
	if quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}

	db := config.GetDB()
	var codes []QRCode
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch Batch
		if err := tx.Where("id = ?", batchId).First(&batch).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		var existing int64
		if err := tx.Model(&QRCode{}).Where("batch_id = ?", batchId).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errors.New("QR codes already generated for this batch")
		}

		codes = make([]QRCode, 0, quantity)
		for i := 1; i <= quantity; i++ {
			unit := i
			codes = append(codes, QRCode{
				ID:         uuid.NewString(),
				Code:       generateCodeString(batchId, i),
				BatchId:    batchId,
				UnitNumber: &unit,
				IsActive:   true,
			})
		}
		if err := tx.CreateInBatches(&codes, 200).Error; err != nil {
			return err
		}

		if err := tx.Model(&Batch{}).Where("id = ?", batchId).
			Update("remaining_quantity", quantity).Error; err != nil {
			return err
		}

		return CreateAuditTrail(ctx, tx, &NewAuditTrail{
			EntityType:      "Batch",
			EntityId:        batchId,
			Action:          "CREATE",
			FieldName:       "qrCodes",
			NewValue:        fmt.Sprintf("Generated %d QR codes", quantity),
			PerformedBy:     performedBy,
			PerformedByRole: performedByRole,
		})
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func GetQRCodeByCode(ctx context.Context, code string) (*QRCode, error) {
	db := config.GetDB()
	var qr QRCode
	if err := db.WithContext(ctx).
		Preload("Batch").Preload("Batch.Medicine").Preload("Batch.Manufacturer").
		Where("code = ?", code).First(&qr).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &qr, nil
}

func ListQRCodesForBatch(ctx context.Context, batchId string, limit int, offset int) ([]QRCode, int64, error) {
	db := config.GetDB()
	var codes []QRCode
	var total int64

	q := db.WithContext(ctx).Model(&QRCode{}).Where("batch_id = ?", batchId)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("unit_number ASC").Limit(limit).Offset(offset).Find(&codes).Error; err != nil {
		return nil, 0, err
	}
	return codes, total, nil
}

// DeactivateQRCode retires a code (damaged label, confirmed clone). Scans of
// a deactivated code still resolve but are flagged by the rule engine.
func DeactivateQRCode(ctx context.Context, qrCodeId string, performedBy string, performedByRole string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&QRCode{}).Where("id = ?", qrCodeId).Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return CreateAuditTrail(ctx, tx, &NewAuditTrail{
			EntityType:      "QRCode",
			EntityId:        qrCodeId,
			Action:          "UPDATE",
			FieldName:       "isActive",
			OldValue:        "true",
			NewValue:        "false",
			PerformedBy:     performedBy,
			PerformedByRole: performedByRole,
		})
	})
}

// RenderQRCodePNG rasterizes the code string for label printing.
func RenderQRCodePNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}
