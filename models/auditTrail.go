package models

import (
	"context"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditTrail records one field-level change on a tracked entity.
type AuditTrail struct {
	ID              string    `gorm:"primary_key;size:36" json:"id"`
	EntityType      string    `gorm:"size:50;not null;index:idx_audit_entity" json:"entity_type"`
	EntityId        string    `gorm:"size:36;not null;index:idx_audit_entity" json:"entity_id"`
	Action          string    `gorm:"size:50;not null" json:"action"`
	FieldName       string    `gorm:"size:100" json:"field_name"`
	OldValue        string    `gorm:"size:500" json:"old_value"`
	NewValue        string    `gorm:"size:500" json:"new_value"`
	PerformedBy     string    `gorm:"size:36" json:"performed_by"`
	PerformedByRole string    `gorm:"size:20" json:"performed_by_role"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewAuditTrail struct {
	EntityType      string
	EntityId        string
	Action          string
	FieldName       string
	OldValue        string
	NewValue        string
	PerformedBy     string
	PerformedByRole string
}

func CreateAuditTrail(ctx context.Context, tx *gorm.DB, input *NewAuditTrail) error {
	entry := AuditTrail{
		ID:              uuid.NewString(),
		EntityType:      input.EntityType,
		EntityId:        input.EntityId,
		Action:          input.Action,
		FieldName:       input.FieldName,
		OldValue:        input.OldValue,
		NewValue:        input.NewValue,
		PerformedBy:     input.PerformedBy,
		PerformedByRole: input.PerformedByRole,
	}
	return tx.WithContext(ctx).Create(&entry).Error
}

func ListAuditTrail(ctx context.Context, entityType string, entityId string, limit int) ([]AuditTrail, error) {
	db := config.GetDB()
	var entries []AuditTrail
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityId).
		Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
