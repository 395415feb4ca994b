package models

import (
	"context"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Medicine struct {
	ID               string          `gorm:"primary_key;size:36" json:"id"`
	Name             string          `gorm:"size:200;not null;index" json:"name" binding:"required"`
	GenericName      string          `gorm:"size:200" json:"generic_name"`
	Strength         string          `gorm:"size:50" json:"strength"`
	Composition      string          `gorm:"type:text" json:"composition"`
	DosageForm       string          `gorm:"size:50" json:"dosage_form"`
	Mrp              decimal.Decimal `gorm:"type:decimal(10,2)" json:"mrp"`
	StorageCondition string          `gorm:"size:200" json:"storage_condition"`
	ImageUrl         string          `gorm:"size:500" json:"image_url"`
	Description      string          `gorm:"type:text" json:"description"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Batches []Batch `gorm:"foreignKey:MedicineId" json:"batches,omitempty"`
}

type NewMedicine struct {
	Name             string          `json:"name" binding:"required"`
	GenericName      string          `json:"generic_name"`
	Strength         string          `json:"strength"`
	Composition      string          `json:"composition"`
	DosageForm       string          `json:"dosage_form"`
	Mrp              decimal.Decimal `json:"mrp"`
	StorageCondition string          `json:"storage_condition"`
	ImageUrl         string          `json:"image_url"`
	Description      string          `json:"description"`
}

func CreateMedicine(ctx context.Context, input *NewMedicine) (*Medicine, error) {
	medicine := Medicine{
		ID:               uuid.NewString(),
		Name:             input.Name,
		GenericName:      input.GenericName,
		Strength:         input.Strength,
		Composition:      input.Composition,
		DosageForm:       input.DosageForm,
		Mrp:              input.Mrp,
		StorageCondition: input.StorageCondition,
		ImageUrl:         input.ImageUrl,
		Description:      input.Description,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&medicine).Error; err != nil {
		return nil, err
	}
	return &medicine, nil
}

func GetMedicine(ctx context.Context, id string) (*Medicine, error) {
	db := config.GetDB()
	var medicine Medicine
	if err := db.WithContext(ctx).Where("id = ?", id).First(&medicine).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &medicine, nil
}

// SearchMedicines matches name, generic name or composition.
func SearchMedicines(ctx context.Context, query string, limit int, offset int) ([]Medicine, int64, error) {
	db := config.GetDB()
	var medicines []Medicine
	var total int64

	q := db.WithContext(ctx).Model(&Medicine{})
	if query != "" {
		like := "%" + query + "%"
		q = q.Where("name LIKE ? OR generic_name LIKE ? OR composition LIKE ?", like, like, like)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("name ASC").Limit(limit).Offset(offset).Find(&medicines).Error; err != nil {
		return nil, 0, err
	}
	return medicines, total, nil
}
