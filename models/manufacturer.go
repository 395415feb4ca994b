package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/google/uuid"
)

type Manufacturer struct {
	ID            string    `gorm:"primary_key;size:36" json:"id"`
	Name          string    `gorm:"size:200;not null" json:"name" binding:"required"`
	LicenseNumber string    `gorm:"size:100;not null;unique" json:"license_number" binding:"required"`
	Address       string    `gorm:"type:text" json:"address"`
	City          string    `gorm:"size:100" json:"city"`
	State         string    `gorm:"size:100" json:"state"`
	Country       string    `gorm:"size:100" json:"country"`
	Phone         string    `gorm:"size:20" json:"phone"`
	Email         string    `gorm:"size:100" json:"email"`
	GstNumber     string    `gorm:"size:50" json:"gst_number"`
	WalletAddress *string   `gorm:"size:64;unique" json:"wallet_address"`
	IsVerified    bool      `gorm:"not null;default:false" json:"is_verified"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Batches []Batch `gorm:"foreignKey:ManufacturerId" json:"batches,omitempty"`
}

type NewManufacturer struct {
	Name          string  `json:"name" binding:"required"`
	LicenseNumber string  `json:"license_number" binding:"required"`
	Address       string  `json:"address"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email" binding:"omitempty,email"`
	GstNumber     string  `json:"gst_number"`
	WalletAddress *string `json:"wallet_address"`
}

func (input *NewManufacturer) validate(ctx context.Context) error {
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&Manufacturer{}).
		Where("license_number = ?", input.LicenseNumber).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("license number already registered")
	}
	phone, err := utils.ValidatePhone(input.Phone, "")
	if err != nil {
		return err
	}
	input.Phone = phone
	return nil
}

func CreateManufacturer(ctx context.Context, input *NewManufacturer) (*Manufacturer, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	manufacturer := Manufacturer{
		ID:            uuid.NewString(),
		Name:          input.Name,
		LicenseNumber: input.LicenseNumber,
		Address:       input.Address,
		City:          input.City,
		State:         input.State,
		Country:       input.Country,
		Phone:         input.Phone,
		Email:         input.Email,
		GstNumber:     input.GstNumber,
		WalletAddress: input.WalletAddress,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&manufacturer).Error; err != nil {
		return nil, err
	}
	return &manufacturer, nil
}

func GetManufacturer(ctx context.Context, id string) (*Manufacturer, error) {
	db := config.GetDB()
	var manufacturer Manufacturer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&manufacturer).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &manufacturer, nil
}

func ListManufacturers(ctx context.Context, query string, limit int, offset int) ([]Manufacturer, int64, error) {
	db := config.GetDB()
	var manufacturers []Manufacturer
	var total int64

	q := db.WithContext(ctx).Model(&Manufacturer{})
	if query != "" {
		q = q.Where("name LIKE ? OR license_number LIKE ?", "%"+query+"%", "%"+query+"%")
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("name ASC").Limit(limit).Offset(offset).Find(&manufacturers).Error; err != nil {
		return nil, 0, err
	}
	return manufacturers, total, nil
}

// VerifyManufacturer flips the regulator-verified flag. Admin only.
func VerifyManufacturer(ctx context.Context, id string) error {
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&Manufacturer{}).
		Where("id = ?", id).Update("is_verified", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
