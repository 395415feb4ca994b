package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID             string    `gorm:"primary_key;size:36" json:"id"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	Email          string    `gorm:"size:100;not null;unique" json:"email"`
	Password       string    `gorm:"size:100;not null" json:"-"`
	Role           UserRole  `gorm:"size:20;not null;default:'CONSUMER'" json:"role"`
	Phone          string    `gorm:"size:20" json:"phone"`
	ManufacturerId *string   `gorm:"size:36" json:"manufacturer_id"`
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Manufacturer *Manufacturer `gorm:"foreignKey:ManufacturerId" json:"manufacturer,omitempty"`
}

type NewUser struct {
	Name           string   `json:"name" validate:"required,max=100"`
	Email          string   `json:"email" validate:"required,email"`
	Password       string   `json:"password" validate:"required,min=8,max=72"`
	Role           UserRole `json:"role" validate:"required"`
	Phone          string   `json:"phone"`
	ManufacturerId *string  `json:"manufacturer_id"`
}

var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid email or password")
)

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	phone, err := utils.ValidatePhone(input.Phone, "")
	if err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	user := User{
		ID:             uuid.NewString(),
		Name:           input.Name,
		Email:          input.Email,
		Password:       string(hashed),
		Role:           input.Role,
		Phone:          phone,
		ManufacturerId: input.ManufacturerId,
		IsActive:       true,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	return &user, nil
}

// Authenticate checks credentials and returns the user on success. Inactive
// accounts fail the same way bad passwords do.
func Authenticate(ctx context.Context, email string, password string) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func GetUser(ctx context.Context, userId string) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Preload("Manufacturer").First(&user, "id = ?", userId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}
