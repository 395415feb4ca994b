package models

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IdempotencyKey deduplicates client submissions per handler. The unique
// (handler, token) index is the actual guard; everything else is bookkeeping
// so a replay can return the original outcome.
type IdempotencyKey struct {
	ID        string            `gorm:"primary_key;size:36" json:"id"`
	Handler   string            `gorm:"size:50;not null;uniqueIndex:idx_handler_token" json:"handler"`
	Token     string            `gorm:"size:100;not null;uniqueIndex:idx_handler_token" json:"token"`
	Status    IdempotencyStatus `gorm:"size:10;not null;default:'STARTED'" json:"status"`
	Result    datatypes.JSON    `json:"result"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrDuplicateInFlight means another request holds the same token and has
// not finished yet. Callers should surface a retry-later response.
var ErrDuplicateInFlight = errors.New("request with this idempotency token is still in progress")

// BeginIdempotency claims (handler, token) inside tx. Returns (nil, nil) for
// a fresh claim; the prior row when a finished attempt exists; and
// ErrDuplicateInFlight when a STARTED row is found.
func BeginIdempotency(ctx context.Context, tx *gorm.DB, handler string, token string) (*IdempotencyKey, error) {
	key := IdempotencyKey{
		ID:      uuid.NewString(),
		Handler: handler,
		Token:   token,
		Status:  IdempotencyStatusStarted,
	}
	err := tx.WithContext(ctx).Create(&key).Error
	if err == nil {
		return nil, nil
	}
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != 1062 {
		return nil, err
	}

	var existing IdempotencyKey
	if err := tx.WithContext(ctx).
		First(&existing, "handler = ? AND token = ?", handler, token).Error; err != nil {
		return nil, err
	}
	if existing.Status == IdempotencyStatusStarted {
		return nil, ErrDuplicateInFlight
	}
	return &existing, nil
}

func MarkIdempotencySucceeded(ctx context.Context, tx *gorm.DB, handler string, token string, result []byte) error {
	return tx.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("handler = ? AND token = ?", handler, token).
		Updates(map[string]any{
			"status": IdempotencyStatusSucceeded,
			"result": datatypes.JSON(result),
		}).Error
}
