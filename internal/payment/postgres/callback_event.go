package postgres

import (
	"context"

	callbackmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/callback"
	paymentpkg "github.com/billoapp/tabz-payments/internal/payment"
	"gorm.io/gorm"
)

type CallbackEventRepository struct {
	db *gorm.DB
}

func NewCallbackEventRepository(db *gorm.DB) paymentpkg.CallbackEventRepositoryAPI {
	return &CallbackEventRepository{
		db: db,
	}
}

func (r *CallbackEventRepository) Create(ctx context.Context, e *callbackmodel.Event) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *CallbackEventRepository) IncrementAttempts(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&callbackmodel.Event{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *CallbackEventRepository) MarkPermanentlyFailed(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&callbackmodel.Event{}).
		Where("id = ?", id).
		Update("permanently_failed", true).Error
}
