package postgres

import (
	"context"

	tabmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/tab"
	paymentpkg "github.com/billoapp/tabz-payments/internal/payment"
	"gorm.io/gorm"
)

type TabRepository struct {
	db *gorm.DB
}

func NewTabRepository(db *gorm.DB) paymentpkg.TabRepositoryAPI {
	return &TabRepository{
		db: db,
	}
}

func (r *TabRepository) GetByID(ctx context.Context, id int64) (*tabmodel.Tab, error) {
	var t tabmodel.Tab
	err := r.db.WithContext(ctx).First(&t, id).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TabRepository) GetByBarAndCustomer(ctx context.Context, barID int64, customerIdentifier string) (*tabmodel.Tab, error) {
	var t tabmodel.Tab
	err := r.db.WithContext(ctx).
		Where("bar_id = ? AND customer_identifier = ?", barID, customerIdentifier).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TabRepository) ReduceBalance(ctx context.Context, id int64, amount int64) error {
	return r.db.WithContext(ctx).Model(&tabmodel.Tab{}).
		Where("id = ?", id).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount)).Error
}
