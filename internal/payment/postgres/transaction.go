package postgres

import (
	"context"
	"time"

	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
	paymentpkg "github.com/billoapp/tabz-payments/internal/payment"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &TransactionRepository{
		db: db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, t *transactionmodel.Transaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transactionmodel.Transaction, error) {
	var t transactionmodel.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*transactionmodel.Transaction, error) {
	var t transactionmodel.Transaction
	err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatusFrom applies a transition only when the row still holds the
// expected status. The conditional WHERE makes concurrent transitions safe:
// exactly one writer sees RowsAffected > 0, the rest report applied=false.
func (r *TransactionRepository) UpdateStatusFrom(ctx context.Context, id, fromStatus, toStatus string, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{
		"status":     toStatus,
		"updated_at": time.Now(),
	}
	for column, value := range updates {
		values[column] = value
	}

	result := r.db.WithContext(ctx).Model(&transactionmodel.Transaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *TransactionRepository) ListSentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*transactionmodel.Transaction, error) {
	var transactions []*transactionmodel.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", transactionmodel.StatusSent, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
