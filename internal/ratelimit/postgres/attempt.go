package postgres

import (
	"context"
	"time"

	ratelimitmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/ratelimit"
	ratelimitpkg "github.com/billoapp/tabz-payments/internal/ratelimit"
	"gorm.io/gorm"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) ratelimitpkg.RepositoryAPI {
	return &AttemptRepository{
		db: db,
	}
}

// markerOutcomes are the rows that consume window allowance. Success and
// failure rows audit how an allowed attempt ended and must not count a
// second time.
var markerOutcomes = []string{ratelimitmodel.OutcomeAllowed, ratelimitmodel.OutcomeDenied}

func (r *AttemptRepository) CountSince(ctx context.Context, keyType, keyValue string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ratelimitmodel.Attempt{}).
		Where("key_type = ? AND key_value = ? AND outcome IN ? AND created_at >= ?", keyType, keyValue, markerOutcomes, since).
		Count(&count).Error
	return count, err
}

func (r *AttemptRepository) OldestSince(ctx context.Context, keyType, keyValue string, since time.Time) (*time.Time, error) {
	var attempt ratelimitmodel.Attempt
	err := r.db.WithContext(ctx).
		Where("key_type = ? AND key_value = ? AND outcome IN ? AND created_at >= ?", keyType, keyValue, markerOutcomes, since).
		Order("created_at ASC").
		First(&attempt).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &attempt.CreatedAt, nil
}

func (r *AttemptRepository) Record(ctx context.Context, attempts []*ratelimitmodel.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&attempts).Error
}
