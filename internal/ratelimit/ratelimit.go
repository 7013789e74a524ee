package ratelimit

import (
	"context"
	"time"

	ratelimitmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/ratelimit"
)

// RepositoryAPI is the storage contract for sliding-window attempt counters.
// CountSince and OldestSince see only the allowed and denied marker rows;
// the success and failure rows RecordOutcome adds are audit data and never
// consume allowance.
type RepositoryAPI interface {
	CountSince(ctx context.Context, keyType, keyValue string, since time.Time) (int64, error)
	OldestSince(ctx context.Context, keyType, keyValue string, since time.Time) (*time.Time, error)
	Record(ctx context.Context, attempts []*ratelimitmodel.Attempt) error
}

// Result of a limiter check.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Reason            string        `json:"reason,omitempty"`
	RetryAfter        time.Duration `json:"-"`
	RemainingAttempts int64         `json:"remaining_attempts"`
}

// ServiceAPI is consumed by the payment service.
type ServiceAPI interface {
	Check(ctx context.Context, customerID, phone, ip string, amount int64) (*Result, error)
	RecordOutcome(ctx context.Context, customerID, phone, ip string, outcome string, amount int64)
}
