package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	apperrors "github.com/billoapp/tabz-payments/internal"
)

// Outbound is the retry policy for provider calls: up to three re-attempts
// with 1s, 2s, 4s delays, and only for transient network failures.
// Validation and authentication errors surface immediately.
type Outbound struct {
	logger      *slog.Logger
	maxRetries  uint64
	baseBackoff time.Duration
}

func NewOutbound(logger *slog.Logger) *Outbound {
	return &Outbound{
		logger:      logger,
		maxRetries:  3,
		baseBackoff: time.Second,
	}
}

// Do runs fn under the outbound policy.
func (o *Outbound) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(o.maxRetries, retry.NewExponential(o.baseBackoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if apperrors.IsRetryable(err) {
			o.logger.Warn("transient provider failure, will retry",
				"operation", op,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		o.logger.Error("operation failed",
			"operation", op,
			"attempts", attempt,
			"error", err)
	}
	return err
}
