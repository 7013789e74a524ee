package payment

import (
	"context"
	"log/slog"
	"time"

	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
	"github.com/billoapp/tabz-payments/internal/core/events"
)

const sweepBatchSize = 100

// Sweeper moves sent transactions whose callback never arrived to timeout.
// This is the authoritative recovery path for pushes that were accepted but
// never resolved; a caller-side timeout does not roll a transaction back.
type Sweeper struct {
	repository RepositoryAPI
	eventBus   *events.EventBus
	window     time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

func NewSweeper(repository RepositoryAPI, eventBus *events.EventBus, window, interval time.Duration, logger *slog.Logger) *Sweeper {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		repository: repository,
		eventBus:   eventBus,
		window:     window,
		interval:   interval,
		logger:     logger,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("timeout sweeper started",
		"window", s.window.String(),
		"interval", s.interval.String())

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("timeout sweeper stopped")
			return
		}
	}
}

// Sweep transitions every overdue sent transaction to timeout. A lost
// conditional write means a callback landed first, which is the preferred
// outcome.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.window)

	overdue, err := s.repository.ListSentBefore(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("timeout sweep query failed", "error", err)
		return
	}

	for _, txn := range overdue {
		applied, err := s.repository.UpdateStatusFrom(ctx, txn.ID, transactionmodel.StatusSent, transactionmodel.StatusTimeout, nil)
		if err != nil {
			s.logger.Error("failed to time out transaction", "error", err, "transaction_id", txn.ID)
			continue
		}
		if !applied {
			continue
		}

		s.logger.Warn("transaction timed out waiting for callback",
			"transaction_id", txn.ID,
			"checkout_request_id", txn.CheckoutRequestID,
			"sent_at", txn.UpdatedAt)

		event := events.NewPaymentFailedEvent(txn.ID, txn.TabID, txn.Amount, transactionmodel.StatusTimeout, "no callback within timeout window")
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish timeout event", "error", err, "transaction_id", txn.ID)
		}
	}
}
