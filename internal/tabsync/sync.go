package tabsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/billoapp/tabz-payments/internal/core/events"
	"github.com/billoapp/tabz-payments/internal/payment"
)

// Syncer keeps tab balances in step with terminal payment outcomes. It is
// the thin edge between the payment core and the ordering system: a
// completed payment reduces the tab balance exactly once.
type Syncer struct {
	tabs   payment.TabRepositoryAPI
	logger *slog.Logger
}

func NewSyncer(tabs payment.TabRepositoryAPI, logger *slog.Logger) *Syncer {
	return &Syncer{
		tabs:   tabs,
		logger: logger,
	}
}

func (s *Syncer) HandlePaymentCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		s.logger.Error("invalid event type for payment completed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentCompletedEvent, got %T", event)
	}

	if err := s.tabs.ReduceBalance(ctx, completed.TabID, completed.Amount); err != nil {
		s.logger.Error("failed to reduce tab balance",
			"error", err,
			"tab_id", completed.TabID,
			"transaction_id", completed.TransactionID,
			"amount", completed.Amount)
		return fmt.Errorf("reduce balance for tab %d: %w", completed.TabID, err)
	}

	s.logger.Info("tab balance updated for completed payment",
		"tab_id", completed.TabID,
		"transaction_id", completed.TransactionID,
		"amount", completed.Amount,
		"receipt_number", completed.ReceiptNumber)

	return nil
}

func (s *Syncer) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		s.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	// balance is untouched; the outcome is recorded for the ordering side
	s.logger.Info("payment did not complete, tab balance unchanged",
		"tab_id", failed.TabID,
		"transaction_id", failed.TransactionID,
		"status", failed.Status,
		"failure_reason", failed.FailureReason)

	return nil
}

func (s *Syncer) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentCompleted, s.HandlePaymentCompleted)
	eventBus.Subscribe(events.EventTypePaymentFailed, s.HandlePaymentFailed)

	s.logger.Info("tab sync event handlers registered",
		"handlers", []string{events.EventTypePaymentCompleted, events.EventTypePaymentFailed})
}
