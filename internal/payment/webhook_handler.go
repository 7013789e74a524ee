package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	callbackmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/callback"
	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
	"github.com/billoapp/tabz-payments/internal/core/events"
	"github.com/billoapp/tabz-payments/internal/retry"
	"github.com/billoapp/tabz-payments/internal/transport"
)

const maxCallbackBodyBytes = int64(65536)

// providerAck is the success-shaped acknowledgment the provider expects.
// It is returned for every delivery, including rejected and duplicate ones,
// so response shape never leaks validation logic.
type providerAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// WebhookHandler ingests provider callbacks: authenticate, parse, match,
// deduplicate, then apply the state transition and notify tab sync.
type WebhookHandler struct {
	*transport.BaseHandler
	repository    RepositoryAPI
	callbackAudit CallbackEventRepositoryAPI
	eventBus      *events.EventBus
	queue         *retry.Queue
	callbackToken string
	logger        *slog.Logger
}

func NewWebhookHandler(
	baseHandler *transport.BaseHandler,
	repository RepositoryAPI,
	callbackAudit CallbackEventRepositoryAPI,
	eventBus *events.EventBus,
	queue *retry.Queue,
	callbackToken string,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:   baseHandler,
		repository:    repository,
		callbackAudit: callbackAudit,
		eventBus:      eventBus,
		queue:         queue,
		callbackToken: callbackToken,
		logger:        logger,
	}
}

// HandleCallback processes POST /payments/callback. Callbacks are
// idempotent: redelivery of a terminal transaction is acknowledged without
// side effects because providers retry deliveries.
func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read callback body", "error", err)
		h.ack(w)
		return
	}

	ctx := r.Context()

	if !h.authenticate(r) {
		// security event: unauthenticated caller posting to the callback URL
		h.logger.Error("callback authentication failed",
			"remote_addr", r.RemoteAddr,
			"security_event", true)
		h.recordEvent(ctx, "", callbackmodel.DispositionRejected, raw, nil)
		h.ack(w)
		return
	}

	result, err := ParseCallback(raw)
	if err != nil {
		// ALERT: authenticated payload we could not parse needs operator eyes
		h.logger.Error("ALERT: discarding unparsable authenticated callback",
			"error", err)
		h.recordEvent(ctx, "", callbackmodel.DispositionRejected, raw, nil)
		h.ack(w)
		return
	}

	txn, err := h.repository.GetByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.logger.Warn("orphaned callback, no matching transaction",
				"checkout_request_id", result.CheckoutRequestID)
			h.recordEvent(ctx, result.CheckoutRequestID, callbackmodel.DispositionOrphaned, raw, &result.ResultCode)
		} else {
			// transient lookup failure; the provider retries deliveries
			h.logger.Error("transaction lookup failed for callback",
				"error", err,
				"checkout_request_id", result.CheckoutRequestID)
		}
		h.ack(w)
		return
	}

	if txn.IsTerminal() {
		h.logger.Info("duplicate callback for terminal transaction, skipping",
			"transaction_id", txn.ID,
			"checkout_request_id", result.CheckoutRequestID,
			"status", txn.Status)
		h.recordEvent(ctx, result.CheckoutRequestID, callbackmodel.DispositionDuplicate, raw, &result.ResultCode)
		h.ack(w)
		return
	}

	event := h.recordEvent(ctx, result.CheckoutRequestID, callbackmodel.DispositionAccepted, raw, &result.ResultCode)

	run := h.processor(txn, result)
	if err := run(ctx); err != nil {
		h.logger.Error("callback processing failed, queueing for retry",
			"error", err,
			"transaction_id", txn.ID)
		var eventID int64
		if event != nil {
			eventID = event.ID
		}
		h.queue.Enqueue(retry.Job{EventID: eventID, Run: func(ctx context.Context) error {
			if event != nil {
				if err := h.callbackAudit.IncrementAttempts(ctx, event.ID); err != nil {
					h.logger.Error("failed to bump callback attempt count", "error", err, "event_id", event.ID)
				}
			}
			return run(ctx)
		}})
	}

	h.ack(w)
}

func (h *WebhookHandler) authenticate(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" || h.callbackToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) == 1
}

// processor returns an idempotent closure that applies the transition and
// then notifies tab sync. The stages remember completion across retries so a
// re-run after a notify failure does not skip the notification.
func (h *WebhookHandler) processor(txn *transactionmodel.Transaction, result *CallbackResult) func(ctx context.Context) error {
	transitionDone := false
	lostRace := false

	return func(ctx context.Context) error {
		if !transitionDone {
			applied, err := h.applyTransition(ctx, txn, result)
			if err != nil {
				return err
			}
			transitionDone = true
			lostRace = !applied
		}
		if lostRace {
			// a concurrent delivery won the conditional write; nothing to do
			h.logger.Info("callback transition lost a race, discarding",
				"transaction_id", txn.ID)
			return nil
		}
		return h.notify(ctx, txn, result)
	}
}

func (h *WebhookHandler) applyTransition(ctx context.Context, txn *transactionmodel.Transaction, result *CallbackResult) (bool, error) {
	target, updates := transitionFor(result)

	applied, err := h.repository.UpdateStatusFrom(ctx, txn.ID, transactionmodel.StatusSent, target, updates)
	if err != nil {
		return false, err
	}
	if applied {
		h.logger.Info("callback applied",
			"transaction_id", txn.ID,
			"status", target,
			"result_code", result.ResultCode)
	}
	return applied, nil
}

func transitionFor(result *CallbackResult) (string, map[string]interface{}) {
	switch {
	case result.Success:
		// the provider-confirmed amount and payer phone overwrite the
		// initiation values; the settled figures are what the record keeps
		completedAt := parseTransactionDate(result.TransactionDate)
		return transactionmodel.StatusCompleted, map[string]interface{}{
			"receipt_number": result.ReceiptNumber,
			"result_code":    result.ResultCode,
			"amount":         result.Amount,
			"phone_number":   result.PhoneNumber,
			"completed_at":   completedAt,
		}
	case result.Cancelled:
		return transactionmodel.StatusCancelled, map[string]interface{}{
			"result_code": result.ResultCode,
		}
	default:
		return transactionmodel.StatusFailed, map[string]interface{}{
			"result_code":    result.ResultCode,
			"failure_reason": result.ResultDesc,
		}
	}
}

func (h *WebhookHandler) notify(ctx context.Context, txn *transactionmodel.Transaction, result *CallbackResult) error {
	if result.Success {
		event := events.NewPaymentCompletedEvent(txn.ID, txn.TabID, txn.Amount, result.ReceiptNumber, result.PhoneNumber)
		return h.eventBus.PublishSync(ctx, event)
	}

	status := transactionmodel.StatusFailed
	if result.Cancelled {
		status = transactionmodel.StatusCancelled
	}
	event := events.NewPaymentFailedEvent(txn.ID, txn.TabID, txn.Amount, status, result.ResultDesc)
	return h.eventBus.PublishSync(ctx, event)
}

func (h *WebhookHandler) recordEvent(ctx context.Context, checkoutRequestID, disposition string, raw []byte, resultCode *int) *callbackmodel.Event {
	event := &callbackmodel.Event{
		CheckoutRequestID: checkoutRequestID,
		Disposition:       disposition,
		Payload:           RedactCallbackPayload(raw),
		ResultCode:        resultCode,
		Attempts:          1,
	}
	if err := h.callbackAudit.Create(ctx, event); err != nil {
		// the audit trail must never block callback processing
		h.logger.Error("failed to persist callback audit event",
			"error", err,
			"disposition", disposition)
		return nil
	}
	return event
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	h.WriteJSON(w, http.StatusOK, providerAck{ResultCode: 0, ResultDesc: "Success"})
}

var nairobi = time.FixedZone("EAT", 3*60*60)

func parseTransactionDate(s string) time.Time {
	if t, err := time.ParseInLocation("20060102150405", s, nairobi); err == nil {
		return t
	}
	return time.Now()
}
