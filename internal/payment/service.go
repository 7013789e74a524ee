package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/billoapp/tabz-payments/internal"
	ratelimitmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/ratelimit"
	tabmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/tab"
	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
	credentialpkg "github.com/billoapp/tabz-payments/internal/credential"
	"github.com/billoapp/tabz-payments/internal/mpesa"
	"github.com/billoapp/tabz-payments/internal/ratelimit"
	"github.com/billoapp/tabz-payments/internal/retry"
)

const transactionDesc = "Tab payment"

// Service orchestrates push payments: rate limiting, transaction creation,
// credential resolution, the outbound push and the resulting state
// transitions.
type Service struct {
	repository  RepositoryAPI
	tabs        TabRepositoryAPI
	vault       credentialpkg.VaultAPI
	tokens      TokenManagerAPI
	provider    ProviderAPI
	outbound    *retry.Outbound
	limiter     ratelimit.ServiceAPI
	environment string
	logger      *slog.Logger

	newID func() string
}

func NewService(
	repository RepositoryAPI,
	tabs TabRepositoryAPI,
	vault credentialpkg.VaultAPI,
	tokens TokenManagerAPI,
	provider ProviderAPI,
	outbound *retry.Outbound,
	limiter ratelimit.ServiceAPI,
	environment string,
	logger *slog.Logger,
) *Service {
	return &Service{
		repository:  repository,
		tabs:        tabs,
		vault:       vault,
		tokens:      tokens,
		provider:    provider,
		outbound:    outbound,
		limiter:     limiter,
		environment: environment,
		logger:      logger,
		newID:       func() string { return uuid.New().String() },
	}
}

// Initiate creates a pending transaction and submits the push. The
// transaction record survives push failure with a failure reason so the
// operator can retry it.
func (s *Service) Initiate(ctx context.Context, req *InitiateRequest, sourceIP string) (*InitiateResponse, error) {
	if err := req.Validate(); err != nil {
		s.logger.Warn("initiate validation failed", "error", err)
		return nil, err
	}

	tab, err := s.resolveTab(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.checkRateLimit(ctx, tab.CustomerIdentifier, req.PhoneNumber, sourceIP, req.Amount); err != nil {
		return nil, err
	}

	txn := &transactionmodel.Transaction{
		ID:                 s.newID(),
		TabID:              tab.ID,
		BarID:              tab.BarID,
		CustomerIdentifier: tab.CustomerIdentifier,
		PhoneNumber:        req.PhoneNumber,
		Amount:             req.Amount,
		Environment:        s.environment,
		Status:             transactionmodel.StatusPending,
	}

	if err := s.repository.Create(ctx, txn); err != nil {
		s.logger.Error("failed to create transaction", "error", err, "tab_id", tab.ID)
		return nil, apperrors.NewInternalError("failed to create transaction", err)
	}

	s.logger.Info("transaction created",
		"transaction_id", txn.ID,
		"tab_id", tab.ID,
		"amount", txn.Amount,
		"environment", txn.Environment)

	return s.submitPush(ctx, txn, sourceIP)
}

// Retry re-enters pending from a non-completed terminal state, clears the
// previous attempt's fields and submits a fresh push on the same record.
func (s *Service) Retry(ctx context.Context, transactionID, sourceIP string) (*InitiateResponse, error) {
	txn, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if !txn.CanRetry() {
		s.logger.Warn("retry rejected",
			"transaction_id", txn.ID,
			"status", txn.Status)
		return nil, apperrors.ErrRetryNotAllowed
	}

	if err := s.checkRateLimit(ctx, txn.CustomerIdentifier, txn.PhoneNumber, sourceIP, txn.Amount); err != nil {
		return nil, err
	}

	applied, err := s.repository.UpdateStatusFrom(ctx, txn.ID, txn.Status, transactionmodel.StatusPending, map[string]interface{}{
		"checkout_request_id": nil,
		"merchant_request_id": nil,
		"receipt_number":      nil,
		"result_code":         nil,
		"failure_reason":      nil,
		"completed_at":        nil,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to reset transaction for retry", err)
	}
	if !applied {
		// another request transitioned the record first
		s.logger.Info("retry lost a transition race, discarding",
			"transaction_id", txn.ID,
			"expected_status", txn.Status)
		return nil, apperrors.ErrRetryNotAllowed
	}

	txn.Status = transactionmodel.StatusPending
	s.logger.Info("transaction reset for retry", "transaction_id", txn.ID)

	return s.submitPush(ctx, txn, sourceIP)
}

// Status returns the current transaction snapshot.
func (s *Service) Status(ctx context.Context, transactionID string) (*TransactionView, error) {
	txn, err := s.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return ToView(txn), nil
}

func (s *Service) getTransaction(ctx context.Context, transactionID string) (*transactionmodel.Transaction, error) {
	txn, err := s.repository.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, apperrors.NewInternalError("transaction lookup failed", err)
	}
	return txn, nil
}

func (s *Service) resolveTab(ctx context.Context, req *InitiateRequest) (*tabmodel.Tab, error) {
	var (
		tab *tabmodel.Tab
		err error
	)
	if req.TabID != nil {
		tab, err = s.tabs.GetByID(ctx, *req.TabID)
	} else {
		tab, err = s.tabs.GetByBarAndCustomer(ctx, *req.BarID, req.CustomerIdentifier)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTabNotFound
		}
		return nil, apperrors.NewInternalError("tab lookup failed", err)
	}
	return tab, nil
}

func (s *Service) checkRateLimit(ctx context.Context, customerID, phone, sourceIP string, amount int64) error {
	result, err := s.limiter.Check(ctx, customerID, phone, sourceIP, amount)
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		return apperrors.NewInternalError("rate limit check failed", err)
	}
	if !result.Allowed {
		return apperrors.NewRateLimitError(result.Reason, int(result.RetryAfter.Seconds()))
	}
	return nil
}

// submitPush resolves credentials, builds the request and sends it under the
// outbound retry policy, then records the pending→sent or pending→failed
// transition.
func (s *Service) submitPush(ctx context.Context, txn *transactionmodel.Transaction, sourceIP string) (*InitiateResponse, error) {
	cred, err := s.vault.Resolve(ctx, txn.BarID, txn.Environment)
	if err != nil {
		s.failTransaction(ctx, txn, "Payment service configuration error")
		s.limiter.RecordOutcome(ctx, txn.CustomerIdentifier, txn.PhoneNumber, sourceIP, ratelimitmodel.OutcomeFailure, txn.Amount)
		return nil, err
	}

	accountReference := fmt.Sprintf("TAB%d", txn.TabID)
	push, err := mpesa.BuildSTKPush(cred, txn.Amount, txn.PhoneNumber, accountReference, transactionDesc, time.Now())
	if err != nil {
		s.logger.Error("failed to build push request", "error", err, "transaction_id", txn.ID)
		s.failTransaction(ctx, txn, "Payment service configuration error")
		s.limiter.RecordOutcome(ctx, txn.CustomerIdentifier, txn.PhoneNumber, sourceIP, ratelimitmodel.OutcomeFailure, txn.Amount)
		return nil, apperrors.NewInternalError("failed to build push request", err)
	}

	var pushResp *mpesa.STKPushResponse
	err = s.outbound.Do(ctx, "stkpush", func(ctx context.Context) error {
		accessToken, err := s.tokens.AccessToken(ctx, cred)
		if err != nil {
			return err
		}

		resp, err := s.provider.STKPush(ctx, accessToken, push)
		if err == nil {
			pushResp = resp
			return nil
		}

		if appErr, ok := apperrors.IsAppError(err); ok && appErr.Type == apperrors.ErrorTypeAuthentication {
			// cached token may be stale: invalidate and re-authenticate once
			s.tokens.Invalidate(cred)
			accessToken, tokenErr := s.tokens.AccessToken(ctx, cred)
			if tokenErr != nil {
				return tokenErr
			}
			resp, err = s.provider.STKPush(ctx, accessToken, push)
			if err != nil {
				return err
			}
			pushResp = resp
			return nil
		}

		return err
	})
	if err != nil {
		s.failTransaction(ctx, txn, failureReasonFor(err))
		s.limiter.RecordOutcome(ctx, txn.CustomerIdentifier, txn.PhoneNumber, sourceIP, ratelimitmodel.OutcomeFailure, txn.Amount)
		return nil, err
	}

	applied, err := s.repository.UpdateStatusFrom(ctx, txn.ID, transactionmodel.StatusPending, transactionmodel.StatusSent, map[string]interface{}{
		"checkout_request_id": pushResp.CheckoutRequestID,
		"merchant_request_id": pushResp.MerchantRequestID,
	})
	if err != nil {
		s.logger.Error("failed to record push acceptance", "error", err, "transaction_id", txn.ID)
		return nil, apperrors.NewInternalError("failed to record push acceptance", err)
	}
	if !applied {
		s.logger.Info("push acceptance lost a transition race, discarding",
			"transaction_id", txn.ID)
	}

	s.limiter.RecordOutcome(ctx, txn.CustomerIdentifier, txn.PhoneNumber, sourceIP, ratelimitmodel.OutcomeSuccess, txn.Amount)

	s.logger.Info("push accepted by provider",
		"transaction_id", txn.ID,
		"checkout_request_id", pushResp.CheckoutRequestID)

	return &InitiateResponse{
		Success:           true,
		TransactionID:     txn.ID,
		CheckoutRequestID: pushResp.CheckoutRequestID,
		CustomerMessage:   pushResp.CustomerMessage,
	}, nil
}

// failTransaction records pending→failed with a reason. A lost race means a
// concurrent request already moved the record; that is fine.
func (s *Service) failTransaction(ctx context.Context, txn *transactionmodel.Transaction, reason string) {
	applied, err := s.repository.UpdateStatusFrom(ctx, txn.ID, transactionmodel.StatusPending, transactionmodel.StatusFailed, map[string]interface{}{
		"failure_reason": reason,
	})
	if err != nil {
		s.logger.Error("failed to persist transaction failure",
			"error", err,
			"transaction_id", txn.ID,
			"reason", reason)
		return
	}
	if !applied {
		s.logger.Info("failure transition lost a race, discarding", "transaction_id", txn.ID)
	}
}

// failureReasonFor maps outbound errors to the persisted, user-safe failure
// reason. Provider error text never reaches the record.
func failureReasonFor(err error) string {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		return "Payment could not be processed"
	}
	switch appErr.Type {
	case apperrors.ErrorTypeAuthentication, apperrors.ErrorTypeCredential:
		return "Payment service configuration error"
	case apperrors.ErrorTypeNetwork:
		return "Payment provider unavailable"
	case apperrors.ErrorTypeValidation:
		return "Payment request rejected"
	default:
		return "Payment could not be processed"
	}
}
