package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeNetwork        ErrorType = "NETWORK_ERROR"
	ErrorTypeAuthentication ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeCredential     ErrorType = "CREDENTIAL_ERROR"
	ErrorTypeRateLimit      ErrorType = "RATE_LIMIT_ERROR"
	ErrorTypeStateConflict  ErrorType = "STATE_CONFLICT"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidPhone     ErrorCode = "INVALID_PHONE_NUMBER"
	ErrCodeInvalidCallback  ErrorCode = "INVALID_CALLBACK"

	ErrCodeTransactionNotFound ErrorCode = "TRANSACTION_NOT_FOUND"
	ErrCodeTabNotFound         ErrorCode = "TAB_NOT_FOUND"
	ErrCodeRetryNotAllowed     ErrorCode = "RETRY_NOT_ALLOWED"

	ErrCodeCredentialsNotFound ErrorCode = "CREDENTIALS_NOT_FOUND"
	ErrCodeCredentialsInactive ErrorCode = "CREDENTIALS_INACTIVE"
	ErrCodeDecryptionFailed    ErrorCode = "DECRYPTION_FAILED"

	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected    ErrorCode = "PROVIDER_REJECTED"
	ErrCodeTokenRejected       ErrorCode = "TOKEN_REJECTED"

	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeDuplicateCallback ErrorCode = "DUPLICATE_CALLBACK"
	ErrCodeStaleTransition   ErrorCode = "STALE_TRANSITION"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	RetryAfter int         `json:"retry_after_seconds,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewNetworkError marks a transient provider failure. These are the only
// errors the outbound retry policy will re-attempt.
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Code:       ErrCodeProviderUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// NewAuthenticationError covers invalid provider credentials and rejected
// tokens. User-facing message stays generic; full detail lives in the cause.
func NewAuthenticationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Code:       ErrCodeTokenRejected,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

func NewCredentialError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeCredential,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewRateLimitError(message string, retryAfterSeconds int) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Code:       ErrCodeRateLimited,
		Message:    message,
		RetryAfter: retryAfterSeconds,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewStateConflictError records a lost optimistic-write race. Callers treat
// it as benign and must not surface it to users.
func NewStateConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeStateConflict,
		Code:       ErrCodeStaleTransition,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

var (
	ErrTransactionNotFound = NewNotFoundError("Transaction not found", ErrCodeTransactionNotFound)
	ErrTabNotFound         = NewNotFoundError("Tab not found", ErrCodeTabNotFound)
	ErrRetryNotAllowed     = NewValidationError("transaction is not in a retryable state", ErrCodeRetryNotAllowed)

	ErrCredentialsNotFound = NewCredentialError("Payment service configuration error", ErrCodeCredentialsNotFound)
	ErrCredentialsInactive = NewCredentialError("Payment service configuration error", ErrCodeCredentialsInactive)
	ErrDecryptionFailed    = NewCredentialError("Payment service configuration error", ErrCodeDecryptionFailed)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable reports whether an error qualifies for the outbound retry
// policy. Only transient network failures do; validation, authentication and
// credential errors never retry.
func IsRetryable(err error) bool {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type == ErrorTypeNetwork
	}
	return false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       ErrorType   `json:"type"`
		Code       ErrorCode   `json:"code"`
		Message    string      `json:"message"`
		Details    interface{} `json:"details,omitempty"`
		RetryAfter int         `json:"retry_after_seconds,omitempty"`
	}{
		Type:       e.Type,
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RetryAfter: e.RetryAfter,
	})
}
