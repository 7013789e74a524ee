package payment

import (
	"strings"
	"time"

	errors "github.com/billoapp/tabz-payments/internal"
	"github.com/billoapp/tabz-payments/internal/core/common/validation"
	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
)

// InitiateRequest starts a push payment against a tab. The tab is addressed
// either directly by id or by (bar, customer identifier).
type InitiateRequest struct {
	TabID              *int64 `json:"tabId,omitempty"`
	BarID              *int64 `json:"barId,omitempty"`
	CustomerIdentifier string `json:"customerIdentifier,omitempty"`
	PhoneNumber        string `json:"phoneNumber"`
	Amount             int64  `json:"amount"`
}

// NormalizePhone rewrites accepted local formats (07…, +254…, 254…) into the
// canonical international form the provider expects.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.ReplaceAll(p, " ", "")
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	return p
}

func (r *InitiateRequest) Validate() error {
	r.PhoneNumber = NormalizePhone(r.PhoneNumber)

	validator := validation.NewValidator()
	validator.Field("phone_number", r.PhoneNumber).Required().Phone()
	validator.Field("amount", r.Amount).Required().MinInt(1, errors.ErrCodeInvalidAmount)

	if r.TabID == nil {
		if r.BarID == nil || r.CustomerIdentifier == "" {
			return errors.NewValidationError("either tabId or barId with customerIdentifier is required", errors.ErrCodeValidationFailed)
		}
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// InitiateResponse is shared by initiate and retry.
type InitiateResponse struct {
	Success           bool   `json:"success"`
	TransactionID     string `json:"transactionId"`
	CheckoutRequestID string `json:"checkoutRequestId,omitempty"`
	CustomerMessage   string `json:"customerMessage,omitempty"`
}

// TransactionView is the status snapshot returned to operators.
type TransactionView struct {
	ID                string     `json:"id"`
	TabID             int64      `json:"tabId"`
	PhoneNumber       string     `json:"phoneNumber"`
	Amount            int64      `json:"amount"`
	Environment       string     `json:"environment"`
	Status            string     `json:"status"`
	CheckoutRequestID *string    `json:"checkoutRequestId,omitempty"`
	ReceiptNumber     *string    `json:"receiptNumber,omitempty"`
	ResultCode        *int       `json:"resultCode,omitempty"`
	FailureReason     *string    `json:"failureReason,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func ToView(t *transactionmodel.Transaction) *TransactionView {
	return &TransactionView{
		ID:                t.ID,
		TabID:             t.TabID,
		PhoneNumber:       t.PhoneNumber,
		Amount:            t.Amount,
		Environment:       t.Environment,
		Status:            t.Status,
		CheckoutRequestID: t.CheckoutRequestID,
		ReceiptNumber:     t.ReceiptNumber,
		ResultCode:        t.ResultCode,
		FailureReason:     t.FailureReason,
		CompletedAt:       t.CompletedAt,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}
