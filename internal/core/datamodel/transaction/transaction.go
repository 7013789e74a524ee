package transaction

import (
	"time"
)

// Status values follow the push-payment lifecycle. A transaction is created
// pending, moves to sent once the provider accepts the push, and reaches a
// terminal status through a callback or the timeout sweep.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

type Transaction struct {
	ID                 string     `json:"id" gorm:"primaryKey;type:uuid"`
	TabID              int64      `json:"tab_id" gorm:"column:tab_id;not null;index"`
	BarID              int64      `json:"bar_id" gorm:"column:bar_id;not null;index"`
	CustomerIdentifier string     `json:"customer_identifier" gorm:"column:customer_identifier;not null"`
	PhoneNumber        string     `json:"phone_number" gorm:"column:phone_number;not null"`
	Amount             int64      `json:"amount" gorm:"column:amount;not null"`
	Environment        string     `json:"environment" gorm:"column:environment;not null"`
	Status             string     `json:"status" gorm:"column:status;not null;default:pending;index"`
	CheckoutRequestID  *string    `json:"checkout_request_id,omitempty" gorm:"column:checkout_request_id;uniqueIndex"`
	MerchantRequestID  *string    `json:"merchant_request_id,omitempty" gorm:"column:merchant_request_id"`
	ReceiptNumber      *string    `json:"receipt_number,omitempty" gorm:"column:receipt_number"`
	ResultCode         *int       `json:"result_code,omitempty" gorm:"column:result_code"`
	FailureReason      *string    `json:"failure_reason,omitempty" gorm:"column:failure_reason"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
	CreatedAt          time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt          time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// IsTerminal reports whether no further automatic transition applies.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// CanRetry reports whether an explicit retry may re-enter pending.
// Completed is absorbing; pending and sent are still in flight.
func (t *Transaction) CanRetry() bool {
	switch t.Status {
	case StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}
