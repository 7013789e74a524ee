package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
)

// PaymentCompletedEvent fires exactly once when a success callback moves a
// transaction to completed. Tab sync reduces the tab balance on it.
type PaymentCompletedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	TabID         int64  `json:"tab_id"`
	Amount        int64  `json:"amount"`
	ReceiptNumber string `json:"receipt_number"`
	PhoneNumber   string `json:"phone_number"`
}

func NewPaymentCompletedEvent(transactionID string, tabID int64, amount int64, receiptNumber, phoneNumber string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"tab_id":         tabID,
				"amount":         amount,
				"receipt_number": receiptNumber,
				"phone_number":   phoneNumber,
			},
		},
		TransactionID: transactionID,
		TabID:         tabID,
		Amount:        amount,
		ReceiptNumber: receiptNumber,
		PhoneNumber:   phoneNumber,
	}
}

// PaymentFailedEvent covers every non-completed terminal outcome; Status
// carries failed, cancelled or timeout.
type PaymentFailedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	TabID         int64  `json:"tab_id"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func NewPaymentFailedEvent(transactionID string, tabID int64, amount int64, status, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"tab_id":         tabID,
				"amount":         amount,
				"status":         status,
				"failure_reason": failureReason,
			},
		},
		TransactionID: transactionID,
		TabID:         tabID,
		Amount:        amount,
		Status:        status,
		FailureReason: failureReason,
	}
}
