package callback

import (
	"encoding/json"
	"time"
)

// Disposition of an inbound callback after validation.
const (
	DispositionAccepted  = "accepted"
	DispositionDuplicate = "duplicate"
	DispositionRejected  = "rejected"
	DispositionOrphaned  = "orphaned"
)

// Event is the immutable audit record of every inbound provider callback.
// Payload is stored with sensitive fields redacted before persistence.
type Event struct {
	ID                int64           `json:"id" gorm:"primaryKey"`
	CheckoutRequestID string          `json:"checkout_request_id" gorm:"column:checkout_request_id;index"`
	Disposition       string          `json:"disposition" gorm:"column:disposition;not null"`
	Payload           json.RawMessage `json:"payload" gorm:"column:payload;type:jsonb"`
	ResultCode        *int            `json:"result_code,omitempty" gorm:"column:result_code"`
	Attempts          int             `json:"attempts" gorm:"column:attempts;default:0"`
	PermanentlyFailed bool            `json:"permanently_failed" gorm:"column:permanently_failed;default:false"`
	CreatedAt         time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (Event) TableName() string {
	return "callback_events"
}
