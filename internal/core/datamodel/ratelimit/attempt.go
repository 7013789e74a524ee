package ratelimit

import (
	"time"
)

// Keys the limiter counts independently.
const (
	KeyCustomer = "customer"
	KeyPhone    = "phone"
	KeyIP       = "ip"
)

// Outcomes recorded per attempt. Allowed and denied rows are the attempt
// markers that consume window allowance; denied attempts count too, so
// repeated abuse keeps narrowing the remaining allowance. Success and
// failure rows only audit how an allowed attempt ended.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Attempt is one row in the sliding-window counters.
type Attempt struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	KeyType   string    `json:"key_type" gorm:"column:key_type;not null;index:idx_attempts_key_window"`
	KeyValue  string    `json:"key_value" gorm:"column:key_value;not null;index:idx_attempts_key_window"`
	Outcome   string    `json:"outcome" gorm:"column:outcome;not null"`
	Amount    int64     `json:"amount" gorm:"column:amount"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index:idx_attempts_key_window"`
}

func (Attempt) TableName() string {
	return "payment_attempts"
}
