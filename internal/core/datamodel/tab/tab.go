package tab

import (
	"time"
)

// Tab is the outstanding balance a customer owes a bar. The payment core
// only reads it on initiation and reduces the balance once per completed
// transaction; everything else about tabs belongs to the ordering system.
type Tab struct {
	ID                 int64     `json:"id" gorm:"primaryKey"`
	BarID              int64     `json:"bar_id" gorm:"column:bar_id;not null;index:idx_tabs_bar_customer"`
	CustomerIdentifier string    `json:"customer_identifier" gorm:"column:customer_identifier;not null;index:idx_tabs_bar_customer"`
	Balance            int64     `json:"balance" gorm:"column:balance;not null;default:0"`
	CreatedAt          time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Tab) TableName() string {
	return "tabs"
}
