package model

import "time"

// PaymentEvent is the idempotency marker for inbound payment webhooks.
// One row exists per distinct external event id; its presence means the
// event's side effects have already been durably triggered and must not
// be repeated on redelivery.
type PaymentEvent struct {
	ID          int       `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"event_id"`
	EventType   string    `gorm:"type:varchar(100);not null" json:"event_type"`
	OrderID     int       `gorm:"not null;index" json:"order_id"`
	ProcessedAt time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

// TableName specifies the table name for PaymentEvent model
func (PaymentEvent) TableName() string {
	return "payment_events"
}
