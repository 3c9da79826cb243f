package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Credit events relayed to downstream consumers (statements, notifications)
// after the ledger transaction that produced them has committed.
const (
	EventPurchaseRecorded = "credit.purchase_recorded"
	EventPaymentAllocated = "credit.payment_allocated"
	EventCreditEarned     = "credit.credit_earned"
	EventAdjustmentPosted = "credit.adjustment_posted"
	EventInterestAccrued  = "credit.interest_accrued"
	EventPenaltyApplied   = "credit.penalty_applied"
)

// OutboxMessage is written in the same transaction as the ledger mutation and
// published by the outbox sender job, so a broker outage can never roll back
// or block a committed ledger change.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	MemberID   int64     `gorm:"index;not null" json:"member_id"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// NewOutboxMessage builds a pending message whose payload is the JSON
// encoding of body with the event type and member id folded in.
func NewOutboxMessage(topic, key, eventType string, memberID int64, body map[string]interface{}) (*OutboxMessage, error) {
	payload := make(map[string]interface{}, len(body)+2)
	for k, v := range body {
		payload[k] = v
	}
	payload["event"] = eventType
	payload["member_id"] = memberID

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		MemberID:   memberID,
		Payload:    string(b),
		Status:     OutboxStatusPending,
	}, nil
}
