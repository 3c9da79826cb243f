package model

import (
	"time"

	"coopcredit/pkg/money"
)

const (
	ScheduleStatusPending = "pending"
	ScheduleStatusOverdue = "overdue"
	ScheduleStatusPaid    = "paid"
)

// PaymentSchedule is one installment of a credit purchase.
//
// pending -> overdue once DueDate has passed unpaid; pending|overdue -> paid
// when PaidAmount reaches Amount. Overdue marking never moves money.
type PaymentSchedule struct {
	ID                int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID          int64       `gorm:"index;not null" json:"member_id"`
	LedgerEntryID     *int64      `gorm:"index" json:"ledger_entry_id,omitempty"`
	RelatedPurchaseID string      `gorm:"type:varchar(64);index" json:"related_purchase_id,omitempty"`
	InstallmentNo     int         `gorm:"not null" json:"installment_no"`
	Amount            money.Cents `gorm:"not null" json:"amount"`
	PaidAmount        money.Cents `gorm:"not null;default:0" json:"paid_amount"`
	DueDate           time.Time   `gorm:"index;not null" json:"due_date"`
	Status            string      `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentSchedule) TableName() string {
	return "payment_schedule"
}

func (s *PaymentSchedule) Remaining() money.Cents {
	return s.Amount - s.PaidAmount
}
