package model

import (
	"time"

	"coopcredit/pkg/money"
)

// PaymentAllocation records how much of one credit entry (payment or earned
// credit) was applied to one debit entry. Together they form the receipt.
type PaymentAllocation struct {
	ID             int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentEntryID int64       `gorm:"index;not null" json:"payment_entry_id"`
	DebitEntryID   int64       `gorm:"index;not null" json:"debit_entry_id"`
	MemberID       int64       `gorm:"index;not null" json:"member_id"`
	Amount         money.Cents `gorm:"not null" json:"amount"`
	// State of the debit right after this allocation.
	PaidAfter   money.Cents `gorm:"not null;default:0" json:"paid_after"`
	StatusAfter EntryStatus `gorm:"type:varchar(20);not null;default:''" json:"status_after"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (PaymentAllocation) TableName() string {
	return "payment_allocation"
}
