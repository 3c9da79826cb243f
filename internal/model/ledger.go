package model

import (
	"time"

	"coopcredit/pkg/money"
)

// ============================================================================
// Ledger entry kinds and statuses
// ============================================================================

type EntryKind string

const (
	EntryKindDebitSpent      EntryKind = "DEBIT_SPENT"      // purchase on credit
	EntryKindDebitAdjustment EntryKind = "DEBIT_ADJUSTMENT" // interest, penalty, manual correction
	EntryKindCreditPayment   EntryKind = "CREDIT_PAYMENT"   // member payment
	EntryKindCreditEarned    EntryKind = "CREDIT_EARNED"    // patronage refund, rebate
)

// DebitKinds increase what the member owes.
var DebitKinds = []EntryKind{EntryKindDebitSpent, EntryKindDebitAdjustment}

// CreditKinds decrease what the member owes.
var CreditKinds = []EntryKind{EntryKindCreditPayment, EntryKindCreditEarned}

func (k EntryKind) IsDebit() bool {
	return k == EntryKindDebitSpent || k == EntryKindDebitAdjustment
}

func (k EntryKind) IsCredit() bool {
	return k == EntryKindCreditPayment || k == EntryKindCreditEarned
}

func (k EntryKind) IsValid() bool {
	return k.IsDebit() || k.IsCredit()
}

type EntryStatus string

const (
	EntryStatusNone          EntryStatus = ""
	EntryStatusPending       EntryStatus = "pending"
	EntryStatusPartiallyPaid EntryStatus = "partially_paid"
	EntryStatusFullyPaid     EntryStatus = "fully_paid"
)

// DeriveStatus maps a paid amount to the debit status it implies.
func DeriveStatus(amount, paid money.Cents) EntryStatus {
	switch {
	case paid <= 0:
		return EntryStatusPending
	case paid >= amount:
		return EntryStatusFullyPaid
	default:
		return EntryStatusPartiallyPaid
	}
}

// ============================================================================
// Ledger entry
// ============================================================================

// LedgerEntry is one row of a member's credit ledger.
//
// Rules:
// 1. Amount, Kind, MemberID, OccurredAt, RequestedAmount and BalanceAfter
//    never change after insert.
// 2. Only PaidAmount, Status and PenaltyApplied are mutated, by the allocator
//    and the penalty engine.
// 3. Rows are never deleted.
//
// FIFO order is (OccurredAt, ID) ascending.
type LedgerEntry struct {
	ID                int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceNo       string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference_no"`
	MemberID          int64       `gorm:"index:idx_ledger_member_fifo,priority:1;not null" json:"member_id"`
	Kind              EntryKind   `gorm:"type:varchar(32);index;not null" json:"kind"`
	Amount            money.Cents `gorm:"not null" json:"amount"`
	PaidAmount        money.Cents `gorm:"not null;default:0" json:"paid_amount"`
	Status            EntryStatus `gorm:"type:varchar(20);index;not null;default:''" json:"status,omitempty"`
	RelatedPurchaseID string      `gorm:"type:varchar(64);index" json:"related_purchase_id,omitempty"`
	ParentEntryID     *int64      `gorm:"index" json:"parent_entry_id,omitempty"`
	RequestID         *string     `gorm:"type:varchar(64);uniqueIndex" json:"request_id,omitempty"`
	ProductID         string      `gorm:"type:varchar(64)" json:"product_id,omitempty"`
	Terms             CreditTerms `gorm:"embedded;embeddedPrefix:terms_" json:"terms"`
	PenaltyApplied    bool        `gorm:"not null;default:false" json:"penalty_applied"`
	OccurredAt        time.Time   `gorm:"index:idx_ledger_member_fifo,priority:2;not null" json:"occurred_at"`
	Notes             string      `gorm:"type:varchar(512)" json:"notes"`
	// Credit entries only: what the caller asked to apply and the balance
	// the allocation left, so a receipt is rebuilt exactly as first reported.
	RequestedAmount money.Cents `gorm:"not null;default:0" json:"requested_amount,omitempty"`
	BalanceAfter    money.Cents `gorm:"not null;default:0" json:"balance_after,omitempty"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// Outstanding is the unpaid remainder of a debit entry.
func (e *LedgerEntry) Outstanding() money.Cents {
	if !e.Kind.IsDebit() {
		return 0
	}
	return e.Amount - e.PaidAmount
}

// DueDate returns when a purchase falls due under its snapshotted terms.
func (e *LedgerEntry) DueDate() (time.Time, bool) {
	if e.Kind != EntryKindDebitSpent || !e.Terms.IsSet() {
		return time.Time{}, false
	}
	return e.OccurredAt.AddDate(0, 0, e.Terms.DueDays), true
}
