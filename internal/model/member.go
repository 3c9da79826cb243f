package model

import (
	"time"

	"coopcredit/pkg/money"
)

// Member is a cooperative member with a cached credit balance.
//
// CreditBalance is a cache of the ledger aggregate and is written only by the
// balance synchronizer. It is never the source of truth.
type Member struct {
	ID                int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberNo          string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"member_no"`
	Name              string      `gorm:"type:varchar(128);not null" json:"name"`
	CreditBalance     money.Cents `gorm:"not null;default:0" json:"credit_balance"`
	CreditLimit       money.Cents `gorm:"not null;default:0" json:"credit_limit"`
	InterestAccruedAt *time.Time  `json:"interest_accrued_at,omitempty"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Member) TableName() string {
	return "member"
}

// AvailableCredit is how much more the member may buy on credit.
func (m *Member) AvailableCredit() money.Cents {
	return m.CreditLimit - m.CreditBalance
}
