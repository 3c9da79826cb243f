package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PenaltyTypePercentage = "percentage"
	PenaltyTypeFixed      = "fixed"
)

// CreditTerms are the per-product credit conditions. They are read-only input
// to the ledger: a copy is snapshotted onto every purchase entry so later
// catalog edits do not change the terms a purchase was made under.
//
// PenaltyValue is a percent (10 = 10%) for percentage penalties and a currency
// amount for fixed penalties.
type CreditTerms struct {
	DueDays      int             `gorm:"not null;default:0" json:"due_days"`
	PenaltyType  string          `gorm:"type:varchar(16);not null;default:''" json:"penalty_type"`
	PenaltyValue decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"penalty_value"`
}

// IsSet reports whether the terms carry a penalty policy.
func (t CreditTerms) IsSet() bool {
	return t.PenaltyType != ""
}

func (t CreditTerms) IsValid() bool {
	if !t.IsSet() {
		return t.DueDays == 0 && t.PenaltyValue.IsZero()
	}
	if t.DueDays < 0 || t.PenaltyValue.IsNegative() {
		return false
	}
	return t.PenaltyType == PenaltyTypePercentage || t.PenaltyType == PenaltyTypeFixed
}

// ProductCreditTerms is the local replica of the catalog's credit terms.
type ProductCreditTerms struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"product_id"`
	Terms     CreditTerms `gorm:"embedded" json:"terms"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProductCreditTerms) TableName() string {
	return "product_credit_terms"
}
