package repository

import (
	"context"

	"coopcredit/internal/model"

	"gorm.io/gorm"
)

type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

func (r *AllocationRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AllocationRepository) CreateBatch(ctx context.Context, tx *gorm.DB, allocations []*model.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Create(&allocations).Error
}

// ListByPayment returns the receipt lines of one credit entry in the order
// they were applied.
func (r *AllocationRepository) ListByPayment(ctx context.Context, tx *gorm.DB, paymentEntryID int64) ([]*model.PaymentAllocation, error) {
	var allocations []*model.PaymentAllocation
	err := r.conn(tx).WithContext(ctx).
		Where("payment_entry_id = ?", paymentEntryID).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}

func (r *AllocationRepository) ListByDebit(ctx context.Context, debitEntryID int64) ([]*model.PaymentAllocation, error) {
	var allocations []*model.PaymentAllocation
	err := r.db.WithContext(ctx).
		Where("debit_entry_id = ?", debitEntryID).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}
