package repository

import (
	"context"
	"fmt"
	"time"

	"coopcredit/internal/model"
	"coopcredit/pkg/money"

	"gorm.io/gorm"
)

type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *ScheduleRepository) CreateBatch(ctx context.Context, tx *gorm.DB, rows []*model.PaymentSchedule) error {
	if len(rows) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Create(&rows).Error
}

// ListUnpaidByEntry returns the installments of a purchase entry that still
// owe money, earliest due first.
func (r *ScheduleRepository) ListUnpaidByEntry(ctx context.Context, tx *gorm.DB, entryID int64) ([]*model.PaymentSchedule, error) {
	var rows []*model.PaymentSchedule
	err := r.conn(tx).WithContext(ctx).
		Where("ledger_entry_id = ? AND status <> ?", entryID, model.ScheduleStatusPaid).
		Order("due_date ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// ApplyPayment records newPaid on an installment. The row flips to paid once
// it is covered; an overdue row stays overdue until then.
func (r *ScheduleRepository) ApplyPayment(ctx context.Context, tx *gorm.DB, row *model.PaymentSchedule, newPaid money.Cents) error {
	if newPaid < row.PaidAmount || newPaid > row.Amount {
		return &InvariantViolation{
			MemberID: row.MemberID,
			Reason:   fmt.Sprintf("installment %d paid %s out of range [%s, %s]", row.ID, newPaid, row.PaidAmount, row.Amount),
		}
	}

	status := row.Status
	if newPaid == row.Amount {
		status = model.ScheduleStatusPaid
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.PaymentSchedule{}).
		Where("id = ? AND paid_amount = ?", row.ID, row.PaidAmount).
		Updates(map[string]interface{}{
			"paid_amount": newPaid,
			"status":      status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &InvariantViolation{MemberID: row.MemberID, Reason: fmt.Sprintf("installment %d changed concurrently", row.ID)}
	}

	row.PaidAmount = newPaid
	row.Status = status
	return nil
}

// MarkOverdue flips the member's pending installments whose due date is
// before now to overdue and returns how many changed.
func (r *ScheduleRepository) MarkOverdue(ctx context.Context, tx *gorm.DB, memberID int64, now time.Time) (int64, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.PaymentSchedule{}).
		Where("member_id = ? AND status = ? AND due_date < ?", memberID, model.ScheduleStatusPending, now).
		Update("status", model.ScheduleStatusOverdue)
	return result.RowsAffected, result.Error
}

// MarkAllOverdue is MarkOverdue across every member.
func (r *ScheduleRepository) MarkAllOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.PaymentSchedule{}).
		Where("status = ? AND due_date < ?", model.ScheduleStatusPending, now).
		Update("status", model.ScheduleStatusOverdue)
	return result.RowsAffected, result.Error
}

func (r *ScheduleRepository) ListByMember(ctx context.Context, memberID int64) ([]*model.PaymentSchedule, error) {
	var rows []*model.PaymentSchedule
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("due_date ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *ScheduleRepository) ListByEntry(ctx context.Context, entryID int64) ([]*model.PaymentSchedule, error) {
	var rows []*model.PaymentSchedule
	err := r.db.WithContext(ctx).
		Where("ledger_entry_id = ?", entryID).
		Order("installment_no ASC").
		Find(&rows).Error
	return rows, err
}
