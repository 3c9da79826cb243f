package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coopcredit/internal/model"
	"coopcredit/pkg/money"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository is the ledger store: the append-mostly table of credit
// entries that is the source of truth for every member balance.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func kindValues(kinds []model.EntryKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// fifoOrder is the total order used wherever FIFO semantics matter.
const fifoOrder = "occurred_at ASC, id ASC"

// Append inserts a new entry and returns its id. Debits start pending with
// nothing paid; credits carry no status.
func (r *LedgerRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (int64, error) {
	if !entry.Kind.IsValid() {
		return 0, fmt.Errorf("append ledger entry: unknown kind %q", entry.Kind)
	}
	if entry.MemberID <= 0 {
		return 0, fmt.Errorf("append ledger entry: missing member")
	}
	if entry.Amount <= 0 {
		return 0, fmt.Errorf("append ledger entry: amount must be positive, got %s", entry.Amount)
	}
	if entry.OccurredAt.IsZero() {
		return 0, fmt.Errorf("append ledger entry: missing occurred_at")
	}
	if entry.PaidAmount != 0 || entry.PenaltyApplied {
		return 0, &InvariantViolation{MemberID: entry.MemberID, Reason: "new entry must start unpaid and unpenalized"}
	}

	if entry.Kind.IsDebit() {
		entry.Status = model.EntryStatusPending
	} else {
		entry.Status = model.EntryStatusNone
	}

	if err := r.conn(tx).WithContext(ctx).Create(entry).Error; err != nil {
		return 0, err
	}
	return entry.ID, nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, tx *gorm.DB, entryID int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).Where("id = ?", entryID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, entryID int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", entryID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ListOutstandingDebits returns the member's debits that are not fully paid,
// oldest first by (occurred_at, id).
func (r *LedgerRepository) ListOutstandingDebits(ctx context.Context, tx *gorm.DB, memberID int64) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("member_id = ? AND kind IN ? AND status <> ?", memberID, kindValues(model.DebitKinds), model.EntryStatusFullyPaid).
		Order(fifoOrder).
		Find(&entries).Error
	return entries, err
}

// MutatePaidAmount moves a debit's paid amount forward. It must run inside
// the transaction that also recomputes the member balance.
//
// Any request that would decrease PaidAmount, push it past Amount, or pair
// it with an inconsistent status is refused with an InvariantViolation.
func (r *LedgerRepository) MutatePaidAmount(ctx context.Context, tx *gorm.DB, entryID int64, newPaid money.Cents, newStatus model.EntryStatus) error {
	current, err := r.GetByID(ctx, tx, entryID)
	if err != nil {
		return err
	}

	violation := func(format string, args ...interface{}) error {
		return &InvariantViolation{EntryID: entryID, MemberID: current.MemberID, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case !current.Kind.IsDebit():
		return violation("paid amount mutated on %s entry", current.Kind)
	case newPaid < current.PaidAmount:
		return violation("paid amount would decrease from %s to %s", current.PaidAmount, newPaid)
	case newPaid > current.Amount:
		return violation("paid amount %s would exceed amount %s", newPaid, current.Amount)
	case newStatus != model.DeriveStatus(current.Amount, newPaid):
		return violation("status %q inconsistent with paid %s of %s", newStatus, newPaid, current.Amount)
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ? AND paid_amount = ?", entryID, current.PaidAmount).
		Updates(map[string]interface{}{
			"paid_amount": newPaid,
			"status":      newStatus,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return violation("paid amount changed concurrently")
	}
	return nil
}

// MarkPenaltyApplied is the penalty idempotency check-and-set. It flips the
// flag only if it is still false (unless force) and reports whether it did.
func (r *LedgerRepository) MarkPenaltyApplied(ctx context.Context, tx *gorm.DB, entryID int64, force bool) (bool, error) {
	query := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ? AND kind = ?", entryID, model.EntryKindDebitSpent)
	if !force {
		query = query.Where("penalty_applied = ?", false)
	}

	result := query.Update("penalty_applied", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SumBalance is the balance aggregate: sum of debit amounts minus sum of
// credit amounts, computed by the database in one statement.
func (r *LedgerRepository) SumBalance(ctx context.Context, tx *gorm.DB, memberID int64) (money.Cents, error) {
	var total int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN kind IN ? THEN amount ELSE -amount END), 0)", kindValues(model.DebitKinds)).
		Where("member_id = ?", memberID).
		Row().
		Scan(&total)
	if err != nil {
		return 0, err
	}
	return money.Cents(total), nil
}

// OutstandingTotal sums the unpaid remainders of the member's debits.
func (r *LedgerRepository) OutstandingTotal(ctx context.Context, tx *gorm.DB, memberID int64) (money.Cents, error) {
	var total int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(amount - paid_amount), 0)").
		Where("member_id = ? AND kind IN ?", memberID, kindValues(model.DebitKinds)).
		Row().
		Scan(&total)
	if err != nil {
		return 0, err
	}
	return money.Cents(total), nil
}

// FindByRequestID returns the credit entry recorded for a client request id,
// or nil if there is none.
func (r *LedgerRepository) FindByRequestID(ctx context.Context, tx *gorm.DB, requestID string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).Where("request_id = ?", requestID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// FindSpentByPurchaseID returns the purchase entry for a sale, or nil.
func (r *LedgerRepository) FindSpentByPurchaseID(ctx context.Context, tx *gorm.DB, memberID int64, purchaseID string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("member_id = ? AND kind = ? AND related_purchase_id = ?", memberID, model.EntryKindDebitSpent, purchaseID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// OldestOutstandingDebitBefore returns the oldest unpaid debit that occurred
// at or before cutoff, or nil.
func (r *LedgerRepository) OldestOutstandingDebitBefore(ctx context.Context, tx *gorm.DB, memberID int64, cutoff time.Time) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("member_id = ? AND kind IN ? AND status <> ? AND occurred_at <= ?",
			memberID, kindValues(model.DebitKinds), model.EntryStatusFullyPaid, cutoff).
		Order(fifoOrder).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListPenaltyCandidates pages (by id) through unpaid, unpenalized purchase
// entries that carry credit terms. Due-date filtering is left to the engine.
func (r *LedgerRepository) ListPenaltyCandidates(ctx context.Context, afterID int64, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("id > ? AND kind = ? AND status <> ? AND penalty_applied = ? AND terms_penalty_type <> ''",
			afterID, model.EntryKindDebitSpent, model.EntryStatusFullyPaid, false).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ListChildren returns the adjustments linked to a parent entry (penalties).
func (r *LedgerRepository) ListChildren(ctx context.Context, tx *gorm.DB, parentID int64) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("parent_entry_id = ?", parentID).
		Order(fifoOrder).
		Find(&entries).Error
	return entries, err
}

// ListByMember returns one page of the member's statement, newest first.
func (r *LedgerRepository) ListByMember(ctx context.Context, memberID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("member_id = ?", memberID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("occurred_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
