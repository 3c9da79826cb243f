package repository

import (
	"context"
	"errors"
	"time"

	"coopcredit/internal/model"
	"coopcredit/pkg/money"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *MemberRepository) Create(ctx context.Context, member *model.Member) error {
	existing, err := r.GetByMemberNo(ctx, member.MemberNo)
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return err
	}
	if existing != nil {
		return ErrDuplicateMemberNo
	}
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *MemberRepository) GetByID(ctx context.Context, tx *gorm.DB, memberID int64) (*model.Member, error) {
	var member model.Member
	err := r.conn(tx).WithContext(ctx).Where("id = ?", memberID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByMemberNo(ctx context.Context, memberNo string) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).Where("member_no = ?", memberNo).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// GetByIDForUpdate takes the per-member row lock. Every operation that
// changes a member's ledger takes it first, before any entry row lock.
func (r *MemberRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, memberID int64) (*model.Member, error) {
	var member model.Member
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", memberID).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// UpdateCreditBalance overwrites the cached balance. Only the balance
// synchronizer calls it.
func (r *MemberRepository) UpdateCreditBalance(ctx context.Context, tx *gorm.DB, memberID int64, balance money.Cents) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", memberID).
		Update("credit_balance", balance)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// mysql reports 0 affected rows when nothing changed; tell that
		// apart from a missing member
		if _, err := r.GetByID(ctx, tx, memberID); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemberRepository) UpdateInterestAccruedAt(ctx context.Context, tx *gorm.DB, memberID int64, at time.Time) error {
	return r.conn(tx).WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", memberID).
		Update("interest_accrued_at", at).Error
}

func (r *MemberRepository) UpdateCreditLimit(ctx context.Context, memberID int64, limit money.Cents) error {
	result := r.db.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", memberID).
		Update("credit_limit", limit)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ListIDsAfter pages through all members by id (keyset pagination).
func (r *MemberRepository) ListIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Member{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListIDsWithBalanceAfter pages through members whose cached balance is
// positive; used only to pick interest candidates, the engine recomputes.
func (r *MemberRepository) ListIDsWithBalanceAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Member{}).
		Where("id > ? AND credit_balance > 0", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
