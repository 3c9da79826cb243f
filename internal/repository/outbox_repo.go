package repository

import (
	"context"

	"coopcredit/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create must be given the ledger transaction so the event commits or rolls
// back with the mutation it describes.
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// GetPendingMessages returns unsent events in commit order.
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// pending scopes a status change to a message that is still PENDING, so a
// relay that raced another one cannot move a SENT row back.
func (r *OutboxRepository) pending(ctx context.Context, id int64) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending)
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.pending(ctx, id).Update("status", model.OutboxStatusSent).Error
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.pending(ctx, id).UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

// MarkAsFailed counts the final attempt and parks the message.
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.pending(ctx, id).Updates(map[string]interface{}{
		"status":      model.OutboxStatusFailed,
		"retry_count": gorm.Expr("retry_count + 1"),
	}).Error
}

// CountByStatus backs the outbox backlog figure on the health endpoint.
func (r *OutboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("status = ?", status).
		Count(&n).Error
	return n, err
}

// ListByMember returns the member's events, newest first.
func (r *OutboxRepository) ListByMember(ctx context.Context, memberID int64, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
