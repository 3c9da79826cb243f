package service

import (
	"context"
	"fmt"
	"time"

	"coopcredit/internal/infrastructure/metrics"
	"coopcredit/internal/model"
	"coopcredit/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScheduleService tracks installment rows. Marking overdue is a status
// change only; money moves through the allocator.
type ScheduleService struct {
	log          *zap.Logger
	memberRepo   *repository.MemberRepository
	scheduleRepo *repository.ScheduleRepository
	now          func() time.Time
}

func NewScheduleService(db *gorm.DB, log *zap.Logger) *ScheduleService {
	return &ScheduleService{
		log:          log,
		memberRepo:   repository.NewMemberRepository(db),
		scheduleRepo: repository.NewScheduleRepository(db),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// MarkOverdue flips the member's pending rows past their due date to overdue
// and returns how many changed.
func (s *ScheduleService) MarkOverdue(ctx context.Context, memberID int64) (int64, error) {
	if _, err := s.memberRepo.GetByID(ctx, nil, memberID); err != nil {
		return 0, err
	}
	count, err := s.scheduleRepo.MarkOverdue(ctx, nil, memberID, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	s.record(count, zap.Int64("member_id", memberID))
	return count, nil
}

func (s *ScheduleService) MarkAllOverdue(ctx context.Context) (int64, error) {
	count, err := s.scheduleRepo.MarkAllOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	s.record(count)
	return count, nil
}

func (s *ScheduleService) record(count int64, fields ...zap.Field) {
	if count == 0 {
		return
	}
	metrics.SchedulesMarkedOverdue.Add(float64(count))
	s.log.Info("schedules marked overdue", append(fields, zap.Int64("count", count))...)
}

func (s *ScheduleService) ListByMember(ctx context.Context, memberID int64) ([]*model.PaymentSchedule, error) {
	if _, err := s.memberRepo.GetByID(ctx, nil, memberID); err != nil {
		return nil, err
	}
	return s.scheduleRepo.ListByMember(ctx, memberID)
}
