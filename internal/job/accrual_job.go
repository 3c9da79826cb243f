package job

import (
	"context"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/service"
	"coopcredit/pkg/money"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccrualJob runs the periodic charges: product penalties on overdue
// purchases, overdue marking of installment rows and, when enabled, interest.
type AccrualJob struct {
	log             *zap.Logger
	penalties       *service.PenaltyService
	schedules       *service.ScheduleService
	interest        *service.InterestService
	interestEnabled bool
	stopCh          chan struct{}
	interval        time.Duration
}

func NewAccrualJob(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *zap.Logger) *AccrualJob {
	return &AccrualJob{
		log:             log.Named("accrual_job"),
		penalties:       service.NewPenaltyService(db, rdb, cfg, log),
		schedules:       service.NewScheduleService(db, log),
		interest:        service.NewInterestService(db, rdb, cfg, log),
		interestEnabled: cfg.Credit.InterestEnabled,
		stopCh:          make(chan struct{}),
		interval:        time.Duration(positive(cfg.Job.AccrualIntervalSeconds, 3600)) * time.Second,
	}
}

func (j *AccrualJob) Start(ctx context.Context) {
	j.log.Info("accrual job started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("accrual job exiting")
			return
		case <-j.stopCh:
			j.log.Info("accrual job stopped")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.Error("accrual run failed", zap.Error(err))
			}
		}
	}
}

func (j *AccrualJob) Stop() {
	close(j.stopCh)
}

type AccrualSummary struct {
	PenaltiesApplied int         `json:"penalties_applied"`
	PenaltyTotal     money.Cents `json:"penalty_total"`
	MarkedOverdue    int64       `json:"marked_overdue"`
	InterestCharged  int         `json:"interest_charged"`
	InterestTotal    money.Cents `json:"interest_total"`
	Failed           int         `json:"failed"`
}

// RunOnce performs one accrual pass. Penalties run before overdue marking so
// both see the same set of past-due purchases.
func (j *AccrualJob) RunOnce(ctx context.Context) (*AccrualSummary, error) {
	summary := &AccrualSummary{}

	penalties, err := j.penalties.ApplyProductPenalties(ctx)
	if err != nil {
		return summary, err
	}
	summary.PenaltiesApplied = penalties.Applied
	summary.PenaltyTotal = penalties.Total
	summary.Failed += penalties.Failed

	marked, err := j.schedules.MarkAllOverdue(ctx)
	if err != nil {
		return summary, err
	}
	summary.MarkedOverdue = marked

	if j.interestEnabled {
		interest, err := j.interest.AccrueAll(ctx)
		if err != nil {
			return summary, err
		}
		summary.InterestCharged = interest.Charged
		summary.InterestTotal = interest.Total
		summary.Failed += interest.Failed
	}

	j.log.Info("accrual run finished",
		zap.Int("penalties_applied", summary.PenaltiesApplied),
		zap.Stringer("penalty_total", summary.PenaltyTotal),
		zap.Int64("marked_overdue", summary.MarkedOverdue),
		zap.Int("interest_charged", summary.InterestCharged),
		zap.Stringer("interest_total", summary.InterestTotal),
		zap.Int("failed", summary.Failed))
	return summary, nil
}
