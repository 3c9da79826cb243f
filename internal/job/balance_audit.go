package job

import (
	"context"
	"fmt"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/infrastructure/metrics"
	"coopcredit/internal/repository"
	"coopcredit/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BalanceAuditJob checks every member's cached balance against the ledger.
// It only reports drift; repairs go through the recompute endpoint.
type BalanceAuditJob struct {
	db         *gorm.DB
	log        *zap.Logger
	memberRepo *repository.MemberRepository
	ledgerRepo *repository.LedgerRepository
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewBalanceAuditJob(db *gorm.DB, cfg *config.Config, log *zap.Logger) *BalanceAuditJob {
	return &BalanceAuditJob{
		db:         db,
		log:        log.Named("balance_audit"),
		memberRepo: repository.NewMemberRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		stopCh:     make(chan struct{}),
		interval:   time.Duration(positive(cfg.Job.AuditIntervalSeconds, 900)) * time.Second,
		batchSize:  positive(cfg.Job.BatchSize, 100),
	}
}

func (j *BalanceAuditJob) Start(ctx context.Context) {
	j.log.Info("balance audit started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("balance audit exiting")
			return
		case <-j.stopCh:
			j.log.Info("balance audit stopped")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.Error("balance audit failed", zap.Error(err))
			}
		}
	}
}

func (j *BalanceAuditJob) Stop() {
	close(j.stopCh)
}

// Drift is one member whose figures disagree.
type Drift struct {
	MemberID    int64       `json:"member_id"`
	Cached      money.Cents `json:"cached"`
	Ledger      money.Cents `json:"ledger"`
	Outstanding money.Cents `json:"outstanding"`
}

type AuditSummary struct {
	Checked int     `json:"checked"`
	Drifts  []Drift `json:"drifts"`
}

// RunOnce audits all members once.
func (j *BalanceAuditJob) RunOnce(ctx context.Context) (*AuditSummary, error) {
	summary := &AuditSummary{}
	var afterID int64
	for {
		ids, err := j.memberRepo.ListIDsAfter(ctx, afterID, j.batchSize)
		if err != nil {
			return summary, fmt.Errorf("list members: %w", err)
		}
		for _, id := range ids {
			drift, err := j.check(ctx, id)
			if err != nil {
				return summary, fmt.Errorf("audit member %d: %w", id, err)
			}
			summary.Checked++
			if drift == nil {
				continue
			}
			summary.Drifts = append(summary.Drifts, *drift)
			metrics.IntegrityErrors.WithLabelValues("audit").Inc()
			j.log.Error("balance drift",
				zap.Int64("member_id", drift.MemberID),
				zap.Stringer("cached", drift.Cached),
				zap.Stringer("ledger", drift.Ledger),
				zap.Stringer("outstanding", drift.Outstanding))
		}
		if len(ids) < j.batchSize {
			break
		}
		afterID = ids[len(ids)-1]
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	j.log.Info("balance audit finished",
		zap.Int("checked", summary.Checked),
		zap.Int("drifted", len(summary.Drifts)))
	return summary, nil
}

// check reads the three figures in one transaction so a concurrent mutation
// cannot show up as drift.
func (j *BalanceAuditJob) check(ctx context.Context, memberID int64) (*Drift, error) {
	var d Drift
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := j.memberRepo.GetByID(ctx, tx, memberID)
		if err != nil {
			return err
		}
		ledger, err := j.ledgerRepo.SumBalance(ctx, tx, memberID)
		if err != nil {
			return err
		}
		outstanding, err := j.ledgerRepo.OutstandingTotal(ctx, tx, memberID)
		if err != nil {
			return err
		}
		d = Drift{MemberID: memberID, Cached: member.CreditBalance, Ledger: ledger, Outstanding: outstanding}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.Cached == d.Ledger && d.Ledger == d.Outstanding {
		return nil, nil
	}
	return &d, nil
}
