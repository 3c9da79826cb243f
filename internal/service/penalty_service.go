package service

import (
	"context"
	"fmt"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/infrastructure/metrics"
	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/pkg/idgen"
	"coopcredit/pkg/money"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reasons a penalty was not posted.
const (
	PenaltySkipNoTerms     = "no_credit_terms"
	PenaltySkipNotDue      = "not_due"
	PenaltySkipPaid        = "fully_paid"
	PenaltySkipAlreadyDone = "already_penalized"
	PenaltySkipZeroPenalty = "zero_penalty"
)

// PenaltyService is the penalty accrual engine. A purchase entry moves
// not-due -> overdue -> penalized, and penalized is terminal.
type PenaltyService struct {
	db         *gorm.DB
	cfg        *config.Config
	log        *zap.Logger
	locker     ledgerLocker
	poster     debitPoster
	memberRepo *repository.MemberRepository
	ledgerRepo *repository.LedgerRepository
	now        func() time.Time
}

func NewPenaltyService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, log *zap.Logger) *PenaltyService {
	return &PenaltyService{
		db:         db,
		cfg:        cfg,
		log:        log,
		locker:     newLedgerLocker(redisClient, cfg),
		poster:     newDebitPoster(db, cfg, NewBalanceService(db, log)),
		memberRepo: repository.NewMemberRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type PenaltyOptions struct {
	// Now overrides the evaluation time.
	Now *time.Time
	// Force skips the already-penalized check and nothing else.
	Force bool
}

type PenaltyResult struct {
	EntryID      int64              `json:"entry_id"`
	Applied      bool               `json:"applied"`
	SkipReason   string             `json:"skip_reason,omitempty"`
	DueDate      *time.Time         `json:"due_date,omitempty"`
	Outstanding  money.Cents        `json:"outstanding"`
	Penalty      money.Cents        `json:"penalty"`
	PenaltyEntry *model.LedgerEntry `json:"penalty_entry,omitempty"`
	NewBalance   money.Cents        `json:"new_balance"`
}

// penaltyAmount is the charge on the entry's unpaid remainder under its
// snapshotted terms.
func penaltyAmount(terms model.CreditTerms, outstanding money.Cents) money.Cents {
	switch terms.PenaltyType {
	case model.PenaltyTypePercentage:
		return outstanding.Percent(terms.PenaltyValue)
	case model.PenaltyTypeFixed:
		return money.RoundDecimal(terms.PenaltyValue)
	default:
		return 0
	}
}

// ApplyPenaltyToCredit posts the late penalty for one purchase entry if it
// is overdue and not yet penalized. Calling it again is a no-op unless
// Force is set.
func (s *PenaltyService) ApplyPenaltyToCredit(ctx context.Context, entryID int64, opts PenaltyOptions) (*PenaltyResult, error) {
	if entryID <= 0 {
		return nil, invalid("entry_id", "must be positive")
	}
	now := s.now()
	if opts.Now != nil {
		if opts.Now.After(now) {
			return nil, invalid("now", "must not be in the future")
		}
		now = opts.Now.UTC()
	}

	entry, err := s.ledgerRepo.GetByID(ctx, nil, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Kind != model.EntryKindDebitSpent {
		return nil, invalid("entry_id", fmt.Sprintf("penalties apply to %s entries, got %s", model.EntryKindDebitSpent, entry.Kind))
	}

	unlock, err := s.locker.entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &PenaltyResult{EntryID: entryID}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByIDForUpdate(ctx, tx, entry.MemberID); err != nil {
			return err
		}
		current, err := s.ledgerRepo.GetByIDForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}

		result.Outstanding = current.Outstanding()
		if due, ok := current.DueDate(); ok {
			result.DueDate = &due
		}

		if reason := s.skipReason(current, now, opts.Force); reason != "" {
			result.SkipReason = reason
			return nil
		}

		penalty := penaltyAmount(current.Terms, result.Outstanding)
		if penalty <= 0 {
			result.SkipReason = PenaltySkipZeroPenalty
			return nil
		}

		marked, err := s.ledgerRepo.MarkPenaltyApplied(ctx, tx, entryID, opts.Force)
		if err != nil {
			return fmt.Errorf("mark penalty applied: %w", err)
		}
		if !marked {
			result.SkipReason = PenaltySkipAlreadyDone
			return nil
		}

		parentID := current.ID
		penaltyEntry := &model.LedgerEntry{
			ReferenceNo:       idgen.GenerateReferenceNo(idgen.PrefixPenalty),
			MemberID:          current.MemberID,
			Kind:              model.EntryKindDebitAdjustment,
			Amount:            penalty,
			RelatedPurchaseID: current.RelatedPurchaseID,
			ParentEntryID:     &parentID,
			ProductID:         current.ProductID,
			OccurredAt:        now,
			Notes: fmt.Sprintf("late penalty (%s %s) on outstanding %s of %s, due %s",
				current.Terms.PenaltyType, current.Terms.PenaltyValue.String(), result.Outstanding,
				current.ReferenceNo, result.DueDate.Format("2006-01-02")),
		}
		newBalance, err := s.poster.post(ctx, tx, penaltyEntry, model.EventPenaltyApplied, map[string]interface{}{
			"parent_entry_id":     parentID,
			"parent_reference_no": current.ReferenceNo,
			"penalty_type":        current.Terms.PenaltyType,
			"outstanding":         result.Outstanding.String(),
			"forced":              opts.Force,
		})
		if err != nil {
			return err
		}

		result.Applied = true
		result.Penalty = penalty
		result.PenaltyEntry = penaltyEntry
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		reportIntegrity(s.log, "penalty", err)
		return nil, err
	}

	if result.Applied {
		metrics.PenaltiesApplied.WithLabelValues(entry.Terms.PenaltyType).Inc()
		s.log.Info("penalty applied",
			zap.Int64("member_id", entry.MemberID),
			zap.Int64("entry_id", entryID),
			zap.String("penalty", result.Penalty.String()),
			zap.Bool("forced", opts.Force),
		)
	}
	return result, nil
}

func (s *PenaltyService) skipReason(entry *model.LedgerEntry, now time.Time, force bool) string {
	due, ok := entry.DueDate()
	switch {
	case !ok:
		return PenaltySkipNoTerms
	case entry.Outstanding() <= 0:
		return PenaltySkipPaid
	case !now.After(due):
		return PenaltySkipNotDue
	case entry.PenaltyApplied && !force:
		return PenaltySkipAlreadyDone
	}
	return ""
}

type PenaltyBatchResult struct {
	Scanned int         `json:"scanned"`
	Applied int         `json:"applied"`
	Failed  int         `json:"failed"`
	Total   money.Cents `json:"total"`
}

// ApplyProductPenalties scans every unpenalized purchase entry with credit
// terms and penalizes the overdue ones. Entries are handled one transaction
// each, so a failure is logged and the scan moves on.
func (s *PenaltyService) ApplyProductPenalties(ctx context.Context) (*PenaltyBatchResult, error) {
	batch := s.cfg.Job.BatchSize
	if batch <= 0 {
		batch = 100
	}
	now := s.now()

	summary := &PenaltyBatchResult{}
	var afterID int64
	for {
		candidates, err := s.ledgerRepo.ListPenaltyCandidates(ctx, afterID, batch)
		if err != nil {
			return summary, fmt.Errorf("list penalty candidates: %w", err)
		}
		for _, entry := range candidates {
			summary.Scanned++
			if due, ok := entry.DueDate(); !ok || !now.After(due) {
				continue
			}

			res, err := s.ApplyPenaltyToCredit(ctx, entry.ID, PenaltyOptions{Now: &now})
			if err != nil {
				summary.Failed++
				s.log.Error("apply penalty failed", zap.Int64("entry_id", entry.ID), zap.Error(err))
				continue
			}
			if res.Applied {
				summary.Applied++
				summary.Total += res.Penalty
			}
		}
		if len(candidates) < batch {
			return summary, nil
		}
		afterID = candidates[len(candidates)-1].ID
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}
}
