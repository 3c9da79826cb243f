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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const daysPerMonth = 30

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalHundred = decimal.NewFromInt(100)
)

// InterestService is the interest accrual engine.
type InterestService struct {
	db         *gorm.DB
	cfg        *config.Config
	log        *zap.Logger
	locker     ledgerLocker
	poster     debitPoster
	memberRepo *repository.MemberRepository
	ledgerRepo *repository.LedgerRepository
	now        func() time.Time
}

func NewInterestService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, log *zap.Logger) *InterestService {
	return &InterestService{
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

type InterestResult struct {
	MemberID   int64              `json:"member_id"`
	Interest   money.Cents        `json:"interest"`
	Days       int                `json:"days"`
	Balance    money.Cents        `json:"balance"`
	Entry      *model.LedgerEntry `json:"entry,omitempty"`
	NewBalance money.Cents        `json:"new_balance"`
}

// compoundInterest is balance * ((1 + r/100/30)^days - 1), rounded to cents
// and never negative.
func compoundInterest(balance money.Cents, monthlyRate decimal.Decimal, days int) money.Cents {
	if balance <= 0 || days <= 0 || !monthlyRate.IsPositive() {
		return 0
	}
	daily := monthlyRate.Div(decimalHundred).Div(decimal.NewFromInt(daysPerMonth))
	factor := decimalOne.Add(daily).Pow(decimal.NewFromInt(int64(days))).Sub(decimalOne)
	return money.Max(money.RoundDecimal(balance.Decimal().Mul(factor)), 0)
}

// AccrueInterest charges daily-compounded interest on the member's balance
// once the oldest unpaid debit is past the grace period. Days already
// charged by an earlier run are not charged again.
func (s *InterestService) AccrueInterest(ctx context.Context, memberID int64) (*InterestResult, error) {
	if memberID <= 0 {
		return nil, invalid("member_id", "must be positive")
	}

	unlock, err := s.locker.member(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rate := decimal.NewFromFloat(s.cfg.Credit.InterestMonthlyRate)
	now := s.now()
	result := &InterestResult{MemberID: memberID}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		member, err := s.memberRepo.GetByIDForUpdate(ctx, tx, memberID)
		if err != nil {
			return err
		}

		balance, err := s.ledgerRepo.SumBalance(ctx, tx, memberID)
		if err != nil {
			return fmt.Errorf("sum ledger balance: %w", err)
		}
		result.Balance = balance
		result.NewBalance = balance
		if balance <= 0 {
			return nil
		}

		cutoff := now.AddDate(0, 0, -s.cfg.Credit.InterestGraceDays)
		oldest, err := s.ledgerRepo.OldestOutstandingDebitBefore(ctx, tx, memberID, cutoff)
		if err != nil {
			return fmt.Errorf("find aged debit: %w", err)
		}
		if oldest == nil {
			return nil
		}

		from := oldest.OccurredAt
		if member.InterestAccruedAt != nil && member.InterestAccruedAt.After(from) {
			from = *member.InterestAccruedAt
		}
		days := int(now.Sub(from).Hours() / 24)
		result.Days = days

		interest := compoundInterest(balance, rate, days)
		if interest <= 0 {
			return nil
		}

		entry := &model.LedgerEntry{
			ReferenceNo: idgen.GenerateReferenceNo(idgen.PrefixInterest),
			MemberID:    memberID,
			Kind:        model.EntryKindDebitAdjustment,
			Amount:      interest,
			OccurredAt:  now,
			Notes: fmt.Sprintf("interest %s%%/month compounded daily for %d days on balance %s since %s",
				rate.String(), days, balance, from.Format("2006-01-02")),
		}
		newBalance, err := s.poster.post(ctx, tx, entry, model.EventInterestAccrued, map[string]interface{}{
			"days":         days,
			"monthly_rate": rate.String(),
			"principal":    balance.String(),
		})
		if err != nil {
			return err
		}
		if err := s.memberRepo.UpdateInterestAccruedAt(ctx, tx, memberID, now); err != nil {
			return fmt.Errorf("store interest watermark: %w", err)
		}

		result.Interest = interest
		result.Entry = entry
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		reportIntegrity(s.log, "interest", err)
		return nil, err
	}

	if result.Interest > 0 {
		metrics.InterestPosted.Inc()
		s.log.Info("interest accrued",
			zap.Int64("member_id", memberID),
			zap.Int("days", result.Days),
			zap.String("interest", result.Interest.String()),
			zap.String("new_balance", result.NewBalance.String()),
		)
	}
	return result, nil
}

type InterestBatchResult struct {
	Members int         `json:"members"`
	Charged int         `json:"charged"`
	Failed  int         `json:"failed"`
	Total   money.Cents `json:"total"`
}

// AccrueAll runs AccrueInterest for every member whose cached balance is
// positive. One member failing does not stop the run.
func (s *InterestService) AccrueAll(ctx context.Context) (*InterestBatchResult, error) {
	batch := s.cfg.Job.BatchSize
	if batch <= 0 {
		batch = 100
	}

	summary := &InterestBatchResult{}
	var afterID int64
	for {
		ids, err := s.memberRepo.ListIDsWithBalanceAfter(ctx, afterID, batch)
		if err != nil {
			return summary, fmt.Errorf("list members: %w", err)
		}
		for _, id := range ids {
			summary.Members++
			res, err := s.AccrueInterest(ctx, id)
			if err != nil {
				summary.Failed++
				s.log.Error("accrue interest failed", zap.Int64("member_id", id), zap.Error(err))
				continue
			}
			if res.Interest > 0 {
				summary.Charged++
				summary.Total += res.Interest
			}
		}
		if len(ids) < batch {
			return summary, nil
		}
		afterID = ids[len(ids)-1]
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}
}
