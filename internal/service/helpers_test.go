package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/internal/testutil"
	"coopcredit/pkg/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func jan(day int) time.Time { return testutil.Date(2026, time.January, day) }

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{CreditEvents: "coop-credit-events"}},
		Credit: config.CreditConfig{
			InterestEnabled:         true,
			InterestMonthlyRate:     1.5,
			InterestGraceDays:       30,
			InstallmentIntervalDays: 30,
			LockTTLSeconds:          5,
			LockRetryMillis:         5,
			LockMaxRetries:          400,
		},
		Job: config.JobConfig{BatchSize: 2},
	}
}

// env wires every service against one in-memory store, one miniredis and
// one shared clock.
type env struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	cfg   *config.Config
	clock *testutil.Clock
	log   *zap.Logger

	members   *MemberService
	balance   *BalanceService
	payments  *PaymentService
	purchases *PurchaseService
	interest  *InterestService
	penalties *PenaltyService
	schedules *ScheduleService
	ledger    *repository.LedgerRepository

	seq int
}

func newEnv(t *testing.T) *env {
	db := testutil.NewDB(t)
	rdb, _ := testutil.NewRedis(t)
	cfg := testConfig()
	log := zaptest.NewLogger(t)
	clock := testutil.NewClock(testutil.Date(2026, time.March, 1))

	e := &env{
		t:         t,
		ctx:       context.Background(),
		db:        db,
		cfg:       cfg,
		clock:     clock,
		log:       log,
		members:   NewMemberService(db, log),
		balance:   NewBalanceService(db, log),
		payments:  NewPaymentService(db, rdb, cfg, log),
		purchases: NewPurchaseService(db, rdb, cfg, log),
		interest:  NewInterestService(db, rdb, cfg, log),
		penalties: NewPenaltyService(db, rdb, cfg, log),
		schedules: NewScheduleService(db, log),
		ledger:    repository.NewLedgerRepository(db),
	}
	e.payments.now = clock.Now
	e.purchases.now = clock.Now
	e.interest.now = clock.Now
	e.penalties.now = clock.Now
	e.schedules.now = clock.Now
	return e
}

func (e *env) member() *model.Member {
	e.seq++
	m, err := e.members.Create(e.ctx, &CreateMemberRequest{
		MemberNo:    fmt.Sprintf("M-%03d", e.seq),
		Name:        "Test Member",
		CreditLimit: money.MustParse("1000"),
	})
	require.NoError(e.t, err)
	return m
}

type purchaseOpt func(*PurchaseRequest)

func withTerms(dueDays int, penaltyType, value string) purchaseOpt {
	return func(r *PurchaseRequest) {
		r.Terms = &model.CreditTerms{
			DueDays:      dueDays,
			PenaltyType:  penaltyType,
			PenaltyValue: mustDecimal(value),
		}
	}
}

func withInstallments(n int) purchaseOpt {
	return func(r *PurchaseRequest) { r.Installments = n }
}

func (e *env) purchase(memberID int64, amount string, at time.Time, opts ...purchaseOpt) *model.LedgerEntry {
	e.seq++
	req := &PurchaseRequest{
		MemberID:          memberID,
		Amount:            money.MustParse(amount),
		RelatedPurchaseID: fmt.Sprintf("SALE-%04d", e.seq),
		OccurredAt:        &at,
	}
	for _, opt := range opts {
		opt(req)
	}
	res, err := e.purchases.RecordCreditPurchase(e.ctx, req)
	require.NoError(e.t, err)
	return res.Entry
}

func (e *env) entry(id int64) *model.LedgerEntry {
	got, err := e.ledger.GetByID(e.ctx, nil, id)
	require.NoError(e.t, err)
	return got
}

func (e *env) cachedBalance(memberID int64) money.Cents {
	m, err := e.members.Get(e.ctx, memberID)
	require.NoError(e.t, err)
	return m.CreditBalance
}

// requireConserved checks the cached balance, the ledger aggregate and the
// sum of unpaid remainders all agree.
func (e *env) requireConserved(memberID int64) money.Cents {
	sum, err := e.ledger.SumBalance(e.ctx, nil, memberID)
	require.NoError(e.t, err)
	outstanding, err := e.ledger.OutstandingTotal(e.ctx, nil, memberID)
	require.NoError(e.t, err)

	require.Equal(e.t, sum, e.cachedBalance(memberID), "cached balance drifted from ledger")
	require.Equal(e.t, sum, outstanding, "unpaid remainders disagree with balance")
	return sum
}

func (e *env) outboxEvents(memberID int64) []string {
	var types []string
	require.NoError(e.t, e.db.Model(&model.OutboxMessage{}).
		Where("member_id = ?", memberID).
		Order("id ASC").
		Pluck("event_type", &types).Error)
	return types
}
