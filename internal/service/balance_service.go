package service

import (
	"context"
	"fmt"

	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BalanceService is the balance synchronizer. It is the only writer of the
// cached Member.CreditBalance, which it always re-derives from the ledger.
type BalanceService struct {
	db         *gorm.DB
	log        *zap.Logger
	memberRepo *repository.MemberRepository
	ledgerRepo *repository.LedgerRepository
}

func NewBalanceService(db *gorm.DB, log *zap.Logger) *BalanceService {
	return &BalanceService{
		db:         db,
		log:        log,
		memberRepo: repository.NewMemberRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

// Recompute re-derives and stores the member's balance in its own
// transaction. On failure the cached value is left as it was.
func (s *BalanceService) Recompute(ctx context.Context, memberID int64) (money.Cents, error) {
	var balance money.Cents
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByIDForUpdate(ctx, tx, memberID); err != nil {
			return err
		}
		b, err := s.RecomputeTx(ctx, tx, memberID)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// RecomputeTx is the last step of every ledger mutation: it runs the balance
// aggregate inside tx and writes the result to the member row.
func (s *BalanceService) RecomputeTx(ctx context.Context, tx *gorm.DB, memberID int64) (money.Cents, error) {
	balance, err := s.ledgerRepo.SumBalance(ctx, tx, memberID)
	if err != nil {
		return 0, fmt.Errorf("sum ledger balance: %w", err)
	}
	if err := s.memberRepo.UpdateCreditBalance(ctx, tx, memberID, balance); err != nil {
		return 0, fmt.Errorf("store credit balance: %w", err)
	}
	return balance, nil
}

type BalanceView struct {
	MemberID      int64       `json:"member_id"`
	MemberNo      string      `json:"member_no"`
	CreditBalance money.Cents `json:"credit_balance"`
	CreditLimit   money.Cents `json:"credit_limit"`
	Available     money.Cents `json:"available"`
}

// GetBalance reads the cached balance. Dashboards and statements use this;
// anything that moves money recomputes instead.
func (s *BalanceService) GetBalance(ctx context.Context, memberID int64) (*BalanceView, error) {
	member, err := s.memberRepo.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, err
	}
	return newBalanceView(member), nil
}

func newBalanceView(m *model.Member) *BalanceView {
	return &BalanceView{
		MemberID:      m.ID,
		MemberNo:      m.MemberNo,
		CreditBalance: m.CreditBalance,
		CreditLimit:   m.CreditLimit,
		Available:     money.Max(m.AvailableCredit(), 0),
	}
}

type CreditCheckResult struct {
	Allowed   bool        `json:"allowed"`
	Balance   money.Cents `json:"balance"`
	Limit     money.Cents `json:"limit"`
	Available money.Cents `json:"available"`
	Requested money.Cents `json:"requested"`
}

// CheckCreditLimit answers whether a purchase of amount on credit would stay
// within the member's limit. The caller enforces the answer.
func (s *BalanceService) CheckCreditLimit(ctx context.Context, memberID int64, amount money.Cents) (*CreditCheckResult, error) {
	if amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}
	member, err := s.memberRepo.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledgerRepo.SumBalance(ctx, nil, memberID)
	if err != nil {
		return nil, fmt.Errorf("sum ledger balance: %w", err)
	}

	return &CreditCheckResult{
		Allowed:   balance+amount <= member.CreditLimit,
		Balance:   balance,
		Limit:     member.CreditLimit,
		Available: money.Max(member.CreditLimit-balance, 0),
		Requested: amount,
	}, nil
}
