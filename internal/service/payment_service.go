package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// PaymentService is the FIFO payment allocator.
type PaymentService struct {
	db             *gorm.DB
	cfg            *config.Config
	log            *zap.Logger
	locker         ledgerLocker
	balance        *BalanceService
	memberRepo     *repository.MemberRepository
	ledgerRepo     *repository.LedgerRepository
	allocationRepo *repository.AllocationRepository
	scheduleRepo   *repository.ScheduleRepository
	outboxRepo     *repository.OutboxRepository
	now            func() time.Time
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, log *zap.Logger) *PaymentService {
	return &PaymentService{
		db:             db,
		cfg:            cfg,
		log:            log,
		locker:         newLedgerLocker(redisClient, cfg),
		balance:        NewBalanceService(db, log),
		memberRepo:     repository.NewMemberRepository(db),
		ledgerRepo:     repository.NewLedgerRepository(db),
		allocationRepo: repository.NewAllocationRepository(db),
		scheduleRepo:   repository.NewScheduleRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type AllocateOptions struct {
	// Full replaces the amount with the member's whole current balance.
	Full bool
	// RequestID makes the call idempotent: a replay returns the original
	// receipt instead of posting a second credit.
	RequestID string
	Notes     string
}

type AllocationLine struct {
	EntryID     int64             `json:"entry_id"`
	ReferenceNo string            `json:"reference_no"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Amount      money.Cents       `json:"amount"`
	PaidAmount  money.Cents       `json:"paid_amount"`
	Status      model.EntryStatus `json:"status"`
}

type AllocationResult struct {
	MemberID     int64              `json:"member_id"`
	CreditEntry  *model.LedgerEntry `json:"credit_entry,omitempty"`
	Requested    money.Cents        `json:"requested"`
	Applied      money.Cents        `json:"applied"`
	Capped       bool               `json:"capped"`
	NothingToPay bool               `json:"nothing_to_pay"`
	Replayed     bool               `json:"replayed"`
	Allocations  []AllocationLine   `json:"allocations"`
	NewBalance   money.Cents        `json:"new_balance"`
}

// Allocate records a member payment and applies it to the member's
// outstanding debits oldest first.
func (s *PaymentService) Allocate(ctx context.Context, memberID int64, amount money.Cents, opts AllocateOptions) (*AllocationResult, error) {
	return s.allocate(ctx, memberID, amount, opts, model.EntryKindCreditPayment)
}

// ApplyEarnedCredit posts earned credit (patronage refunds, rebates) and
// settles debits with it exactly like a payment.
func (s *PaymentService) ApplyEarnedCredit(ctx context.Context, memberID int64, amount money.Cents, opts AllocateOptions) (*AllocationResult, error) {
	return s.allocate(ctx, memberID, amount, opts, model.EntryKindCreditEarned)
}

func (s *PaymentService) allocate(ctx context.Context, memberID int64, amount money.Cents, opts AllocateOptions, kind model.EntryKind) (*AllocationResult, error) {
	if memberID <= 0 {
		return nil, invalid("member_id", "must be positive")
	}
	if !opts.Full && amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}
	if amount < 0 {
		return nil, invalid("amount", "must not be negative")
	}
	opts.RequestID = strings.TrimSpace(opts.RequestID)

	// A known RequestID returns the stored receipt instead of paying twice.
	if replay, err := s.replay(ctx, memberID, amount, opts, kind); replay != nil || err != nil {
		return replay, err
	}

	unlock, err := s.locker.member(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Check again under the lock: a concurrent retry may have just committed.
	if replay, err := s.replay(ctx, memberID, amount, opts, kind); replay != nil || err != nil {
		return replay, err
	}

	result := &AllocationResult{MemberID: memberID, Requested: amount, Allocations: []AllocationLine{}}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByIDForUpdate(ctx, tx, memberID); err != nil {
			return err
		}

		balance, err := s.ledgerRepo.SumBalance(ctx, tx, memberID)
		if err != nil {
			return fmt.Errorf("sum ledger balance: %w", err)
		}
		if opts.Full {
			result.Requested = money.Max(balance, 0)
		}
		if balance <= 0 {
			result.NothingToPay = true
			result.NewBalance = balance
			return nil
		}

		applied := money.Min(result.Requested, balance)
		result.Applied = applied
		result.Capped = applied < result.Requested

		credit, err := s.appendCredit(ctx, tx, memberID, kind, creditAmounts{
			applied:      applied,
			requested:    result.Requested,
			balanceAfter: balance - applied,
		}, opts)
		if err != nil {
			return err
		}
		result.CreditEntry = credit

		debits, err := s.ledgerRepo.ListOutstandingDebits(ctx, tx, memberID)
		if err != nil {
			return fmt.Errorf("list outstanding debits: %w", err)
		}

		lines, unplaced := planFIFO(debits, applied)
		if unplaced > 0 {
			return &repository.InvariantViolation{
				MemberID: memberID,
				EntryID:  credit.ID,
				Reason:   fmt.Sprintf("FIFO walk exhausted outstanding debits with %s unallocated (balance %s)", unplaced, balance),
			}
		}

		allocations := make([]*model.PaymentAllocation, 0, len(lines))
		for _, line := range lines {
			if err := s.ledgerRepo.MutatePaidAmount(ctx, tx, line.Entry.ID, line.NewPaid, line.NewStatus); err != nil {
				return err
			}
			if err := s.settleSchedules(ctx, tx, line.Entry.ID, line.Amount); err != nil {
				return err
			}
			allocations = append(allocations, &model.PaymentAllocation{
				PaymentEntryID: credit.ID,
				DebitEntryID:   line.Entry.ID,
				MemberID:       memberID,
				Amount:         line.Amount,
				PaidAfter:      line.NewPaid,
				StatusAfter:    line.NewStatus,
			})
			result.Allocations = append(result.Allocations, AllocationLine{
				EntryID:     line.Entry.ID,
				ReferenceNo: line.Entry.ReferenceNo,
				OccurredAt:  line.Entry.OccurredAt,
				Amount:      line.Amount,
				PaidAmount:  line.NewPaid,
				Status:      line.NewStatus,
			})
		}
		if err := s.allocationRepo.CreateBatch(ctx, tx, allocations); err != nil {
			return fmt.Errorf("store allocations: %w", err)
		}

		newBalance, err := s.balance.RecomputeTx(ctx, tx, memberID)
		if err != nil {
			return err
		}
		result.NewBalance = newBalance

		return s.writeEvent(ctx, tx, credit, result)
	})
	if err != nil {
		reportIntegrity(s.log, "allocator", err)
		return nil, err
	}

	if result.NothingToPay {
		s.log.Info("nothing to pay", zap.Int64("member_id", memberID), zap.String("requested", result.Requested.String()))
		return result, nil
	}

	metrics.PaymentsAllocated.WithLabelValues(string(kind)).Inc()
	metrics.AllocatedCents.Add(float64(result.Applied))
	metrics.AllocationDebitsTouched.Observe(float64(len(result.Allocations)))

	s.log.Info("credit allocated",
		zap.Int64("member_id", memberID),
		zap.String("kind", string(kind)),
		zap.String("reference_no", result.CreditEntry.ReferenceNo),
		zap.String("requested", result.Requested.String()),
		zap.String("applied", result.Applied.String()),
		zap.Int("debits", len(result.Allocations)),
		zap.String("new_balance", result.NewBalance.String()),
	)
	return result, nil
}

type creditAmounts struct {
	applied      money.Cents
	requested    money.Cents
	balanceAfter money.Cents
}

func (s *PaymentService) appendCredit(ctx context.Context, tx *gorm.DB, memberID int64, kind model.EntryKind, amounts creditAmounts, opts AllocateOptions) (*model.LedgerEntry, error) {
	prefix, notes := idgen.PrefixPayment, "member payment"
	if kind == model.EntryKindCreditEarned {
		prefix, notes = idgen.PrefixEarned, "earned credit"
	}
	if opts.Notes != "" {
		notes = opts.Notes
	}

	entry := &model.LedgerEntry{
		ReferenceNo: idgen.GenerateReferenceNo(prefix),
		MemberID:    memberID,
		Kind:            kind,
		Amount:          amounts.applied,
		RequestedAmount: amounts.requested,
		BalanceAfter:    amounts.balanceAfter,
		OccurredAt:      s.now(),
		Notes:           notes,
	}
	if opts.RequestID != "" {
		requestID := opts.RequestID
		entry.RequestID = &requestID
	}
	if _, err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append %s entry: %w", kind, err)
	}
	return entry, nil
}

// settleSchedules spreads amount over the entry's open installments, earliest
// due first.
func (s *PaymentService) settleSchedules(ctx context.Context, tx *gorm.DB, entryID int64, amount money.Cents) error {
	rows, err := s.scheduleRepo.ListUnpaidByEntry(ctx, tx, entryID)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	left := amount
	for _, row := range rows {
		if left <= 0 {
			break
		}
		pay := money.Min(left, row.Remaining())
		if pay <= 0 {
			continue
		}
		if err := s.scheduleRepo.ApplyPayment(ctx, tx, row, row.PaidAmount+pay); err != nil {
			return err
		}
		left -= pay
	}
	return nil
}

func (s *PaymentService) writeEvent(ctx context.Context, tx *gorm.DB, credit *model.LedgerEntry, result *AllocationResult) error {
	eventType := model.EventPaymentAllocated
	if credit.Kind == model.EntryKindCreditEarned {
		eventType = model.EventCreditEarned
	}

	lines := make([]map[string]interface{}, 0, len(result.Allocations))
	for _, a := range result.Allocations {
		lines = append(lines, map[string]interface{}{
			"entry_id":     a.EntryID,
			"reference_no": a.ReferenceNo,
			"amount":       a.Amount.String(),
			"status":       a.Status,
		})
	}

	msg, err := model.NewOutboxMessage(s.cfg.Kafka.Topic.CreditEvents, credit.ReferenceNo, eventType, credit.MemberID, map[string]interface{}{
		"reference_no": credit.ReferenceNo,
		"requested":    result.Requested.String(),
		"applied":      result.Applied.String(),
		"new_balance":  result.NewBalance.String(),
		"allocations":  lines,
		"occurred_at":  credit.OccurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// replay looks up a credit already posted under opts.RequestID. The retry
// must match the original: same member, same kind and, unless it asks to pay
// in full, the same requested amount.
func (s *PaymentService) replay(ctx context.Context, memberID int64, amount money.Cents, opts AllocateOptions, kind model.EntryKind) (*AllocationResult, error) {
	if opts.RequestID == "" {
		return nil, nil
	}
	existing, err := s.ledgerRepo.FindByRequestID(ctx, nil, opts.RequestID)
	if err != nil {
		return nil, fmt.Errorf("lookup request id: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	switch {
	case existing.MemberID != memberID:
		return nil, invalid("request_id", "already used for another member")
	case existing.Kind != kind:
		return nil, invalid("request_id", fmt.Sprintf("already used for a %s entry", existing.Kind))
	case !opts.Full && amount != requestedAmount(existing):
		return nil, invalid("request_id", fmt.Sprintf("already used with amount %s", requestedAmount(existing)))
	}
	result, err := s.receipt(ctx, existing)
	if err != nil {
		return nil, err
	}
	result.Replayed = true
	return result, nil
}

func requestedAmount(credit *model.LedgerEntry) money.Cents {
	if credit.RequestedAmount > 0 {
		return credit.RequestedAmount
	}
	return credit.Amount
}

// GetReceipt rebuilds the allocation receipt of a payment or earned-credit
// entry from the stored allocation rows.
func (s *PaymentService) GetReceipt(ctx context.Context, creditEntryID int64) (*AllocationResult, error) {
	entry, err := s.ledgerRepo.GetByID(ctx, nil, creditEntryID)
	if err != nil {
		return nil, err
	}
	if !entry.Kind.IsCredit() {
		return nil, invalid("entry_id", "not a payment or earned-credit entry")
	}
	return s.receipt(ctx, entry)
}

func (s *PaymentService) receipt(ctx context.Context, credit *model.LedgerEntry) (*AllocationResult, error) {
	allocations, err := s.allocationRepo.ListByPayment(ctx, nil, credit.ID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	requested := requestedAmount(credit)
	result := &AllocationResult{
		MemberID:    credit.MemberID,
		CreditEntry: credit,
		Requested:   requested,
		Applied:     credit.Amount,
		Capped:      credit.Amount < requested,
		Allocations: make([]AllocationLine, 0, len(allocations)),
		NewBalance:  credit.BalanceAfter,
	}
	for _, a := range allocations {
		debit, err := s.ledgerRepo.GetByID(ctx, nil, a.DebitEntryID)
		if err != nil {
			if errors.Is(err, repository.ErrEntryNotFound) {
				return nil, &repository.InvariantViolation{MemberID: credit.MemberID, EntryID: a.DebitEntryID, Reason: "allocation points at a missing debit"}
			}
			return nil, err
		}
		result.Allocations = append(result.Allocations, AllocationLine{
			EntryID:     debit.ID,
			ReferenceNo: debit.ReferenceNo,
			OccurredAt:  debit.OccurredAt,
			Amount:      a.Amount,
			PaidAmount:  a.PaidAfter,
			Status:      a.StatusAfter,
		})
	}
	return result, nil
}

// DebitHistory is one debit entry with every credit applied to it.
type DebitHistory struct {
	Entry       *model.LedgerEntry         `json:"entry"`
	Outstanding money.Cents                `json:"outstanding"`
	Allocations []*model.PaymentAllocation `json:"allocations"`
}

// GetDebitHistory answers which payments covered a purchase or charge.
func (s *PaymentService) GetDebitHistory(ctx context.Context, debitEntryID int64) (*DebitHistory, error) {
	entry, err := s.ledgerRepo.GetByID(ctx, nil, debitEntryID)
	if err != nil {
		return nil, err
	}
	if !entry.Kind.IsDebit() {
		return nil, invalid("entry_id", "not a debit entry")
	}
	allocations, err := s.allocationRepo.ListByDebit(ctx, debitEntryID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return &DebitHistory{Entry: entry, Outstanding: entry.Outstanding(), Allocations: allocations}, nil
}
