package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/pkg/idgen"
	"coopcredit/pkg/money"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxInstallments = 120

// PurchaseService is the entry point for the purchase-recording side: credit
// sales become Debit-Spent entries, corrections become Debit-Adjustments.
type PurchaseService struct {
	db           *gorm.DB
	cfg          *config.Config
	log          *zap.Logger
	locker       ledgerLocker
	poster       debitPoster
	memberRepo   *repository.MemberRepository
	ledgerRepo   *repository.LedgerRepository
	scheduleRepo *repository.ScheduleRepository
	termsRepo    *repository.TermsRepository
	now          func() time.Time
}

func NewPurchaseService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, log *zap.Logger) *PurchaseService {
	return &PurchaseService{
		db:           db,
		cfg:          cfg,
		log:          log,
		locker:       newLedgerLocker(redisClient, cfg),
		poster:       newDebitPoster(db, cfg, NewBalanceService(db, log)),
		memberRepo:   repository.NewMemberRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		scheduleRepo: repository.NewScheduleRepository(db),
		termsRepo:    repository.NewTermsRepository(db),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type PurchaseRequest struct {
	MemberID          int64       `json:"member_id" binding:"required"`
	Amount            money.Cents `json:"amount" binding:"required"`
	RelatedPurchaseID string      `json:"related_purchase_id" binding:"required"`
	ProductID         string      `json:"product_id"`
	// Terms override the catalog replica for ProductID when present.
	Terms        *model.CreditTerms `json:"terms"`
	Installments int                `json:"installments"`
	// OccurredAt backdates the sale; defaults to now.
	OccurredAt *time.Time `json:"occurred_at"`
	Notes      string     `json:"notes"`
}

type PurchaseResult struct {
	Entry      *model.LedgerEntry       `json:"entry"`
	Schedules  []*model.PaymentSchedule `json:"schedules"`
	NewBalance money.Cents              `json:"new_balance"`
	Replayed   bool                     `json:"replayed"`
}

// RecordCreditPurchase posts one Debit-Spent entry for a sale on credit,
// plus its installment rows when Installments > 0. A sale already on the
// ledger is returned as is.
func (s *PurchaseService) RecordCreditPurchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	req.RelatedPurchaseID = strings.TrimSpace(req.RelatedPurchaseID)
	if err := s.validatePurchase(req); err != nil {
		return nil, err
	}

	if existing, err := s.existingPurchase(ctx, req); existing != nil || err != nil {
		return existing, err
	}

	terms, err := s.resolveTerms(ctx, req)
	if err != nil {
		return nil, err
	}

	occurredAt := s.now()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	unlock, err := s.locker.member(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if existing, err := s.existingPurchase(ctx, req); existing != nil || err != nil {
		return existing, err
	}

	notes := req.Notes
	if notes == "" {
		notes = fmt.Sprintf("credit purchase %s", req.RelatedPurchaseID)
	}
	entry := &model.LedgerEntry{
		ReferenceNo:       idgen.GenerateReferenceNo(idgen.PrefixPurchase),
		MemberID:          req.MemberID,
		Kind:              model.EntryKindDebitSpent,
		Amount:            req.Amount,
		RelatedPurchaseID: req.RelatedPurchaseID,
		ProductID:         req.ProductID,
		Terms:             terms,
		OccurredAt:        occurredAt,
		Notes:             notes,
	}

	result := &PurchaseResult{Entry: entry}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByIDForUpdate(ctx, tx, req.MemberID); err != nil {
			return err
		}

		balance, err := s.poster.post(ctx, tx, entry, model.EventPurchaseRecorded, map[string]interface{}{
			"related_purchase_id": req.RelatedPurchaseID,
			"product_id":          req.ProductID,
			"installments":        req.Installments,
		})
		if err != nil {
			return err
		}
		result.NewBalance = balance

		if req.Installments > 0 {
			result.Schedules = buildInstallments(entry, req.Installments, s.cfg.Credit.InstallmentIntervalDays)
			if err := s.scheduleRepo.CreateBatch(ctx, tx, result.Schedules); err != nil {
				return fmt.Errorf("store schedules: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		reportIntegrity(s.log, "purchase", err)
		return nil, err
	}

	s.log.Info("credit purchase recorded",
		zap.Int64("member_id", req.MemberID),
		zap.String("reference_no", entry.ReferenceNo),
		zap.String("related_purchase_id", req.RelatedPurchaseID),
		zap.String("amount", req.Amount.String()),
		zap.Int("installments", req.Installments),
		zap.String("new_balance", result.NewBalance.String()),
	)
	return result, nil
}

func (s *PurchaseService) validatePurchase(req *PurchaseRequest) error {
	switch {
	case req.MemberID <= 0:
		return invalid("member_id", "must be positive")
	case req.Amount <= 0:
		return invalid("amount", "must be positive")
	case req.RelatedPurchaseID == "":
		return invalid("related_purchase_id", "is required")
	case req.Installments < 0 || req.Installments > maxInstallments:
		return invalid("installments", fmt.Sprintf("must be between 0 and %d", maxInstallments))
	case req.Installments > 0 && money.Cents(req.Installments) > req.Amount:
		return invalid("installments", "more installments than cents in the amount")
	case req.Terms != nil && !req.Terms.IsValid():
		return invalid("terms", "penalty type must be percentage or fixed with non-negative values")
	case req.OccurredAt != nil && req.OccurredAt.After(s.now()):
		return invalid("occurred_at", "must not be in the future")
	}
	return nil
}

func (s *PurchaseService) existingPurchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	entry, err := s.ledgerRepo.FindSpentByPurchaseID(ctx, nil, req.MemberID, req.RelatedPurchaseID)
	if err != nil {
		return nil, fmt.Errorf("lookup purchase: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	if entry.Amount != req.Amount {
		return nil, invalid("related_purchase_id", fmt.Sprintf("already recorded with amount %s", entry.Amount))
	}
	schedules, err := s.scheduleRepo.ListByEntry(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	member, err := s.memberRepo.GetByID(ctx, nil, req.MemberID)
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{Entry: entry, Schedules: schedules, NewBalance: member.CreditBalance, Replayed: true}, nil
}

// resolveTerms returns the terms to snapshot: the request's own, else the
// catalog replica for the product, else none.
func (s *PurchaseService) resolveTerms(ctx context.Context, req *PurchaseRequest) (model.CreditTerms, error) {
	if req.Terms != nil {
		return *req.Terms, nil
	}
	if req.ProductID == "" {
		return model.CreditTerms{}, nil
	}
	pt, err := s.termsRepo.GetByProductID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrTermsNotFound) {
			return model.CreditTerms{}, nil
		}
		return model.CreditTerms{}, fmt.Errorf("lookup credit terms: %w", err)
	}
	return pt.Terms, nil
}

// buildInstallments splits the entry amount into n rows. Leftover cents go
// one each to the earliest rows. Row i falls due (i+1) intervals after the
// sale, the interval being the product's DueDays when set.
func buildInstallments(entry *model.LedgerEntry, n, intervalDays int) []*model.PaymentSchedule {
	if entry.Terms.DueDays > 0 {
		intervalDays = entry.Terms.DueDays
	}
	share := entry.Amount / money.Cents(n)
	extra := int(entry.Amount % money.Cents(n))

	rows := make([]*model.PaymentSchedule, 0, n)
	for i := 0; i < n; i++ {
		amount := share
		if i < extra {
			amount++
		}
		entryID := entry.ID
		rows = append(rows, &model.PaymentSchedule{
			MemberID:          entry.MemberID,
			LedgerEntryID:     &entryID,
			RelatedPurchaseID: entry.RelatedPurchaseID,
			InstallmentNo:     i + 1,
			Amount:            amount,
			DueDate:           entry.OccurredAt.AddDate(0, 0, intervalDays*(i+1)),
			Status:            model.ScheduleStatusPending,
		})
	}
	return rows
}

type AdjustmentRequest struct {
	MemberID int64       `json:"member_id" binding:"required"`
	Amount   money.Cents `json:"amount" binding:"required"`
	Notes    string      `json:"notes" binding:"required"`
	// ParentEntryID links the correction to the entry it corrects.
	ParentEntryID *int64 `json:"parent_entry_id"`
}

type AdjustmentResult struct {
	Entry      *model.LedgerEntry `json:"entry"`
	NewBalance money.Cents        `json:"new_balance"`
}

// PostAdjustment records a manual Debit-Adjustment. History is never
// rewritten; a correction is always a new entry.
func (s *PurchaseService) PostAdjustment(ctx context.Context, req *AdjustmentRequest) (*AdjustmentResult, error) {
	req.Notes = strings.TrimSpace(req.Notes)
	switch {
	case req.MemberID <= 0:
		return nil, invalid("member_id", "must be positive")
	case req.Amount <= 0:
		return nil, invalid("amount", "must be positive")
	case req.Notes == "":
		return nil, invalid("notes", "an adjustment needs an explanation")
	}

	if req.ParentEntryID != nil {
		parent, err := s.ledgerRepo.GetByID(ctx, nil, *req.ParentEntryID)
		if err != nil {
			return nil, err
		}
		if parent.MemberID != req.MemberID {
			return nil, invalid("parent_entry_id", "belongs to another member")
		}
	}

	unlock, err := s.locker.member(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry := &model.LedgerEntry{
		ReferenceNo:   idgen.GenerateReferenceNo(idgen.PrefixAdjustment),
		MemberID:      req.MemberID,
		Kind:          model.EntryKindDebitAdjustment,
		Amount:        req.Amount,
		ParentEntryID: req.ParentEntryID,
		OccurredAt:    s.now(),
		Notes:         req.Notes,
	}

	result := &AdjustmentResult{Entry: entry}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByIDForUpdate(ctx, tx, req.MemberID); err != nil {
			return err
		}
		balance, err := s.poster.post(ctx, tx, entry, model.EventAdjustmentPosted, map[string]interface{}{
			"notes": req.Notes,
		})
		if err != nil {
			return err
		}
		result.NewBalance = balance
		return nil
	})
	if err != nil {
		reportIntegrity(s.log, "adjustment", err)
		return nil, err
	}

	s.log.Info("adjustment posted",
		zap.Int64("member_id", req.MemberID),
		zap.String("reference_no", entry.ReferenceNo),
		zap.String("amount", req.Amount.String()),
	)
	return result, nil
}

// UpsertProductTerms refreshes the catalog replica for one product.
func (s *PurchaseService) UpsertProductTerms(ctx context.Context, productID string, terms model.CreditTerms) (*model.ProductCreditTerms, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, invalid("product_id", "is required")
	}
	if !terms.IsSet() || !terms.IsValid() {
		return nil, invalid("terms", "penalty type must be percentage or fixed with non-negative values")
	}
	pt := &model.ProductCreditTerms{ProductID: productID, Terms: terms}
	if err := s.termsRepo.Upsert(ctx, pt); err != nil {
		return nil, fmt.Errorf("store credit terms: %w", err)
	}
	return s.termsRepo.GetByProductID(ctx, productID)
}
