package handler

import (
	"errors"
	"strconv"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/internal/service"
	"coopcredit/pkg/money"
	"coopcredit/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler holds every service the API exposes.
type Handler struct {
	log       *zap.Logger
	members   *service.MemberService
	balance   *service.BalanceService
	payments  *service.PaymentService
	purchases *service.PurchaseService
	interest  *service.InterestService
	penalties *service.PenaltyService
	schedules *service.ScheduleService
	outbox    *repository.OutboxRepository
}

func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{
		log:       log,
		members:   service.NewMemberService(db, log),
		balance:   service.NewBalanceService(db, log),
		payments:  service.NewPaymentService(db, rdb, cfg, log),
		purchases: service.NewPurchaseService(db, rdb, cfg, log),
		interest:  service.NewInterestService(db, rdb, cfg, log),
		penalties: service.NewPenaltyService(db, rdb, cfg, log),
		schedules: service.NewScheduleService(db, log),
		outbox:    repository.NewOutboxRepository(db),
	}
}

// fail maps service and repository errors onto response codes.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		response.BusinessError(c, response.CodeValidationFailed, verr.Error())
	case errors.Is(err, repository.ErrMemberNotFound):
		response.BusinessError(c, response.CodeMemberNotFound, err.Error())
	case errors.Is(err, repository.ErrEntryNotFound):
		response.BusinessError(c, response.CodeEntryNotFound, err.Error())
	case errors.Is(err, repository.ErrDuplicateMemberNo):
		response.BusinessError(c, response.CodeConflict, err.Error())
	case errors.Is(err, service.ErrSystemBusy):
		response.BusinessError(c, response.CodeSystemBusy, err.Error())
	case errors.Is(err, repository.ErrInvariantViolation):
		// details are in the service log
		response.BusinessError(c, response.CodeIntegrityViolation, "ledger integrity check failed, operation rolled back")
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "internal error")
	}
}

func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// ============================================================
// Members
// ============================================================

// CreateMember
// POST /api/v1/member/create
func (h *Handler) CreateMember(c *gin.Context) {
	var req service.CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	member, err := h.members.Create(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, member)
}

// GetMember
// GET /api/v1/member/get?member_id=xxx
func (h *Handler) GetMember(c *gin.Context) {
	memberID, ok := queryID(c, "member_id")
	if !ok {
		return
	}

	member, err := h.members.Get(c.Request.Context(), memberID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, member)
}

// GetBalance returns the cached balance.
// GET /api/v1/member/balance?member_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	memberID, ok := queryID(c, "member_id")
	if !ok {
		return
	}

	view, err := h.balance.GetBalance(c.Request.Context(), memberID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// CheckCredit answers the POS credit-limit question.
// GET /api/v1/member/credit-check?member_id=xxx&amount=12.50
func (h *Handler) CheckCredit(c *gin.Context) {
	memberID, ok := queryID(c, "member_id")
	if !ok {
		return
	}
	amount, err := money.Parse(c.Query("amount"))
	if err != nil {
		response.ParamError(c, "amount: "+err.Error())
		return
	}

	result, err := h.balance.CheckCreditLimit(c.Request.Context(), memberID, amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type memberIDRequest struct {
	MemberID int64 `json:"member_id" binding:"required,gt=0"`
}

// Recompute re-derives the cached balance from the ledger.
// POST /api/v1/member/recompute
func (h *Handler) Recompute(c *gin.Context) {
	var req memberIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	balance, err := h.balance.Recompute(c.Request.Context(), req.MemberID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"member_id": req.MemberID, "credit_balance": balance})
}

type creditLimitRequest struct {
	MemberID    int64       `json:"member_id" binding:"required,gt=0"`
	CreditLimit money.Cents `json:"credit_limit"`
}

// SetCreditLimit
// POST /api/v1/member/credit-limit
func (h *Handler) SetCreditLimit(c *gin.Context) {
	var req creditLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	member, err := h.members.SetCreditLimit(c.Request.Context(), req.MemberID, req.CreditLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, member)
}

// Ledger returns the member statement.
// GET /api/v1/member/ledger?member_id=xxx&page=1&page_size=20
func (h *Handler) Ledger(c *gin.Context) {
	memberID, ok := queryID(c, "member_id")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	statement, err := h.members.Statement(c.Request.Context(), memberID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, statement)
}

// Schedules
// GET /api/v1/member/schedules?member_id=xxx
func (h *Handler) Schedules(c *gin.Context) {
	memberID, ok := queryID(c, "member_id")
	if !ok {
		return
	}

	rows, err := h.schedules.ListByMember(c.Request.Context(), memberID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": rows})
}

// Events lists the member's credit events with their relay status.
// GET /api/v1/member/events?member_id=xxx&limit=50
func (h *Handler) Events(c *gin.Context) {
	memberID, ok := queryID(c, "member_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := h.outbox.ListByMember(c.Request.Context(), memberID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": events})
}

// Health reports liveness plus the outbox backlog.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	pending, err := h.outbox.CountByStatus(ctx, model.OutboxStatusPending)
	if err != nil {
		h.log.Error("health check", zap.Error(err))
		c.JSON(503, gin.H{"status": "unavailable"})
		return
	}
	failed, err := h.outbox.CountByStatus(ctx, model.OutboxStatusFailed)
	if err != nil {
		h.log.Error("health check", zap.Error(err))
		c.JSON(503, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(200, gin.H{"status": "ok", "outbox_pending": pending, "outbox_failed": failed})
}

// ============================================================
// Credit movements
// ============================================================

// RecordPurchase posts a sale on credit.
// POST /api/v1/credit/purchase
func (h *Handler) RecordPurchase(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.purchases.RecordCreditPurchase(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type creditRequest struct {
	MemberID  int64       `json:"member_id" binding:"required,gt=0"`
	Amount    money.Cents `json:"amount"`
	Full      bool        `json:"full"`
	RequestID string      `json:"request_id"`
	Notes     string      `json:"notes"`
}

// Pay applies a member payment oldest debt first. With full=true the
// amount is ignored and the whole balance is settled.
// POST /api/v1/credit/payment
func (h *Handler) Pay(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.payments.Allocate(c.Request.Context(), req.MemberID, req.Amount, service.AllocateOptions{
		Full:      req.Full,
		RequestID: req.RequestID,
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Earned posts earned credit (patronage refund, rebate).
// POST /api/v1/credit/earned
func (h *Handler) Earned(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.payments.ApplyEarnedCredit(c.Request.Context(), req.MemberID, req.Amount, service.AllocateOptions{
		Full:      req.Full,
		RequestID: req.RequestID,
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Adjustment
// POST /api/v1/credit/adjustment
func (h *Handler) Adjustment(c *gin.Context) {
	var req service.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.purchases.PostAdjustment(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Receipt lists the debits a payment covered.
// GET /api/v1/credit/receipt?entry_id=xxx
func (h *Handler) Receipt(c *gin.Context) {
	entryID, ok := queryID(c, "entry_id")
	if !ok {
		return
	}

	result, err := h.payments.GetReceipt(c.Request.Context(), entryID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// DebitHistory lists the payments applied to one debit entry.
// GET /api/v1/credit/history?entry_id=xxx
func (h *Handler) DebitHistory(c *gin.Context) {
	entryID, ok := queryID(c, "entry_id")
	if !ok {
		return
	}

	history, err := h.payments.GetDebitHistory(c.Request.Context(), entryID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, history)
}

type termsRequest struct {
	ProductID string            `json:"product_id" binding:"required"`
	Terms     model.CreditTerms `json:"terms"`
}

// Terms refreshes the catalog replica of a product's credit terms.
// POST /api/v1/credit/terms
func (h *Handler) Terms(c *gin.Context) {
	var req termsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	terms, err := h.purchases.UpsertProductTerms(c.Request.Context(), req.ProductID, req.Terms)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, terms)
}

// ============================================================
// Accrual triggers
// ============================================================

// Interest
// POST /api/v1/accrual/interest
func (h *Handler) Interest(c *gin.Context) {
	var req memberIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.interest.AccrueInterest(c.Request.Context(), req.MemberID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// Penalties runs the batch penalty pass.
// POST /api/v1/accrual/penalties
func (h *Handler) Penalties(c *gin.Context) {
	summary, err := h.penalties.ApplyProductPenalties(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, summary)
}

type penaltyRequest struct {
	EntryID int64      `json:"entry_id" binding:"required,gt=0"`
	Now     *time.Time `json:"now"`
	Force   bool       `json:"force"`
}

// Penalty applies the penalty for one purchase entry.
// POST /api/v1/accrual/penalty
func (h *Handler) Penalty(c *gin.Context) {
	var req penaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.penalties.ApplyPenaltyToCredit(c.Request.Context(), req.EntryID, service.PenaltyOptions{
		Now:   req.Now,
		Force: req.Force,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// MarkOverdue flips past-due installments; member_id 0 means every member.
// POST /api/v1/accrual/mark-overdue
func (h *Handler) MarkOverdue(c *gin.Context) {
	var req struct {
		MemberID int64 `json:"member_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	var (
		count int64
		err   error
	)
	if req.MemberID > 0 {
		count, err = h.schedules.MarkOverdue(c.Request.Context(), req.MemberID)
	} else {
		count, err = h.schedules.MarkAllOverdue(c.Request.Context())
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"marked": count})
}
