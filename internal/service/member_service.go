package service

import (
	"context"
	"strings"

	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPageSize = 200

type MemberService struct {
	log        *zap.Logger
	memberRepo *repository.MemberRepository
	ledgerRepo *repository.LedgerRepository
}

func NewMemberService(db *gorm.DB, log *zap.Logger) *MemberService {
	return &MemberService{
		log:        log,
		memberRepo: repository.NewMemberRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

type CreateMemberRequest struct {
	MemberNo    string      `json:"member_no" binding:"required"`
	Name        string      `json:"name" binding:"required"`
	CreditLimit money.Cents `json:"credit_limit"`
}

func (s *MemberService) Create(ctx context.Context, req *CreateMemberRequest) (*model.Member, error) {
	req.MemberNo = strings.TrimSpace(req.MemberNo)
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.MemberNo == "":
		return nil, invalid("member_no", "is required")
	case req.Name == "":
		return nil, invalid("name", "is required")
	case req.CreditLimit < 0:
		return nil, invalid("credit_limit", "must not be negative")
	}

	member := &model.Member{
		MemberNo:    req.MemberNo,
		Name:        req.Name,
		CreditLimit: req.CreditLimit,
	}
	if err := s.memberRepo.Create(ctx, member); err != nil {
		return nil, err
	}
	s.log.Info("member created", zap.Int64("member_id", member.ID), zap.String("member_no", member.MemberNo))
	return member, nil
}

func (s *MemberService) Get(ctx context.Context, memberID int64) (*model.Member, error) {
	return s.memberRepo.GetByID(ctx, nil, memberID)
}

func (s *MemberService) SetCreditLimit(ctx context.Context, memberID int64, limit money.Cents) (*model.Member, error) {
	if limit < 0 {
		return nil, invalid("credit_limit", "must not be negative")
	}
	if err := s.memberRepo.UpdateCreditLimit(ctx, memberID, limit); err != nil {
		return nil, err
	}
	return s.memberRepo.GetByID(ctx, nil, memberID)
}

type Statement struct {
	Member   *model.Member        `json:"member"`
	Entries  []*model.LedgerEntry `json:"entries"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// Statement returns one page of the member's ledger, newest first, with
// each debit's paid and outstanding amounts.
func (s *MemberService) Statement(ctx context.Context, memberID int64, page, pageSize int) (*Statement, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	member, err := s.memberRepo.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, err
	}
	entries, total, err := s.ledgerRepo.ListByMember(ctx, memberID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &Statement{Member: member, Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}
