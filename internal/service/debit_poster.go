package service

import (
	"context"
	"fmt"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/model"
	"coopcredit/internal/repository"
	"coopcredit/pkg/money"

	"gorm.io/gorm"
)

// debitPoster appends a new debit inside an open ledger transaction, then
// recomputes the balance and queues the event. The caller holds the member
// row lock.
type debitPoster struct {
	cfg        *config.Config
	balance    *BalanceService
	ledgerRepo *repository.LedgerRepository
	outboxRepo *repository.OutboxRepository
}

func newDebitPoster(db *gorm.DB, cfg *config.Config, balance *BalanceService) debitPoster {
	return debitPoster{
		cfg:        cfg,
		balance:    balance,
		ledgerRepo: repository.NewLedgerRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

func (p debitPoster) post(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry, eventType string, body map[string]interface{}) (money.Cents, error) {
	if !entry.Kind.IsDebit() {
		return 0, fmt.Errorf("post debit: %s is not a debit kind", entry.Kind)
	}
	if _, err := p.ledgerRepo.Append(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("append %s entry: %w", entry.Kind, err)
	}

	newBalance, err := p.balance.RecomputeTx(ctx, tx, entry.MemberID)
	if err != nil {
		return 0, err
	}

	payload := map[string]interface{}{
		"entry_id":     entry.ID,
		"reference_no": entry.ReferenceNo,
		"kind":         entry.Kind,
		"amount":       entry.Amount.String(),
		"new_balance":  newBalance.String(),
		"occurred_at":  entry.OccurredAt.Format(time.RFC3339),
	}
	for k, v := range body {
		payload[k] = v
	}
	msg, err := model.NewOutboxMessage(p.cfg.Kafka.Topic.CreditEvents, entry.ReferenceNo, eventType, entry.MemberID, payload)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	if err := p.outboxRepo.Create(ctx, tx, msg); err != nil {
		return 0, fmt.Errorf("write outbox: %w", err)
	}
	return newBalance, nil
}
