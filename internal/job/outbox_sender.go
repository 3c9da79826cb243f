package job

import (
	"context"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/infrastructure/metrics"
	"coopcredit/internal/infrastructure/mq"
	"coopcredit/internal/model"
	"coopcredit/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender relays committed credit events to the broker. A message that
// keeps failing is marked FAILED after MaxRetryCount attempts.
type OutboxSender struct {
	log        *zap.Logger
	publisher  mq.Publisher
	outboxRepo *repository.OutboxRepository
	maxRetries int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, log *zap.Logger) *OutboxSender {
	return &OutboxSender{
		log:        log.Named("outbox_sender"),
		publisher:  publisher,
		outboxRepo: repository.NewOutboxRepository(db),
		maxRetries: positive(cfg.Job.MaxRetryCount, 5),
		stopCh:     make(chan struct{}),
		interval:   millis(cfg.Job.OutboxIntervalMillis, 500),
		batchSize:  positive(cfg.Job.BatchSize, 100),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender exiting")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending sends one batch of pending messages and returns how many
// were published.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("load pending messages", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			// published but still PENDING: consumers see a duplicate next tick
			s.log.Error("mark message sent", zap.Int64("id", msg.ID), zap.Error(err))
		}
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		s.log.Debug("message sent",
			zap.Int64("id", msg.ID),
			zap.String("event", msg.EventType),
			zap.String("key", msg.MessageKey))
		return true
	}

	s.log.Warn("send message failed",
		zap.Int64("id", msg.ID),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err))

	if msg.RetryCount+1 >= s.maxRetries {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("mark message failed", zap.Int64("id", msg.ID), zap.Error(err))
			return false
		}
		metrics.OutboxPublished.WithLabelValues("failed").Inc()
		s.log.Error("message exceeded max retries",
			zap.Int64("id", msg.ID),
			zap.String("event", msg.EventType),
			zap.Int64("member_id", msg.MemberID))
		return false
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("increment retry count", zap.Int64("id", msg.ID), zap.Error(err))
	}
	metrics.OutboxPublished.WithLabelValues("retry").Inc()
	return false
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func millis(v, fallback int) time.Duration {
	return time.Duration(positive(v, fallback)) * time.Millisecond
}
