package service

import (
	"context"
	"errors"
	"fmt"

	"coopcredit/internal/config"
	"coopcredit/internal/infrastructure/lock"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ledgerLocker hands out the cross-process locks that sit in front of the
// row locks taken inside each transaction. With no Redis client configured
// (single-node sqlite installs) it falls back to the row locks alone.
type ledgerLocker struct {
	client *redis.Client
	cfg    config.CreditConfig
}

func newLedgerLocker(client *redis.Client, cfg *config.Config) ledgerLocker {
	return ledgerLocker{client: client, cfg: cfg.Credit}
}

func (l ledgerLocker) member(ctx context.Context, memberID int64) (func(), error) {
	if l.client == nil {
		return func() {}, nil
	}
	return l.acquire(ctx, lock.NewMemberLock(l.client, memberID, uuid.NewString(), l.cfg.LockTTL()))
}

func (l ledgerLocker) entry(ctx context.Context, entryID int64) (func(), error) {
	if l.client == nil {
		return func() {}, nil
	}
	return l.acquire(ctx, lock.NewEntryLock(l.client, entryID, uuid.NewString(), l.cfg.LockTTL()))
}

func (l ledgerLocker) acquire(ctx context.Context, dl *lock.DistributedLock) (func(), error) {
	if err := dl.Lock(ctx, l.cfg.LockRetryInterval(), l.cfg.LockMaxRetries); err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, fmt.Errorf("%w: %s", ErrSystemBusy, dl.Key())
		}
		return nil, fmt.Errorf("acquire %s: %w", dl.Key(), err)
	}
	return func() { _ = dl.Unlock(context.Background()) }, nil
}
