package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Distributed lock
// ============================================================================
//
// Two payments for the same member arriving at two API replicas must not walk
// the FIFO list at the same time: both would read the same unpaid remainder
// and allocate against it twice.
//
//   acquire: SET key owner NX EX ttl
//   release: Lua "GET == owner then DEL", so an expired holder cannot delete
//            the lock a later holder acquired.
//
// The database row lock inside the transaction is still taken; this lock
// keeps contending requests from queuing on database connections.
//
// ============================================================================

var (
	ErrLockFailed = errors.New("acquire distributed lock failed")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // holder token
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string { return l.key }

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock only if this holder still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// Ledger lock keys
// ============================================================================

// NewMemberLock serializes every balance-changing operation of one member:
// allocation, purchase recording, interest accrual.
func NewMemberLock(client *redis.Client, memberID int64, owner string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("credit:lock:member:%d", memberID), owner, ttl)
}

// NewEntryLock guards the penalty check-and-set of one ledger entry.
func NewEntryLock(client *redis.Client, entryID int64, owner string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, fmt.Sprintf("credit:lock:entry:%d", entryID), owner, ttl)
}
