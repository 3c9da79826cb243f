package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDistributedLock_Exclusive(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	a := NewMemberLock(client, 42, "req-a", 30*time.Second)
	b := NewMemberLock(client, 42, "req-b", 30*time.Second)
	assert.Equal(t, "credit:lock:member:42", a.Key())

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, a.Unlock(ctx))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_UnlockByNonOwnerIsNoop(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	owner := NewEntryLock(client, 7, "owner", 30*time.Second)
	intruder := NewEntryLock(client, 7, "intruder", 30*time.Second)

	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, intruder.Unlock(ctx))
	got, err := mr.Get("credit:lock:entry:7")
	require.NoError(t, err)
	assert.Equal(t, "owner", got)
}

func TestDistributedLock_LockGivesUp(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	holder := NewMemberLock(client, 1, "holder", 30*time.Second)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	waiter := NewMemberLock(client, 1, "waiter", 30*time.Second)
	err = waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestDistributedLock_ExpiresAfterTTL(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	crashed := NewMemberLock(client, 5, "crashed", 10*time.Second)
	ok, err := crashed.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	next := NewMemberLock(client, 5, "next", 10*time.Second)
	require.NoError(t, next.Lock(ctx, time.Millisecond, 1))
}
