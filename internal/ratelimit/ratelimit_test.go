package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	token, ok, err := locker.TryLock(ctx, "customer:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "customer:1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryLock(ctx, "customer:2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locker.Release(ctx, "customer:1", "not-the-token"))
	_, ok, _ = locker.TryLock(ctx, "customer:1", time.Second)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "customer:1", token))
	_, ok, _ = locker.TryLock(ctx, "customer:1", time.Second)
	assert.True(t, ok)
}

func TestMemoryLockerExpires(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	_, ok, _ := locker.TryLock(ctx, "k", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = locker.TryLock(ctx, "k", time.Second)
	assert.True(t, ok)
}

func TestLockerRejectsBadArgs(t *testing.T) {
	locker := NewMemoryLocker()
	_, _, err := locker.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrLockKeyEmpty)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrLockTTLInvalid)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	release, err := Acquire(ctx, locker, "k", time.Minute, time.Millisecond)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := Acquire(ctx, locker, "k", time.Minute, time.Millisecond)
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("second holder acquired while first held the lease")
	case <-time.After(20 * time.Millisecond):
	}
	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second holder never acquired")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	locker := NewMemoryLocker()
	release, err := Acquire(context.Background(), locker, "k", time.Minute, time.Millisecond)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, locker, "k", time.Minute, time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotHeld)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireWithoutLocker(t *testing.T) {
	release, err := Acquire(context.Background(), nil, "k", time.Second, 0)
	require.NoError(t, err)
	release()
}

func TestMemoryBucketRefills(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "ip", 1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := bucket.Allow(ctx, "ip", 1, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)
	assert.Equal(t, 3, res.Limit)

	now = now.Add(time.Second)
	res, err = bucket.Allow(ctx, "ip", 1, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = bucket.Allow(ctx, "other", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryBucketRejectsBadArgs(t *testing.T) {
	_, err := NewMemoryBucket().Allow(context.Background(), "ip", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimiterArgs)
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(7), castToInt("7"))
	assert.Equal(t, int64(7), castToInt(int64(7)))
	assert.InDelta(t, 2.5, castToFloat("2.5"), 0.0001)
	assert.InDelta(t, 3.0, castToFloat(int64(3)), 0.0001)
}
