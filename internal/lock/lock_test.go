package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client), mr
}

func TestCheckoutKey(t *testing.T) {
	assert.Equal(t, "checkout:t1:u1:c1", CheckoutKey("t1", "u1", "c1"))
}

func TestRedisLocker_ObtainRelease(t *testing.T) {
	locker, mr := setupRedisLocker(t)
	ctx := context.Background()

	lk, err := locker.Obtain(ctx, "checkout:t1:u1:c1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("checkout:t1:u1:c1"))

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(waitCtx, "checkout:t1:u1:c1", 10*time.Second)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, lk.Release(ctx))
	assert.False(t, mr.Exists("checkout:t1:u1:c1"))

	lk2, err := locker.Obtain(ctx, "checkout:t1:u1:c1", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, lk2.Release(ctx))
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	locker, _ := setupRedisLocker(t)
	ctx := context.Background()

	lk, err := locker.Obtain(ctx, "k", 10*time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = lk.Release(ctx)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	lk2, err := locker.Obtain(waitCtx, "k", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, lk2.Release(ctx))
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	lk, err := locker.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(waitCtx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	other, err := locker.Obtain(ctx, "other", time.Minute)
	require.NoError(t, err, "different keys do not contend")
	require.NoError(t, other.Release(ctx))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = lk.Release(ctx)
	}()
	lk2, err := locker.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lk2.Release(ctx))
	require.NoError(t, lk.Release(ctx), "double release is harmless")
}

func TestLocalLocker_Expires(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	_, err := locker.Obtain(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	lk, err := locker.Obtain(waitCtx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lk.Release(ctx))
}
