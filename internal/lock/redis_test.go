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

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, 30*time.Second)
	l.backoff = 5 * time.Millisecond
	l.maxWait = 20 * time.Millisecond
	return l, mr
}

func TestRedisLockerSetsKeyWithTTL(t *testing.T) {
	l, mr := newTestRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "SIG_A")
	require.NoError(t, err)
	assert.True(t, mr.Exists("chainproof:lock:SIG_A"))
	assert.Equal(t, 30*time.Second, mr.TTL("chainproof:lock:SIG_A"))

	unlock()
	assert.False(t, mr.Exists("chainproof:lock:SIG_A"))
}

func TestRedisLockerWaitsForHolder(t *testing.T) {
	l, _ := newTestRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "SIG_A")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(context.Background(), "SIG_A")
		if !assert.NoError(t, err) {
			close(acquired)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never acquired the released lock")
	}
}

func TestRedisLockerGivesUpOnContext(t *testing.T) {
	l, _ := newTestRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "SIG_A")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "SIG_A")
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	other, err := l.Lock(context.Background(), "SIG_B")
	require.NoError(t, err)
	other()
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newTestRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "SIG_A")
	require.NoError(t, err)

	// our lease expires and another instance takes the key
	mr.FastForward(31 * time.Second)
	require.False(t, mr.Exists("chainproof:lock:SIG_A"))
	other, err := l.Lock(context.Background(), "SIG_A")
	require.NoError(t, err)
	token, err := mr.Get("chainproof:lock:SIG_A")
	require.NoError(t, err)

	unlock()
	got, err := mr.Get("chainproof:lock:SIG_A")
	require.NoError(t, err, "a stale unlock must not delete the new holder's key")
	assert.Equal(t, token, got)

	other()
	assert.False(t, mr.Exists("chainproof:lock:SIG_A"))
}

func TestRedisLockerSurfacesConnectionErrors(t *testing.T) {
	l, mr := newTestRedisLocker(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := l.Lock(ctx, "SIG_A")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
}
