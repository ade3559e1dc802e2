package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedisLocker_Acquire(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLocker(rdb)
	l.newToken = func() string { return "tok-1" }

	t.Run("acquired and released", func(t *testing.T) {
		mock.ExpectSetNX("lock:outcome-resolver", "tok-1", time.Minute).SetVal(true)
		mock.ExpectEvalSha(l.unlockSc.Hash(), []string{"lock:outcome-resolver"}, "tok-1").SetVal(int64(1))

		unlock, err := l.Acquire(context.Background(), "outcome-resolver", time.Minute)
		require.NoError(t, err)
		unlock()
		unlock() // segunda chamada não fala com o redis
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held by another replica", func(t *testing.T) {
		mock.ExpectSetNX("lock:outcome-resolver", "tok-1", time.Minute).SetVal(false)

		_, err := l.Acquire(context.Background(), "outcome-resolver", time.Minute)
		assert.ErrorIs(t, err, ErrLockHeld)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error", func(t *testing.T) {
		mock.ExpectSetNX("lock:outcome-resolver", "tok-1", time.Minute).SetErr(errors.New("conn reset"))

		_, err := l.Acquire(context.Background(), "outcome-resolver", time.Minute)
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrLockHeld))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNoop(t *testing.T) {
	unlock, err := Noop{}.Acquire(context.Background(), "any", time.Second)
	require.NoError(t, err)
	unlock()
}

type heldLocker struct{}

type downLocker struct{}

func (downLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, errors.New("redis: acquire lock sweeper: dial tcp: connection refused")
}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, ErrLockHeld
}

func TestWithLock(t *testing.T) {
	ran := false
	err := WithLock(context.Background(), zap.NewNop(), nil, "sweeper", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	ran = false
	err = WithLock(context.Background(), zap.NewNop(), heldLocker{}, "sweeper", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.False(t, ran)

	boom := errors.New("boom")
	err = WithLock(context.Background(), zap.NewNop(), Noop{}, "sweeper", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWithLock_RedisDownRunsCycle(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	ran := false
	err := WithLock(context.Background(), zap.New(core), downLocker{}, "sweeper", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	require.Equal(t, 1, logs.FilterMessage("cycle lock unavailable, running without it").Len())

	// desligando, o ciclo não roda
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran = false
	err = WithLock(ctx, zap.NewNop(), downLocker{}, "sweeper", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, ran)
}
