package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld indica que outra réplica está rodando o mesmo ciclo
var ErrLockHeld = errors.New("lock held")

// Locker serializa ciclos de loops entre réplicas. Não é usado para garantir
// corretude do ledger (isso é papel da transação no Postgres)
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// apaga a chave só se o token ainda for nosso
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker implementa Locker com SETNX + TTL e unlock condicional via Lua
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	newToken func() string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		newToken: func() string { return uuid.NewString() },
	}
}

func key(name string) string { return "lock:" + name }

// Acquire tenta obter o lock; retorna ErrLockHeld se outro processo o detém.
// A função de unlock pode ser chamada mais de uma vez
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := l.newToken()
	k := key(name)

	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// contexto próprio: o do chamador pode já estar cancelado
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{k}, token).Err()
	}

	return unlock, nil
}

// Noop sempre concede o lock. Usado quando CYCLE_LOCK_ENABLED=false
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = Noop{}
)

// WithLock roda fn segurando o lock name. Locker nil equivale a Noop.
// Retorna ErrLockHeld sem rodar fn se outra réplica estiver no ciclo.
// Com o Redis fora, o ciclo roda sem lock: as transações no Postgres já
// tornam ciclos concorrentes seguros, só há trabalho repetido
func WithLock(ctx context.Context, log *zap.Logger, l Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if l == nil {
		l = Noop{}
	}
	unlock, err := l.Acquire(ctx, name, ttl)
	switch {
	case errors.Is(err, ErrLockHeld):
		return err
	case err != nil:
		if ctx.Err() != nil {
			return err
		}
		if log != nil {
			log.Warn("cycle lock unavailable, running without it", zap.String("lock", name), zap.Error(err))
		}
		unlock = func() {}
	}
	defer unlock()
	return fn(ctx)
}
