package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/wager-settlement-platform/internal/wager"
)

// RedisStreaks guarda o contador de 404 consecutivos por partida no Redis.
// O TTL descarta contadores de desafios que saíram de ACCEPTED
type RedisStreaks struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisStreaks(c *redis.Client, ttl time.Duration) *RedisStreaks {
	return &RedisStreaks{Client: c, TTL: ttl}
}

// key gera a chave do contador de uma partida
func key(matchID string) string { return "resolver:notfound:" + matchID }

// IncrementStreak incrementa e renova o TTL numa única transação
func (r *RedisStreaks) IncrementStreak(ctx context.Context, c wager.Challenge) (int, error) {
	var incr *redis.IntCmd
	_, err := r.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key(c.MatchID))
		p.Expire(ctx, key(c.MatchID), r.TTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (r *RedisStreaks) ResetStreak(ctx context.Context, c wager.Challenge) error {
	return r.Client.Del(ctx, key(c.MatchID)).Err()
}
