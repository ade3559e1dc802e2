package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/shared/lock"
	"github.com/radieske/wager-settlement-platform/internal/wager"
)

type Challenges interface {
	ListExpirable(ctx context.Context, olderThan time.Time, limit int) ([]wager.Challenge, error)
	Settle(ctx context.Context, s wager.Settlement) error
}

const lockName = "expiry-sweeper"

// Sweeper expira desafios que ninguém aceitou dentro de AcceptTimeout e
// devolve o stake ao criador. Cada desafio é uma transação própria
type Sweeper struct {
	Log        *zap.Logger
	Challenges Challenges
	Lock       lock.Locker

	AcceptTimeout time.Duration
	Interval      time.Duration
	BatchSize     int
	LockTTL       time.Duration
	FeeRate       decimal.Decimal
	House         string

	OnExpired     func()
	OnError       func(stage string)
	OnAfterSettle func(s wager.Settlement)
}

func (s *Sweeper) Run(ctx context.Context) error {
	for {
		err := lock.WithLock(ctx, s.Log, s.Lock, lockName, s.LockTTL, func(ctx context.Context) error {
			_, err := s.SweepOnce(ctx, time.Now())
			return err
		})
		switch {
		case errors.Is(err, lock.ErrLockHeld):
			s.Log.Debug("cycle skipped, lock held by another replica")
		case err != nil && ctx.Err() == nil:
			s.Log.Error("sweep cycle failed", zap.Error(err))
			s.fail("cycle")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Interval):
		}
	}
}

// SweepOnce expira os elegíveis em now e retorna quantos foram expirados
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := s.Challenges.ListExpirable(ctx, now.Add(-s.AcceptTimeout), s.BatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		log := s.Log.With(zap.Int64("challenge_id", c.ID))

		plan, err := wager.Plan(c, wager.Expired(), s.FeeRate, s.House)
		if err != nil {
			log.Error("build expiry plan", zap.Error(err))
			s.fail("plan")
			continue
		}
		if err := s.Challenges.Settle(ctx, plan); err != nil {
			if errors.Is(err, wager.ErrStaleTransition) {
				// aceito ou expirado por outro processo enquanto isso
				log.Info("challenge left WAITING_FOR_ACCEPTANCE before expiry")
				continue
			}
			log.Error("expire challenge", zap.Error(err))
			s.fail("settle")
			continue
		}

		expired++
		log.Info("challenge expired, stake refunded",
			zap.String("creator", c.Creator),
			zap.Int64("stake", c.Stake),
			zap.Duration("age", now.Sub(c.CreatedAt)),
		)
		if s.OnExpired != nil {
			s.OnExpired()
		}
		if s.OnAfterSettle != nil {
			s.OnAfterSettle(plan)
		}
	}
	return expired, nil
}

func (s *Sweeper) fail(stage string) {
	if s.OnError != nil {
		s.OnError(stage)
	}
}
