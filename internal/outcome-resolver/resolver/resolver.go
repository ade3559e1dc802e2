package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/outcome-resolver/gameclient"
	"github.com/radieske/wager-settlement-platform/internal/outcome-resolver/gameclient/dto"
	"github.com/radieske/wager-settlement-platform/internal/shared/lock"
	"github.com/radieske/wager-settlement-platform/internal/wager"
)

// Challenges é o subconjunto do repositório de desafios usado aqui
type Challenges interface {
	ListByStatus(ctx context.Context, status wager.Status, limit int) ([]wager.Challenge, error)
	Settle(ctx context.Context, s wager.Settlement) error
}

// Games consulta o resultado de uma partida externa
type Games interface {
	Export(ctx context.Context, matchID string) (dto.GameExport, error)
}

// StreakStore persiste o contador de 404 consecutivos por desafio
type StreakStore interface {
	IncrementStreak(ctx context.Context, c wager.Challenge) (int, error)
	ResetStreak(ctx context.Context, c wager.Challenge) error
}

const lockName = "outcome-resolver"

// Resolver verifica os desafios ACCEPTED contra o serviço de partidas e
// liquida os que terminaram. Callbacks são opcionais (métricas, eventos)
type Resolver struct {
	Log        *zap.Logger
	Challenges Challenges
	Games      Games
	Streaks    StreakStore
	Lock       lock.Locker

	FeeRate           decimal.Decimal
	House             string
	BatchSize         int
	NotFoundThreshold int
	BusyInterval      time.Duration
	IdleInterval      time.Duration
	LockTTL           time.Duration

	OnSettled     func(kind wager.OutcomeKind)
	OnError       func(stage string)
	OnAfterSettle func(s wager.Settlement)
}

// Run roda PollOnce para sempre: BusyInterval depois de ciclos com trabalho,
// IdleInterval quando não havia nada
func (r *Resolver) Run(ctx context.Context) error {
	for {
		n := 0
		err := lock.WithLock(ctx, r.Log, r.Lock, lockName, r.LockTTL, func(ctx context.Context) error {
			var err error
			n, err = r.PollOnce(ctx)
			return err
		})
		switch {
		case errors.Is(err, lock.ErrLockHeld):
			r.Log.Debug("cycle skipped, lock held by another replica")
		case err != nil && ctx.Err() == nil:
			r.Log.Error("resolver cycle failed", zap.Error(err))
			r.fail("cycle")
		}

		wait := r.IdleInterval
		if n > 0 {
			wait = r.BusyInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// PollOnce processa um lote de desafios ACCEPTED e retorna quantos foram vistos.
// Erro num desafio não interrompe o lote; só falha de listagem é retornada
func (r *Resolver) PollOnce(ctx context.Context) (int, error) {
	challenges, err := r.Challenges.ListByStatus(ctx, wager.StatusAccepted, r.BatchSize)
	if err != nil {
		return 0, err
	}
	r.Log.Debug("accepted challenges", zap.Int("count", len(challenges)))

	for _, c := range challenges {
		if ctx.Err() != nil {
			return len(challenges), ctx.Err()
		}
		r.resolve(ctx, c)
	}
	return len(challenges), nil
}

func (r *Resolver) resolve(ctx context.Context, c wager.Challenge) {
	log := r.Log.With(zap.Int64("challenge_id", c.ID), zap.String("match_id", c.MatchID))

	if c.MatchID == "" {
		// ACCEPTED sem partida vinculada viola o modelo; só este desafio é afetado
		log.Error("accepted challenge without match id")
		r.fail("invariant")
		return
	}

	game, err := r.Games.Export(ctx, c.MatchID)
	if errors.Is(err, gameclient.ErrMatchNotFound) {
		r.notFound(ctx, log, c)
		return
	}
	if err != nil {
		stage := "game_api"
		if errors.Is(err, gameclient.ErrMalformed) {
			stage = "decode"
		}
		log.Warn("game export failed", zap.Error(err))
		r.fail(stage)
		return
	}

	// achou a partida: a sequência de 404 acabou
	if err := r.Streaks.ResetStreak(ctx, c); err != nil {
		log.Warn("reset not-found streak", zap.Error(err))
		r.fail("streak")
	}

	if game.InProgress() {
		log.Debug("match not over yet", zap.String("status", game.Status))
		return
	}

	outcome := wager.Draw()
	if game.Winner != "" {
		outcome = wager.Decisive(wager.Side(game.Winner))
	}
	r.settle(ctx, log, c, outcome)
}

func (r *Resolver) notFound(ctx context.Context, log *zap.Logger, c wager.Challenge) {
	n, err := r.Streaks.IncrementStreak(ctx, c)
	if errors.Is(err, wager.ErrStaleTransition) {
		log.Info("challenge left ACCEPTED while polling")
		return
	}
	if err != nil {
		log.Warn("increment not-found streak", zap.Error(err))
		r.fail("streak")
		return
	}

	if n < r.NotFoundThreshold {
		log.Debug("match not found", zap.Int("streak", n), zap.Int("threshold", r.NotFoundThreshold))
		return
	}

	log.Info("match never found, forcing draw", zap.Int("streak", n))
	r.settle(ctx, log, c, wager.ForcedDraw())
}

func (r *Resolver) settle(ctx context.Context, log *zap.Logger, c wager.Challenge, o wager.Outcome) {
	plan, err := wager.Plan(c, o, r.FeeRate, r.House)
	if err != nil {
		log.Error("build settlement plan", zap.Error(err))
		r.fail("plan")
		return
	}

	if err := r.Challenges.Settle(ctx, plan); err != nil {
		if errors.Is(err, wager.ErrStaleTransition) {
			log.Info("challenge already settled elsewhere")
			return
		}
		log.Error("settle challenge", zap.Error(err))
		r.fail("settle")
		return
	}

	log.Info("challenge settled",
		zap.String("outcome", string(o.Kind)),
		zap.String("winner", plan.Winner),
		zap.Int64("stake", c.Stake),
		zap.Int64("house_take", plan.HouseTake(r.House)),
	)
	if r.OnSettled != nil {
		r.OnSettled(o.Kind)
	}
	if r.OnAfterSettle != nil {
		r.OnAfterSettle(plan)
	}
}

func (r *Resolver) fail(stage string) {
	if r.OnError != nil {
		r.OnError(stage)
	}
}
