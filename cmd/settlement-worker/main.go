package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/wager-settlement-platform/internal/expiry-sweeper/sweeper"
	"github.com/radieske/wager-settlement-platform/internal/outcome-resolver/cache"
	"github.com/radieske/wager-settlement-platform/internal/outcome-resolver/gameclient"
	"github.com/radieske/wager-settlement-platform/internal/outcome-resolver/resolver"
	sharedcache "github.com/radieske/wager-settlement-platform/internal/shared/cache"
	"github.com/radieske/wager-settlement-platform/internal/shared/config"
	"github.com/radieske/wager-settlement-platform/internal/shared/db"
	"github.com/radieske/wager-settlement-platform/internal/shared/lock"
	"github.com/radieske/wager-settlement-platform/internal/shared/logger"
	"github.com/radieske/wager-settlement-platform/internal/shared/metrics"
	"github.com/radieske/wager-settlement-platform/internal/shared/publisher"
	"github.com/radieske/wager-settlement-platform/internal/wager"
	wrepo "github.com/radieske/wager-settlement-platform/internal/wager/repo"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "settlement-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Inicializa dependências: Postgres sempre, Redis só se algum recurso pedir
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	challenges := wrepo.NewPostgres(pg)
	checks := map[string]metrics.HealthFunc{"pg": pg.PingContext}

	var (
		streaks resolver.StreakStore = challenges
		locker  lock.Locker          = lock.Noop{}
	)
	if cfg.StreakBackend == "redis" || cfg.CycleLockEnabled {
		redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		if cfg.StreakBackend == "redis" {
			streaks = cache.NewRedisStreaks(redisClient, 24*time.Hour)
		}
		if cfg.CycleLockEnabled {
			locker = lock.NewRedisLocker(redisClient)
		}
	}

	pub, err := publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicChallengeSettled, cfg.Env, log)
	if err != nil {
		log.Fatal("kafka publisher", zap.Error(err))
	}
	defer pub.Close()

	// Métricas Prometheus dos dois loops
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_challenges_settled_total", Help: "desafios liquidados por tipo de resultado"}, []string{"kind"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_challenges_expired_total", Help: "desafios expirados sem aceite"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_errors_total", Help: "erros por loop e estágio"}, []string{"loop", "stage"})
	prometheus.MustRegister(settled, expired, errorsBy)

	// Após commit, publica o evento; falha de publicação não desfaz a liquidação
	publish := func(s wager.Settlement) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pub.PublishChallengeSettled(ctx, publisher.ChallengeSettledEvent(s)); err != nil {
			log.Warn("challenge settled publish failed", zap.Int64("challenge_id", s.ChallengeID), zap.Error(err))
		}
	}

	games := gameclient.New(cfg.GameAPIURL, cfg.HTTPClientTimeout)
	games.ExportPath = cfg.GameExportPath

	res := &resolver.Resolver{
		Log:               log.Named("resolver"),
		Challenges:        challenges,
		Games:             games,
		Streaks:           streaks,
		Lock:              locker,
		FeeRate:           cfg.FeeRate,
		House:             cfg.HouseAccount,
		BatchSize:         cfg.BatchSize,
		NotFoundThreshold: cfg.ResolverNotFoundThreshold,
		BusyInterval:      cfg.ResolverBusyInterval,
		IdleInterval:      cfg.ResolverIdleInterval,
		LockTTL:           cfg.CycleLockTTL,
		OnSettled:         func(kind wager.OutcomeKind) { settled.WithLabelValues(string(kind)).Inc() },
		OnError:           func(stage string) { errorsBy.WithLabelValues("resolver", stage).Inc() },
		OnAfterSettle:     publish,
	}

	sw := &sweeper.Sweeper{
		Log:           log.Named("sweeper"),
		Challenges:    challenges,
		Lock:          locker,
		AcceptTimeout: cfg.AcceptTimeout,
		Interval:      cfg.SweeperInterval,
		BatchSize:     cfg.BatchSize,
		LockTTL:       cfg.CycleLockTTL,
		FeeRate:       cfg.FeeRate,
		House:         cfg.HouseAccount,
		OnExpired:     func() { expired.Inc() },
		OnError:       func(stage string) { errorsBy.WithLabelValues("sweeper", stage).Inc() },
		OnAfterSettle: publish,
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, checks)
	defer metricsSrv.Close()

	log.Info("settlement-worker started",
		zap.String("streak_backend", cfg.StreakBackend),
		zap.Bool("cycle_lock", cfg.CycleLockEnabled),
		zap.String("fee_rate", cfg.FeeRate.String()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return res.Run(gctx) })
	g.Go(func() error { return sw.Run(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("settlement-worker stopped with error", zap.Error(err))
	}
	log.Info("settlement-worker stopped")
}
