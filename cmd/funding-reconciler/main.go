package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/funding"
	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/lnd"
	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/poller"
	"github.com/radieske/wager-settlement-platform/internal/funding-reconciler/stream"
	lrepo "github.com/radieske/wager-settlement-platform/internal/ledger/repo"
	sharedcache "github.com/radieske/wager-settlement-platform/internal/shared/cache"
	"github.com/radieske/wager-settlement-platform/internal/shared/config"
	"github.com/radieske/wager-settlement-platform/internal/shared/db"
	"github.com/radieske/wager-settlement-platform/internal/shared/lock"
	"github.com/radieske/wager-settlement-platform/internal/shared/logger"
	"github.com/radieske/wager-settlement-platform/internal/shared/metrics"
	"github.com/radieske/wager-settlement-platform/internal/shared/publisher"
	"github.com/radieske/wager-settlement-platform/pkg/contracts/events"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "funding-reconciler"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	ledgerRepo := lrepo.NewPostgres(pg)
	checks := map[string]metrics.HealthFunc{"pg": pg.PingContext}

	var locker lock.Locker = lock.Noop{}
	if cfg.CycleLockEnabled {
		redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		locker = lock.NewRedisLocker(redisClient)
	}

	pub, err := publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicFundingSettled, cfg.Env, log)
	if err != nil {
		log.Fatal("kafka publisher", zap.Error(err))
	}
	defer pub.Close()

	// Métricas Prometheus do reconciliador
	records := prometheus.NewCounter(prometheus.CounterOpts{Name: "funding_stream_records_total", Help: "registros lidos do stream de invoices"})
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "funding_applied_total", Help: "depósitos liquidados por origem"}, []string{"source"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "funding_duplicates_total", Help: "confirmações já aplicadas por origem"}, []string{"source"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "funding_errors_total", Help: "erros por loop e estágio"}, []string{"loop", "stage"})
	prometheus.MustRegister(records, applied, duplicates, errorsBy)

	applier := &funding.Applier{
		Log:         log.Named("applier"),
		Ledger:      ledgerRepo,
		OnApplied:   func(source string) { applied.WithLabelValues(source).Inc() },
		OnDuplicate: func(source string) { duplicates.WithLabelValues(source).Inc() },
		OnAfterSettle: func(ev events.FundingSettled) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := pub.PublishFundingSettled(ctx, ev); err != nil {
				log.Warn("funding settled publish failed", zap.String("payment_addr", ev.PaymentAddr), zap.Error(err))
			}
		},
	}

	node := lnd.New(cfg.PaymentAPIURL, cfg.PaymentMacaroon, cfg.HTTPClientTimeout)

	// Transporte do stream: corpo chunked (padrão) ou websocket
	var subscriber lnd.Subscriber = node
	if cfg.FundingTransport == "ws" {
		subscriber = lnd.NewWS(cfg.PaymentAPIURL, cfg.PaymentMacaroon)
	}

	consumer := &stream.Consumer{
		Log:              log.Named("stream"),
		Subscriber:       subscriber,
		Decoder:          node,
		Applier:          applier,
		MaxRecord:        stream.DefaultMaxRecord,
		ResubscribeDelay: cfg.FundingResubscribeDelay,
		OnRecord:         func() { records.Inc() },
		OnError:          func(stage string) { errorsBy.WithLabelValues("stream", stage).Inc() },
	}

	poll := &poller.Poller{
		Log:       log.Named("poller"),
		Entries:   ledgerRepo,
		Invoices:  node,
		Applier:   applier,
		Lock:      locker,
		MinAge:    cfg.FundingPollMinAge,
		BatchSize: cfg.BatchSize,
		Interval:  cfg.FundingPollInterval,
		LockTTL:   cfg.CycleLockTTL,
		Now:       time.Now,
		OnError:   func(stage string) { errorsBy.WithLabelValues("poller", stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, checks)
	defer metricsSrv.Close()

	log.Info("funding-reconciler started", zap.String("transport", cfg.FundingTransport))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return poll.Run(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("funding-reconciler stopped with error", zap.Error(err))
	}
	log.Info("funding-reconciler stopped")
}
