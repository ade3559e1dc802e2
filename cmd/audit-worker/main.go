package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/audit-worker/consumer"
	lrepo "github.com/radieske/wager-settlement-platform/internal/ledger/repo"
	"github.com/radieske/wager-settlement-platform/internal/shared/config"
	"github.com/radieske/wager-settlement-platform/internal/shared/db"
	"github.com/radieske/wager-settlement-platform/internal/shared/kafka"
	"github.com/radieske/wager-settlement-platform/internal/shared/logger"
	"github.com/radieske/wager-settlement-platform/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "audit-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	// Kafka consumer: eventos de liquidação de desafios e de depósitos
	reader := kafka.NewReader(cfg.KafkaBrokers, "ledger-audit", cfg.TopicChallengeSettled, cfg.TopicFundingSettled)
	defer reader.Close()

	// DLQ opcional para eventos que não decodificam
	var dlq consumer.MessageWriter
	if cfg.TopicSettlementDLQ != "" {
		w := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSettlementDLQ)
		defer w.Close()
		dlq = w
	}

	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "audit_messages_consumed_total", Help: "eventos consumidos por tópico"}, []string{"topic"})
	mismatches := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_ledger_mismatches_total", Help: "contas com saldo diferente da soma do ledger"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "audit_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, mismatches, errorsBy)

	proc := &consumer.Processor{
		Log:            log,
		Reader:         reader,
		Ledger:         lrepo.NewPostgres(pg),
		DLQ:            dlq,
		ChallengeTopic: cfg.TopicChallengeSettled,
		FundingTopic:   cfg.TopicFundingSettled,
		ReadBackoff:    500 * time.Millisecond,
		OnConsumed:     func(topic string) { consumed.WithLabelValues(topic).Inc() },
		OnMismatch:     func(string) { mismatches.Inc() },
		OnError:        func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, map[string]metrics.HealthFunc{
		"pg": pg.PingContext,
	})
	defer metricsSrv.Close()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("audit-worker started",
		zap.Strings("consume", []string{cfg.TopicChallengeSettled, cfg.TopicFundingSettled}),
		zap.String("dlq", cfg.TopicSettlementDLQ),
	)
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("audit-worker stopped")
}
