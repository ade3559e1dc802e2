package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-platform/internal/network-simulator/sim"
	"github.com/radieske/wager-settlement-platform/internal/shared/config"
	"github.com/radieske/wager-settlement-platform/internal/shared/logger"
	"github.com/radieske/wager-settlement-platform/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "network-simulator"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(sim.Collectors()...)

	s := sim.NewServer(log, time.Now().UnixNano())

	// ==== MUX DE MÉTRICAS (/healthz, /metrics)
	metrics.StartMetricsServer(cfg.MetricsPort, log, nil)

	// ==== Servidor público: partidas + nó de pagamento
	publicAddr := ":" + cfg.HTTPPort
	log.Info("network simulator (public) running",
		zap.String("addr", publicAddr),
		zap.String("paths", "/game/export/{id},/v1/invoices,/v1/invoices/subscribe,/v2/invoices/lookup"),
	)
	srv := &http.Server{Addr: publicAddr, Handler: s.Routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("public server error", zap.Error(err))
	}
}
