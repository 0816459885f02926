// Package main provides the outbox relay service entry point.
// Publishes committed outbox entries to Redpanda and records where generated documents landed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/config"
	"github.com/drfirst/go-era/internal/domain/remittance"
	"github.com/drfirst/go-era/internal/infrastructure/postgres"
	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
	"github.com/drfirst/go-era/internal/observability/metrics"
	"github.com/drfirst/go-era/internal/observability/tracing"
	"github.com/drfirst/go-era/internal/x12/era835"
	"github.com/drfirst/go-era/pkg/circuitbreaker"
)

const (
	serviceName   = "outbox-relay"
	statsInterval = 15 * time.Second
	retention     = 7 * 24 * time.Hour
)

func main() {
	cfg := config.LoadFromEnv()

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tp, err := tracing.Init(context.Background(), tcfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	m := metrics.New(nil)

	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to.Level()))
	}
	breakers := circuitbreaker.NewManager(breakerCfg, logger)

	service := remittance.NewService(
		remittance.NewRepository(pool, logger),
		era835.NewEncoder(era835.WithExtension(cfg.Encoder.Extension)),
		logger,
	)

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter

	outbox := postgres.NewOutbox(pool, &breakerPublisher{producer: producer, breakers: breakers}, outboxCfg, logger)
	outbox.OnPublished(service.PublishHook())

	outbox.Start()
	logger.Info("outbox relay started")

	ctx, cancel := context.WithCancel(context.Background())
	go housekeeping(ctx, outbox, m, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: opsRouter(breakers, producer, pool, cfg.Kafka.Brokers),
	}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	outbox.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("outbox relay stopped")
}

// housekeeping exports the pending gauge and prunes processed entries
func housekeeping(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := outbox.GetStats(ctx)
			if err != nil {
				logger.Warn("outbox stats failed", zap.Error(err))
				continue
			}
			m.OutboxPending.Set(float64(stats.Pending))

			if n, err := outbox.CleanupProcessed(ctx, retention); err != nil {
				logger.Warn("outbox cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("pruned processed outbox entries", zap.Int64("count", n))
			}
		}
	}
}

// opsRouter serves metrics, breaker health and readiness
func opsRouter(breakers *circuitbreaker.Manager, producer *redpanda.Producer, pool *pgxpool.Pool, brokers []string) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		statuses := breakers.GetHealthStatus()
		code := http.StatusOK
		for _, s := range statuses {
			if !s.Healthy {
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"breakers": statuses,
			"producer": producer.Stats(),
		})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redpanda.HealthCheck(r.Context(), brokers); err != nil {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
	})

	return r
}
