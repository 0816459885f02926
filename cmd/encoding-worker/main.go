// Package main provides the batch encoding worker entry point.
// Consumes remittance documents from era.requests and stores the encoded 835s.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-era/internal/config"
	"github.com/drfirst/go-era/internal/domain/remittance"
	"github.com/drfirst/go-era/internal/infrastructure/redpanda"
	"github.com/drfirst/go-era/internal/observability/metrics"
	"github.com/drfirst/go-era/internal/observability/tracing"
	"github.com/drfirst/go-era/internal/worker"
	"github.com/drfirst/go-era/internal/x12/era835"
	"github.com/drfirst/go-era/pkg/idempotency"
	"github.com/drfirst/go-era/pkg/workerpool"
)

const serviceName = "encoding-worker"

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

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := admin.EnsureTopics(ctx); err != nil {
		cancel()
		logger.Fatal("topic setup failed", zap.Error(err))
	}
	cancel()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	m := metrics.New(nil)
	service := remittance.NewService(
		remittance.NewRepository(pool, logger),
		era835.NewEncoder(era835.WithExtension(cfg.Encoder.Extension)),
		logger,
		remittance.WithInterchangeDefaults(cfg.Encoder.Interchange()),
	)

	inbox := idempotency.NewInbox(idempotency.NewPostgresStore(pool), idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Worker.Workers

	encoder, err := worker.New(service, inbox, producer, m, poolCfg, logger)
	if err != nil {
		logger.Fatal("worker creation failed", zap.Error(err))
	}
	encoder.Start()
	defer encoder.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers

	consumer, err := redpanda.NewConsumer(consumerCfg, encoder.Handle, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	server := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: opsRouter(encoder, consumer, producer, admin, consumerCfg.GroupID, logger),
	}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	logger.Info("encoding worker started",
		zap.Int("workers", poolCfg.Workers),
		zap.Strings("brokers", cfg.Kafka.Brokers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("encoding worker stopped")
}

// opsRouter serves metrics, health, readiness and consumer lag
func opsRouter(encoder *worker.Encoder, consumer *redpanda.Consumer, producer *redpanda.Producer, admin *redpanda.Admin, groupID string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusOK
		if !encoder.Pool().IsHealthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"pool":     encoder.Pool().Stats(),
			"consumer": consumer.Stats(),
			"producer": producer.Stats(),
		})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		topics, err := admin.ListTopics(r.Context())
		if err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		for _, want := range []string{redpanda.TopicRequests, redpanda.TopicDeadLetter} {
			if !slices.Contains(topics, want) {
				http.Error(w, "missing topic "+want, http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ready"))
	})

	r.Get("/lag", func(w http.ResponseWriter, r *http.Request) {
		lag, err := admin.ConsumerGroupLag(r.Context(), groupID)
		if err != nil {
			logger.Warn("lag lookup failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, lag)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
