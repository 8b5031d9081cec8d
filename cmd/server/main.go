// Command server runs the custody-exchange verification engine: the HTTP API
// plus the auto-close sweeper, sharing one store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"handoff/pkg/platform/middleware/requestid"
	"handoff/pkg/platform/middleware/requesttime"

	"handoff/internal/events"
	"handoff/internal/evidence/archiver"
	"handoff/internal/exchange/handler"
	"handoff/internal/exchange/metrics"
	"handoff/internal/exchange/service"
	"handoff/internal/exchange/store"
	"handoff/internal/exchange/sweeper"
	jwttoken "handoff/internal/jwt_token"
	"handoff/internal/platform/config"
	"handoff/internal/platform/httpserver"
	"handoff/internal/platform/logger"
	"handoff/internal/platform/postgres"
	platformredis "handoff/internal/platform/redis"
	"handoff/internal/qrconfirm"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Instance store: Postgres when configured, in-memory otherwise.
	var instances store.Store
	if cfg.PostgresURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pgStore := store.NewPostgresStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return err
		}
		instances = pgStore
		log.Info("using postgres exchange store")
	} else {
		instances = store.NewInMemoryStore()
		log.Warn("no postgres configured, using in-memory exchange store")
	}

	// QR token store: Redis shares single-use state across replicas.
	var tokens qrconfirm.TokenStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		tokens = qrconfirm.NewRedisTokenStore(redisClient.Client)
		log.Info("using redis qr token store")
	} else {
		tokens = qrconfirm.NewInMemoryTokenStore()
		log.Warn("no redis configured, using in-memory qr token store")
	}

	// Lifecycle events: Kafka when brokers are configured.
	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			return err
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		log.Info("publishing lifecycle events to kafka", "topic", cfg.KafkaTopic)
	}

	// Evidence archiver: S3 when a bucket is configured.
	var evidenceArchiver service.Archiver
	if cfg.S3Bucket != "" {
		s3Archiver, err := archiver.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return err
		}
		evidenceArchiver = s3Archiver
		log.Info("archiving finalized instances to s3", "bucket", cfg.S3Bucket)
	}

	exchangeMetrics := metrics.New()
	exchanges := service.NewService(instances, publisher, evidenceArchiver, log, exchangeMetrics, cfg.DisputeGrace)
	qr := qrconfirm.NewService(instances, tokens, publisher, log, exchangeMetrics)
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "handoff", "handoff-parties")

	router := chi.NewRouter()
	router.Use(requestid.Middleware)
	router.Use(requesttime.Middleware)
	handler.New(exchanges, qr, jwtService, log).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	server := httpserver.New(cfg.Addr, router)
	sweep := sweeper.New(instances, exchanges, log, exchangeMetrics, cfg.SweepInterval, cfg.SweepBatchSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sweep.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down http server")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
