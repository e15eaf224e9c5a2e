package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/auth"
	"github.com/ariefcatur/go-order-pipeline/internal/catalog"
	"github.com/ariefcatur/go-order-pipeline/internal/config"
	"github.com/ariefcatur/go-order-pipeline/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/logging"
	"github.com/ariefcatur/go-order-pipeline/internal/metrics"
	"github.com/ariefcatur/go-order-pipeline/internal/otelx"
	"github.com/ariefcatur/go-order-pipeline/internal/postgres"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
	"github.com/ariefcatur/go-order-pipeline/internal/supervisor"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("product-service")
	if err != nil {
		bootLog := logging.New("product-service", "info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("product service exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	shutdownTracer, err := otelx.Setup(ctx, otelx.Config{
		Enabled:      cfg.OtelEnabled,
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OtelEndpoint,
		SampleRatio:  cfg.OtelSampleRatio,
	})
	if err != nil {
		return err
	}

	db, err := postgres.ConnectRetry(ctx, cfg.PostgresDSN, 2*time.Second)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return err
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	m := metrics.NewRegistry()
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.PublishTimeout)
	defer prod.Close()

	svc := &catalog.Service{
		Products:   &catalog.ProductRepo{DB: db},
		Publisher:  prod,
		Redis:      rdb,
		Dedup:      redisx.NewDedup(rdb, cfg.ServiceName),
		Log:        log.With().Str("component", "catalog").Logger(),
		OrderQueue: cfg.OrderQueue,
		BuyTimeout: cfg.BuyTimeout,
	}

	client := kafkax.NewClient(cfg.KafkaBrokers, cfg.QueuePartitions, cfg.QueueReplication)
	sup := supervisor.New(client, supervisor.Config{
		Delay:       cfg.ConnectDelay,
		Queues:      []string{cfg.OrderQueue, cfg.ProductQueue},
		BackoffMin:  cfg.BackoffMin,
		BackoffMax:  cfg.BackoffMax,
		MaxAttempts: cfg.MaxAttempts,
	}, log, m)

	router := httpx.NewRouter(log)
	httpx.RegisterReady(router, map[string]httpx.Check{
		"broker":   sup.ReadyCheck,
		"postgres": db.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	httpx.RegisterMetrics(router, m.Handler())
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)))
		(&catalog.Handler{Service: svc}).Register(r)
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		return httpx.Serve(gctx, srv, cfg.ShutdownTimeout)
	})
	g.Go(func() error {
		err := sup.StartConsuming(gctx, func(ctx context.Context) error {
			c := kafkax.NewConsumer(kafkax.ConsumerConfig{
				Brokers:      cfg.KafkaBrokers,
				Group:        cfg.ServiceName,
				Queue:        cfg.ProductQueue,
				Workers:      cfg.ConsumerWorkers,
				RetryMin:     cfg.BackoffMin,
				RetryMax:     cfg.BackoffMax,
				DrainTimeout: cfg.ShutdownTimeout,
				OnRetry:      func(error, time.Duration) { m.HandlerRetries.Inc() },
			}, log)
			return c.Run(ctx, svc.Consume)
		})
		if err != nil {
			log.Error().Err(err).Msg("broker degraded, priced orders not consumed")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if terr := shutdownTracer(sctx); terr != nil {
		log.Warn().Err(terr).Msg("shutdown tracer")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
