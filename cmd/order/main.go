package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/config"
	"github.com/ariefcatur/go-order-pipeline/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/logging"
	"github.com/ariefcatur/go-order-pipeline/internal/metrics"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/otelx"
	"github.com/ariefcatur/go-order-pipeline/internal/outbox"
	"github.com/ariefcatur/go-order-pipeline/internal/pipeline"
	"github.com/ariefcatur/go-order-pipeline/internal/postgres"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
	"github.com/ariefcatur/go-order-pipeline/internal/supervisor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("order-service")
	if err != nil {
		bootLog := logging.New("order-service", "info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("order service exited")
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

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Redis dedup cache (opsional)
	var (
		rdb   *redis.Client
		dedup *redisx.Dedup
	)
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		dedup = redisx.NewDedup(rdb, cfg.ServiceName)
	}

	m := metrics.NewRegistry()
	client := kafkax.NewClient(cfg.KafkaBrokers, cfg.QueuePartitions, cfg.QueueReplication)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.PublishTimeout)

	relay := outbox.NewRelay(store, prod, log, outbox.RelayConfig{
		PollEvery:      cfg.OutboxPollEvery,
		BatchSize:      cfg.OutboxBatchSize,
		PublishTimeout: cfg.PublishTimeout,
	}, m)

	var deduper pipeline.Deduper
	if dedup != nil {
		deduper = dedup
	}
	h := pipeline.New(store, prod, relay, deduper, log, pipeline.Config{
		OutboundQueue:   cfg.ProductQueue,
		DeadLetterQueue: cfg.DeadLetterQueue,
		PersistTimeout:  cfg.PersistTimeout,
		PublishTimeout:  cfg.PublishTimeout,
		Decode:          orders.DecodeOptions{RejectEmpty: cfg.RejectEmptyOrders},
	}, m)

	sup := supervisor.New(client, supervisor.Config{
		Delay:       cfg.ConnectDelay,
		Queues:      []string{cfg.OrderQueue, cfg.ProductQueue, cfg.DeadLetterQueue},
		BackoffMin:  cfg.BackoffMin,
		BackoffMax:  cfg.BackoffMax,
		MaxAttempts: cfg.MaxAttempts,
	}, log, m)

	// Ops endpoints
	router := httpx.NewRouter(log)
	checks := map[string]httpx.Check{
		"broker": sup.ReadyCheck,
		"store":  store.Ping,
	}
	if dedup != nil {
		checks["redis"] = dedup.Ping
	}
	httpx.RegisterReady(router, checks)
	httpx.RegisterMetrics(router, m.Handler())
	(&httpx.OrdersHandler{Store: store}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(relayCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		return httpx.Serve(gctx, srv, cfg.ShutdownTimeout)
	})
	g.Go(func() error {
		err := sup.StartConsuming(gctx, func(ctx context.Context) error {
			// reader ditutup oleh Run, jadi tiap reconnect butuh consumer baru
			c := kafkax.NewConsumer(kafkax.ConsumerConfig{
				Brokers:      cfg.KafkaBrokers,
				Group:        cfg.ConsumerGroup,
				Queue:        cfg.OrderQueue,
				Workers:      cfg.ConsumerWorkers,
				RetryMin:     cfg.BackoffMin,
				RetryMax:     cfg.BackoffMax,
				DrainTimeout: cfg.ShutdownTimeout,
				OnRetry:      func(error, time.Duration) { m.HandlerRetries.Inc() },
			}, log)
			log.Info().Str("queue", cfg.OrderQueue).Int("workers", cfg.ConsumerWorkers).Msg("consumer started")
			return c.Run(ctx, h.Consume)
		})
		if err != nil {
			// tetap hidup supaya /readyz melaporkan degraded
			log.Error().Err(err).Msg("broker degraded, consumer not running")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopRelay()
	<-relayDone
	if ferr := relay.Flush(sctx); ferr != nil {
		log.Warn().Err(ferr).Msg("outbox not fully flushed")
	}
	if n, perr := store.PendingOutbox(sctx); perr == nil && n > 0 {
		log.Warn().Int("pending", n).Msg("outbox events left for the next start")
	}
	if cerr := prod.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("close producer")
	}
	if cerr := store.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("close store")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if terr := shutdownTracer(sctx); terr != nil {
		log.Warn().Err(terr).Msg("shutdown tracer")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (orders.Store, error) {
	switch cfg.StoreBackend {
	case "pebble":
		log.Info().Str("dir", cfg.PebbleDir).Msg("using pebble store")
		return orders.NewPebbleStore(cfg.PebbleDir)
	case "postgres", "":
		pool, err := postgres.ConnectRetry(ctx, cfg.PostgresDSN, 2*time.Second)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Msg("using postgres store")
		return &orders.Repo{DB: pool}, nil
	default:
		return nil, errors.New("unknown STORE_BACKEND " + cfg.StoreBackend)
	}
}
