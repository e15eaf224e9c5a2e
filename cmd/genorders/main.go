package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/config"
	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/logging"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type publisher interface {
	Publish(ctx context.Context, msgs ...kafkago.Message) error
}

type product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type request struct {
	OrderID  string    `json:"orderId"`
	Username string    `json:"username"`
	Products []product `json:"products"`
}

var (
	users   = []string{"alice", "bob", "carol", "dave"}
	catalog = []product{
		{ID: "p1", Name: "Keyboard", Price: 49.9},
		{ID: "p2", Name: "Mouse", Price: 19.5},
		{ID: "p3", Name: "Monitor", Price: 189},
		{ID: "p4", Name: "Cable", Price: 0.1},
		{ID: "p5", Name: "Stand", Price: 0.2},
	}
	malformed = [][]byte{
		[]byte(`{not json`),
		[]byte(`{"orderId":"x","username":"bob","products":[{"price":"ten"}]}`),
		[]byte(`{"orderId":"","username":"bob","products":[]}`),
		[]byte(`[]`),
	}
)

func main() {
	cfg, err := config.Load("genorders")
	if err != nil {
		bootLog := logging.New("genorders", "info")
		bootLog.Fatal().Err(err).Msg("load config")
	}

	var (
		count     int
		badRatio  float64
		dupRatio  float64
		brokers   string
		queue     string
		batchSize int
	)
	flag.IntVar(&count, "count", 100, "number of order requests to publish")
	flag.Float64Var(&badRatio, "malformed", 0, "fraction of malformed requests (0..1)")
	flag.Float64Var(&dupRatio, "duplicates", 0, "fraction of requests re-sent with the same orderId (0..1)")
	flag.StringVar(&brokers, "brokers", strings.Join(cfg.KafkaBrokers, ","), "comma separated kafka brokers")
	flag.StringVar(&queue, "queue", cfg.OrderQueue, "inbound order queue")
	flag.IntVar(&batchSize, "batch", 50, "messages per publish call")
	flag.Parse()

	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prod := kafkax.NewProducer(strings.Split(brokers, ","), cfg.PublishTimeout)
	defer prod.Close()

	sent, err := generate(ctx, prod, queue, count, batchSize, badRatio, dupRatio, log)
	if err != nil {
		log.Error().Err(err).Int("sent", sent).Msg("generation failed")
		os.Exit(1)
	}
	log.Info().Int("sent", sent).Str("queue", queue).Msg("order requests published")
}

func generate(ctx context.Context, pub publisher, queue string, count, batchSize int, badRatio, dupRatio float64, log zerolog.Logger) (int, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	var (
		batch []kafkago.Message
		last  *kafkago.Message
		sent  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := pub.Publish(ctx, batch...); err != nil {
			return fmt.Errorf("publish batch: %w", err)
		}
		sent += len(batch)
		batch = batch[:0]
		return nil
	}

	start := time.Now()
	for i := 0; i < count; i++ {
		var msg kafkago.Message
		switch r := rand.Float64(); {
		case r < badRatio:
			msg = kafkago.Message{Topic: queue, Key: []byte(uuid.NewString()), Value: malformed[rand.IntN(len(malformed))]}
		case r < badRatio+dupRatio && last != nil:
			msg = *last
		default:
			req := randomRequest()
			msg = kafkago.Message{Topic: queue, Key: orders.PartitionKey(req.OrderID), Value: kafkax.MustMarshal(req)}
			last = &msg
		}
		batch = append(batch, msg)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return sent, err
			}
		}
	}
	if err := flush(); err != nil {
		return sent, err
	}
	log.Debug().Dur("took", time.Since(start)).Msg("generation done")
	return sent, nil
}

func randomRequest() request {
	n := rand.IntN(4)
	ps := make([]product, 0, n)
	for range n {
		ps = append(ps, catalog[rand.IntN(len(catalog))])
	}
	return request{
		OrderID:  uuid.NewString(),
		Username: users[rand.IntN(len(users))],
		Products: ps,
	}
}
