package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler harus return nil hanya jika pesan selesai diproses. Non-nil error
// berarti pesan yang sama dicoba ulang (belum di-ack).
type Handler func(ctx context.Context, d *Delivery) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Delivery is one inbound message plus the means to acknowledge it.
type Delivery struct {
	Msg        kafka.Message
	r          messageReader
	ackTimeout time.Duration
}

func (d *Delivery) Body() []byte  { return d.Msg.Value }
func (d *Delivery) Key() []byte   { return d.Msg.Key }
func (d *Delivery) Queue() string { return d.Msg.Topic }

func (d *Delivery) Header(key string) string { return HeaderValue(d.Msg.Headers, key) }

// Ack commits the message offset. Partitions are handled by a single worker
// each, so the commit never skips an unhandled message.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ackTimeout)
		defer cancel()
	}
	return newBrokerError("ack", d.Msg.Topic, d.r.CommitMessages(ctx, d.Msg))
}

// TraceContext returns ctx carrying the W3C trace context of the message.
func (d *Delivery) TraceContext(ctx context.Context) context.Context {
	return ExtractTraceContext(ctx, d.Msg)
}

type ConsumerConfig struct {
	Brokers      []string
	Group        string
	Queue        string
	Workers      int
	RetryMin     time.Duration
	RetryMax     time.Duration
	DrainTimeout time.Duration
	AckTimeout   time.Duration
	// OnRetry dipanggil setiap kali handler gagal dan pesan akan dicoba ulang.
	OnRetry func(err error, wait time.Duration)
}

type Consumer struct {
	r   messageReader
	cfg ConsumerConfig
	log zerolog.Logger
}

func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		Topic:          cfg.Queue,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
		StartOffset:    kafka.FirstOffset,
	})
	return newConsumer(r, cfg, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, logger zerolog.Logger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 200 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	return &Consumer{
		r:   r,
		cfg: cfg,
		log: logger.With().Str("component", "consumer").Str("queue", cfg.Queue).Logger(),
	}
}

// Run fetches until ctx is canceled or the reader fails. Each partition is
// pinned to one worker, so a partition is handled strictly in order while
// distinct partitions run concurrently. When fetching stops, retries stop and
// in-flight handlers get DrainTimeout to finish before their context is
// canceled. Run returns only after every worker exited; queued messages are
// abandoned unacknowledged.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	defer c.r.Close()

	// stop berhenti saat fetch berhenti (shutdown atau reader gagal)
	stop, stopRetries := context.WithCancel(ctx)
	defer stopRetries()
	// handler context terlepas dari ctx supaya pesan in-flight masih bisa commit
	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	jobs := make([]chan kafka.Message, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if stop.Err() != nil {
					continue
				}
				c.handle(stop, work, h, m)
			}
		}(jobs[i])
	}

	var runErr error
dispatch:
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				runErr = newBrokerError("consume", c.cfg.Queue, err)
			}
			break
		}
		select {
		case jobs[m.Partition%c.cfg.Workers] <- m:
		case <-ctx.Done():
			break dispatch
		}
	}
	stopRetries()
	for _, ch := range jobs {
		close(ch)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.DrainTimeout):
		c.log.Warn().Dur("timeout", c.cfg.DrainTimeout).Msg("drain timeout, canceling in-flight handlers")
		cancelWork()
		<-done
	}
	return runErr
}

// handle runs h until it succeeds, retrying with exponential backoff. When
// stop is canceled between attempts the message stays unacknowledged and is
// redelivered to the next consumer of the partition.
func (c *Consumer) handle(stop, work context.Context, h Handler, m kafka.Message) {
	d := &Delivery{Msg: m, r: c.r, ackTimeout: c.cfg.AckTimeout}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryMin
	b.MaxInterval = c.cfg.RetryMax

	_, err := backoff.Retry(stop, func() (struct{}, error) {
		return struct{}{}, h(work, d)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn().Err(err).
				Int("partition", m.Partition).
				Int64("offset", m.Offset).
				Dur("retry_in", wait).
				Msg("handler failed, retrying")
			if c.cfg.OnRetry != nil {
				c.cfg.OnRetry(err, wait)
			}
		}),
	)
	if err != nil {
		c.log.Warn().Err(err).
			Int("partition", m.Partition).
			Int64("offset", m.Offset).
			Msg("message left unacknowledged")
	}
}
