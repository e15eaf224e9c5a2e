package outbox

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/metrics"
	"github.com/ariefcatur/go-order-pipeline/internal/otelx"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Publisher is the broker side of the relay.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafkago.Message) error
}

type RelayConfig struct {
	PollEvery      time.Duration
	BatchSize      int
	PublishTimeout time.Duration
}

// Relay moves committed outbox records to the broker. A record is marked
// published only after the broker acknowledged it, so every committed event
// is delivered at least once.
type Relay struct {
	store   Store
	pub     Publisher
	log     zerolog.Logger
	cfg     RelayConfig
	metrics *metrics.Registry
	tracer  trace.Tracer
	nudge   chan struct{}
}

func NewRelay(store Store, pub Publisher, logger zerolog.Logger, cfg RelayConfig, m *metrics.Registry) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Relay{
		store:   store,
		pub:     pub,
		log:     logger.With().Str("component", "outbox-relay").Logger(),
		cfg:     cfg,
		metrics: m,
		tracer:  otel.Tracer("order-pipeline/outbox"),
		nudge:   make(chan struct{}, 1),
	}
}

// Notify asks the relay to poll now instead of waiting for the next tick.
func (r *Relay) Notify() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run polls until ctx is canceled. Pending records left at that point are
// picked up by Flush or by the next process.
func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.PollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-r.nudge:
		}
		r.drain(ctx)
	}
}

// Flush publishes everything pending, batch by batch, until the outbox is
// empty, a batch fails, or ctx expires.
func (r *Relay) Flush(ctx context.Context) error {
	for {
		n, err := r.processBatch(ctx)
		if err != nil || n == 0 {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.processBatch(ctx)
		if err != nil {
			r.log.Error().Err(err).Msg("outbox batch failed")
			return
		}
		if n < r.cfg.BatchSize {
			return
		}
	}
}

// processBatch returns how many records were settled, published or parked.
// A record the broker refused for good is parked so the ones behind it keep
// moving; any other failure stops the batch and is reported as an error.
func (r *Relay) processBatch(ctx context.Context) (int, error) {
	var pubErr error
	total := 0
	n, err := r.store.ProcessPending(ctx, r.cfg.BatchSize, func(ctx context.Context, recs []Record) Outcome {
		total = len(recs)
		var out Outcome
		for _, rec := range recs {
			err := r.publish(ctx, rec)
			if err == nil {
				out.Published = append(out.Published, rec.ID)
				continue
			}
			if kafkax.IsRecordRejected(err) {
				r.metrics.OutboxRejected.Inc()
				r.log.Error().Err(err).
					Int64("outbox_id", rec.ID).
					Str("event_id", rec.EventID).
					Str("queue", rec.Topic).
					Msg("broker rejected event, parking it")
				out.Failed = append(out.Failed, Failure{ID: rec.ID, Reason: err.Error()})
				continue
			}
			r.log.Warn().Err(err).
				Int64("outbox_id", rec.ID).
				Str("event_id", rec.EventID).
				Str("queue", rec.Topic).
				Msg("publish failed, will retry")
			pubErr = err
			break
		}
		return out
	})
	if err != nil {
		return n, err
	}
	if n > 0 {
		r.log.Debug().Int("settled", n).Int("batch", total).Msg("outbox batch processed")
	}
	return n, pubErr
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	msgCtx, span := r.tracer.Start(msgCtx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", rec.Topic),
			attribute.String("messaging.message.id", rec.EventID),
		))
	defer span.End()

	msg := kafkago.Message{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Payload,
		Headers: []kafkago.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(rec.EventID)},
			{Key: kafkax.HeaderEventType, Value: []byte(rec.EventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)

	pctx, cancel := context.WithTimeout(msgCtx, r.cfg.PublishTimeout)
	defer cancel()
	if err := r.pub.Publish(pctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.OutboxFailed.Inc()
		return err
	}
	r.metrics.OutboxPublished.Inc()
	r.metrics.Stages.WithLabelValues(metrics.StagePublished).Inc()
	return nil
}
