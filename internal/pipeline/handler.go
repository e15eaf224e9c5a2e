package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/metrics"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/otelx"
	"github.com/ariefcatur/go-order-pipeline/internal/outbox"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Delivery is one inbound order request as handed over by the consumer.
type Delivery interface {
	Body() []byte
	Key() []byte
	Queue() string
	Ack(ctx context.Context) error
	TraceContext(ctx context.Context) context.Context
}

type OrderStore interface {
	CreateOrder(ctx context.Context, in orders.OrderInput, evt outbox.Event) (orders.Order, bool, error)
}

// Publisher sends rejected requests to the dead-letter queue.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafkago.Message) error
}

// Deduper is the optional redis fast path in front of the store.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id, value string) error
}

type Notifier interface{ Notify() }

type Config struct {
	OutboundQueue   string
	DeadLetterQueue string // kosong = pesan rusak cukup di-log lalu di-ack
	PersistTimeout  time.Duration
	PublishTimeout  time.Duration
	Decode          orders.DecodeOptions
}

// Handler turns order requests into persisted orders plus outbox events.
// It keeps no per-message state and is safe for concurrent use.
type Handler struct {
	store   OrderStore
	dlq     Publisher
	relay   Notifier
	dedup   Deduper
	log     zerolog.Logger
	cfg     Config
	metrics *metrics.Registry
	tracer  trace.Tracer
}

// New builds a Handler. dedup may be nil.
func New(store OrderStore, dlq Publisher, relay Notifier, dedup Deduper, logger zerolog.Logger, cfg Config, m *metrics.Registry) *Handler {
	if cfg.OutboundQueue == "" {
		cfg.OutboundQueue = orders.QueueProducts
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Handler{
		store:   store,
		dlq:     dlq,
		relay:   relay,
		dedup:   dedup,
		log:     logger.With().Str("component", "pipeline").Logger(),
		cfg:     cfg,
		metrics: m,
		tracer:  otel.Tracer("order-pipeline/pipeline"),
	}
}

// Consume adapts Handle to the kafka consumer.
func (h *Handler) Consume(ctx context.Context, d *kafkax.Delivery) error { return h.Handle(ctx, d) }

// Handle processes one delivery. A nil return means the delivery was
// acknowledged; an error means it was not and must be retried.
func (h *Handler) Handle(ctx context.Context, d Delivery) error {
	ctx = d.TraceContext(ctx)
	ctx, span := h.tracer.Start(ctx, "orders.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.source.name", d.Queue()),
		))
	defer span.End()

	err := h.handle(ctx, d, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (h *Handler) handle(ctx context.Context, d Delivery, span trace.Span) error {
	st := h.track()

	req, err := orders.DecodeRequest(d.Body(), h.cfg.Decode)
	if err != nil {
		st.to(orders.StageRejected)
		return h.reject(ctx, d, err)
	}
	st.to(orders.StageDecoded)
	span.SetAttributes(attribute.String("order.ref", req.OrderID))
	log := h.log.With().Str("order_ref", req.OrderID).Logger()

	if h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, req.OrderID)
		if err != nil {
			log.Warn().Err(err).Msg("dedup lookup failed, falling back to store")
		} else if seen {
			h.metrics.Duplicates.Inc()
			log.Info().Msg("duplicate delivery, already processed")
			return d.Ack(ctx)
		}
	}

	in := req.Price()
	st.to(orders.StagePriced)

	evt, err := orders.NewPricedEvent(in, h.cfg.OutboundQueue)
	if err != nil {
		return fmt.Errorf("build event for %s: %w", in.OrderRef, err)
	}
	evt.Traceparent, evt.Tracestate = otelx.TraceContextStrings(ctx)

	pctx, cancel := context.WithTimeout(ctx, h.cfg.PersistTimeout)
	start := time.Now()
	o, created, err := h.store.CreateOrder(pctx, in, evt)
	cancel()
	h.metrics.PersistSec.Observe(time.Since(start).Seconds())
	if errors.Is(err, orders.ErrUnprocessable) {
		st.to(orders.StageRejected)
		return h.reject(ctx, d, err)
	}
	if err != nil {
		return fmt.Errorf("persist order %s: %w", in.OrderRef, err)
	}
	st.to(orders.StagePersisted)
	if created {
		h.relay.Notify()
	} else {
		h.metrics.Duplicates.Inc()
		log.Info().Str("order_id", o.ID).Msg("order already persisted, skipping")
	}

	if err := d.Ack(ctx); err != nil {
		return err
	}
	st.to(orders.StageAcknowledged)

	if h.dedup != nil {
		if err := h.dedup.Mark(ctx, in.OrderRef, o.ID); err != nil {
			log.Warn().Err(err).Msg("dedup mark failed")
		}
	}
	log.Info().
		Str("order_id", o.ID).
		Str("user", o.User).
		Str("total_price", o.TotalPrice.String()).
		Bool("created", created).
		Msg("order processed")
	return nil
}

// reject routes a request that can never be processed, malformed or refused
// by the store, to the dead-letter queue, then acknowledges it so it is not
// redelivered.
func (h *Handler) reject(ctx context.Context, d Delivery, cause error) error {
	log := h.log.With().Err(cause).Str("queue", d.Queue()).Logger()

	if !orders.IsPermanent(cause) {
		return cause
	}

	if h.cfg.DeadLetterQueue == "" {
		log.Warn().Bytes("body", d.Body()).Msg("unprocessable order request dropped")
	} else {
		msg := kafkago.Message{
			Topic: h.cfg.DeadLetterQueue,
			Key:   d.Key(),
			Value: d.Body(),
			Headers: []kafkago.Header{
				{Key: kafkax.HeaderError, Value: []byte(cause.Error())},
				{Key: kafkax.HeaderSourceQueue, Value: []byte(d.Queue())},
			},
		}
		msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)

		pctx, cancel := context.WithTimeout(ctx, h.cfg.PublishTimeout)
		err := h.dlq.Publish(pctx, msg)
		cancel()
		if err != nil {
			return fmt.Errorf("dead-letter: %w", err)
		}
		h.metrics.DeadLettered.Inc()
		log.Warn().Str("dead_letter_queue", h.cfg.DeadLetterQueue).Msg("unprocessable order request dead-lettered")
	}
	return d.Ack(ctx)
}

// stageTracker follows one message through the stage machine and counts
// every stage it reaches.
type stageTracker struct {
	h   *Handler
	cur orders.Stage
}

func (h *Handler) track() *stageTracker {
	h.metrics.Stages.WithLabelValues(string(orders.StageReceived)).Inc()
	return &stageTracker{h: h, cur: orders.StageReceived}
}

func (s *stageTracker) to(next orders.Stage) {
	if !orders.CanTransition(s.cur, next) {
		s.h.log.Error().Str("from", string(s.cur)).Str("to", string(next)).Msg("invalid stage transition")
		return
	}
	s.cur = next
	s.h.metrics.Stages.WithLabelValues(string(next)).Inc()
}
