package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

var ErrNoProducts = errors.New("no products selected")

type Publisher interface {
	Publish(ctx context.Context, msgs ...kafkago.Message) error
}

// Delivery is a priced-order event read from the product queue.
type Delivery interface {
	Body() []byte
	Header(key string) string
	Ack(ctx context.Context) error
}

// orderRequest is the wire form expected by the order pipeline.
type orderRequest struct {
	OrderID  string    `json:"orderId"`
	Username string    `json:"username"`
	Products []Product `json:"products"`
}

// BuyResult is either the priced order or, when pricing did not come back
// in time, just the order id with Pending set.
type BuyResult struct {
	OrderID string                   `json:"orderId"`
	Pending bool                     `json:"-"`
	Order   *orders.PricedOrderEvent `json:"order,omitempty"`
}

type Service struct {
	Products   ProductStore
	Publisher  Publisher
	Redis      *redis.Client
	Dedup      *redisx.Dedup
	Log        zerolog.Logger
	OrderQueue string
	BuyTimeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan orders.PricedOrderEvent
}

// Buy publishes an order request for the given products and waits up to
// BuyTimeout for the pipeline to price it.
func (s *Service) Buy(ctx context.Context, username string, ids []string) (BuyResult, error) {
	if len(ids) == 0 {
		return BuyResult{}, ErrNoProducts
	}
	products, err := s.Products.ProductsByID(ctx, ids)
	if err != nil {
		return BuyResult{}, err
	}

	req := orderRequest{OrderID: uuid.NewString(), Username: username, Products: products}
	ch := s.wait(req.OrderID)
	defer s.forget(req.OrderID)

	msg := kafkago.Message{
		Topic: s.OrderQueue,
		Key:   orders.PartitionKey(req.OrderID),
		Value: kafkax.MustMarshal(req),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	if err := s.Publisher.Publish(ctx, msg); err != nil {
		return BuyResult{}, fmt.Errorf("publish order request: %w", err)
	}
	s.Log.Info().Str("order_ref", req.OrderID).Str("user", username).Int("products", len(products)).Msg("order requested")

	t := time.NewTimer(s.BuyTimeout)
	defer t.Stop()
	select {
	case evt := <-ch:
		return BuyResult{OrderID: req.OrderID, Order: &evt}, nil
	case <-t.C:
		return BuyResult{OrderID: req.OrderID, Pending: true}, nil
	case <-ctx.Done():
		return BuyResult{OrderID: req.OrderID, Pending: true}, nil
	}
}

func (s *Service) wait(orderID string) chan orders.PricedOrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters == nil {
		s.waiters = make(map[string]chan orders.PricedOrderEvent)
	}
	ch := make(chan orders.PricedOrderEvent, 1)
	s.waiters[orderID] = ch
	return ch
}

func (s *Service) forget(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiters, orderID)
}

func (s *Service) resolve(evt orders.PricedOrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters[evt.OrderID]; ok {
		select {
		case ch <- evt:
		default:
		}
	}
}

// HandlePricedOrder: handler consumer untuk queue products.
// Hasil disimpan di Redis supaya buy yang timeout bisa dicek lagi lewat
// GET /products/orders/{orderId}. event_id baru ditandai setelah hasil
// tersimpan; redelivery sebelum itu cukup menulis ulang hasil yang sama.
func (s *Service) HandlePricedOrder(ctx context.Context, d Delivery) error {
	eventID := d.Header(kafkax.HeaderEventID)
	if eventID != "" {
		seen, err := s.Dedup.Seen(ctx, eventID)
		if err != nil {
			return err
		}
		if seen {
			s.Log.Debug().Str("event_id", eventID).Msg("duplicate event, skipping")
			return d.Ack(ctx)
		}
	}

	var evt orders.PricedOrderEvent
	if err := json.Unmarshal(d.Body(), &evt); err != nil || evt.OrderID == "" {
		// event rusak tidak akan pernah bisa diproses
		s.Log.Warn().Err(err).Str("event_id", eventID).Msg("unreadable priced order event dropped")
		return d.Ack(ctx)
	}

	key := fmt.Sprintf(redisx.KeyOrderResult, evt.OrderID)
	if err := s.Redis.Set(ctx, key, d.Body(), redisx.TTLOrderResult).Err(); err != nil {
		return err
	}
	if eventID != "" {
		if err := s.Dedup.Mark(ctx, eventID, evt.OrderID); err != nil {
			s.Log.Warn().Err(err).Str("event_id", eventID).Msg("dedup mark failed")
		}
	}
	s.resolve(evt)
	s.Log.Info().Str("order_ref", evt.OrderID).Str("total_price", evt.TotalPrice.String()).Msg("order priced")
	return d.Ack(ctx)
}

// Consume adapts HandlePricedOrder to the kafka consumer.
func (s *Service) Consume(ctx context.Context, d *kafkax.Delivery) error {
	return s.HandlePricedOrder(ctx, d)
}

// Result returns the priced order for orderID once the pipeline produced it.
func (s *Service) Result(ctx context.Context, orderID string) (*orders.PricedOrderEvent, error) {
	b, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderResult, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var evt orders.PricedOrderEvent
	if err := json.Unmarshal(b, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
