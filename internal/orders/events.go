package orders

import (
	"encoding/json"

	"github.com/ariefcatur/go-order-pipeline/internal/outbox"
	"github.com/google/uuid"
)

// NewPricedEvent membungkus PricedOrderEvent jadi record outbox.
// AggregateID diisi store setelah id order dibuat.
func NewPricedEvent(in OrderInput, topic string) (outbox.Event, error) {
	payload, err := json.Marshal(EventFromInput(in))
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		EventID:   uuid.NewString(),
		EventType: EventOrderPriced,
		Topic:     topic,
		Key:       PartitionKey(in.OrderRef),
		Payload:   payload,
	}, nil
}
