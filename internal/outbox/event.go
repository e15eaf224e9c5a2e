package outbox

import "time"

// Event is the message written to the outbox in the same transaction as the
// aggregate that produced it.
type Event struct {
	EventID     string
	AggregateID string
	EventType   string
	Topic       string
	Key         []byte
	Payload     []byte
	Traceparent string
	Tracestate  string
}

// Record is a pending outbox entry as read back by the relay.
type Record struct {
	ID int64
	Event
	CreatedAt time.Time
}
