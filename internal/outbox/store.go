package outbox

import "context"

// Failure is a record the broker refused for good. It is parked with its
// reason instead of being retried.
type Failure struct {
	ID     int64
	Reason string
}

// Outcome is what a PublishFunc did with a batch.
type Outcome struct {
	Published []int64
	Failed    []Failure
}

// Processed counts the records that leave the pending set.
func (o Outcome) Processed() int { return len(o.Published) + len(o.Failed) }

// PublishFunc publishes recs in order. It stops at the first retryable
// failure so ordering per aggregate is kept; records the broker refused for
// good are reported as Failed and skipped.
type PublishFunc func(ctx context.Context, recs []Record) Outcome

// Store is the outbox side of a persistence backend. ProcessPending hands up
// to limit pending records to publish, then marks the published ones as
// published and parks the failed ones, exclusive of any other relay working
// the same store. It returns how many records left the pending set.
type Store interface {
	ProcessPending(ctx context.Context, limit int, publish PublishFunc) (int, error)
}
