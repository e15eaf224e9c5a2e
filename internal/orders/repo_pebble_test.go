package orders

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ariefcatur/go-order-pipeline/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type PebbleStoreSuite struct {
	suite.Suite
	dir   string
	store *PebbleStore
}

func TestPebbleStoreSuite(t *testing.T) {
	suite.Run(t, new(PebbleStoreSuite))
}

func (s *PebbleStoreSuite) SetupTest() {
	s.dir = s.T().TempDir()
	st, err := NewPebbleStore(s.dir)
	s.Require().NoError(err)
	s.store = st
}

func (s *PebbleStoreSuite) TearDownTest() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func mustInput(t *testing.T, body string) (OrderInput, outbox.Event) {
	t.Helper()
	req, err := DecodeRequest([]byte(body), DecodeOptions{})
	require.NoError(t, err)
	in := req.Price()
	evt, err := NewPricedEvent(in, QueueProducts)
	require.NoError(t, err)
	return in, evt
}

// publishAll pretends every record reached the broker.
func publishAll(got *[]outbox.Record) outbox.PublishFunc {
	return func(_ context.Context, recs []outbox.Record) outbox.Outcome {
		var out outbox.Outcome
		for _, r := range recs {
			*got = append(*got, r)
			out.Published = append(out.Published, r.ID)
		}
		return out
	}
}

func (s *PebbleStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	in, evt := mustInput(s.T(), `{"orderId":"o1","username":"alice","products":[{"sku":"a","price":10},{"price":5}]}`)

	o, created, err := s.store.CreateOrder(ctx, in, evt)
	s.Require().NoError(err)
	s.True(created)
	s.NotEmpty(o.ID)
	s.Equal("o1", o.OrderRef)
	s.True(o.TotalPrice.Equal(PriceFromInt(15)))

	got, err := s.store.GetOrder(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(o.ID, got.ID)
	s.Equal("alice", got.User)
	s.True(got.TotalPrice.Equal(PriceFromInt(15)))

	b, err := json.Marshal(got.Products)
	s.Require().NoError(err)
	s.JSONEq(`[{"sku":"a","price":10},{"price":5}]`, string(b))

	byRef, err := s.store.GetOrderByRef(ctx, "o1")
	s.Require().NoError(err)
	s.Equal(o.ID, byRef.ID)

	_, err = s.store.GetOrder(ctx, "nope")
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.GetOrderByRef(ctx, "nope")
	s.ErrorIs(err, ErrNotFound)
}

func (s *PebbleStoreSuite) TestRedeliveryIsIdempotent() {
	ctx := context.Background()
	in, evt := mustInput(s.T(), `{"orderId":"o1","username":"alice","products":[{"price":10},{"price":5}]}`)

	first, created, err := s.store.CreateOrder(ctx, in, evt)
	s.Require().NoError(err)
	s.True(created)

	_, evt2 := mustInput(s.T(), `{"orderId":"o1","username":"alice","products":[{"price":10},{"price":5}]}`)
	second, created, err := s.store.CreateOrder(ctx, in, evt2)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, second.ID)

	n, err := s.store.PendingOutbox(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PebbleStoreSuite) TestConcurrentRedeliveryCreatesOneOrder() {
	ctx := context.Background()
	in, _ := mustInput(s.T(), `{"orderId":"dup","username":"bob","products":[{"price":1}]}`)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt, err := NewPricedEvent(in, QueueProducts)
			if !assert.NoError(s.T(), err) {
				return
			}
			o, c, err := s.store.CreateOrder(ctx, in, evt)
			if !assert.NoError(s.T(), err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[o.ID] = true
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, created)
	s.Len(ids, 1)
}

func (s *PebbleStoreSuite) TestProcessPending() {
	ctx := context.Background()
	var orderIDs []string
	for _, body := range []string{
		`{"orderId":"a","username":"u","products":[{"price":1}]}`,
		`{"orderId":"b","username":"u","products":[{"price":2}]}`,
		`{"orderId":"c","username":"u","products":[{"price":3}]}`,
	} {
		in, evt := mustInput(s.T(), body)
		o, _, err := s.store.CreateOrder(ctx, in, evt)
		s.Require().NoError(err)
		orderIDs = append(orderIDs, o.ID)
	}

	// broker menerima dua pertama saja
	var seen []outbox.Record
	n, err := s.store.ProcessPending(ctx, 10, func(_ context.Context, recs []outbox.Record) outbox.Outcome {
		seen = append(seen, recs...)
		return outbox.Outcome{Published: []int64{recs[0].ID, recs[1].ID}}
	})
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Require().Len(seen, 3)
	s.Equal(orderIDs[0], seen[0].AggregateID)
	s.Equal(EventOrderPriced, seen[0].EventType)
	s.Equal(QueueProducts, seen[0].Topic)
	s.Equal([]byte("a"), seen[0].Key)
	s.JSONEq(`{"orderId":"a","user":"u","products":[{"price":1}],"totalPrice":1}`, string(seen[0].Payload))

	var rest []outbox.Record
	n, err = s.store.ProcessPending(ctx, 10, publishAll(&rest))
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Require().Len(rest, 1)
	s.Equal(orderIDs[2], rest[0].AggregateID)

	pending, err := s.store.PendingOutbox(ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *PebbleStoreSuite) TestProcessPendingParksFailedRecords() {
	ctx := context.Background()
	for _, ref := range []string{"big", "ok"} {
		in, evt := mustInput(s.T(), `{"orderId":"`+ref+`","username":"u","products":[{"price":1}]}`)
		_, _, err := s.store.CreateOrder(ctx, in, evt)
		s.Require().NoError(err)
	}

	n, err := s.store.ProcessPending(ctx, 10, func(_ context.Context, recs []outbox.Record) outbox.Outcome {
		s.Require().Len(recs, 2)
		return outbox.Outcome{
			Failed:    []outbox.Failure{{ID: recs[0].ID, Reason: "message too large"}},
			Published: []int64{recs[1].ID},
		}
	})
	s.Require().NoError(err)
	s.Equal(2, n)

	pending, err := s.store.PendingOutbox(ctx)
	s.Require().NoError(err)
	s.Zero(pending)

	it, err := s.store.db.NewIter(prefixBounds(prefixFailed))
	s.Require().NoError(err)
	var parked []parkedRecord
	for ok := it.First(); ok; ok = it.Next() {
		var p parkedRecord
		s.Require().NoError(json.Unmarshal(it.Value(), &p))
		parked = append(parked, p)
	}
	s.Require().NoError(it.Close())
	s.Require().Len(parked, 1)
	s.Equal("message too large", parked[0].Reason)
	s.Equal([]byte("big"), parked[0].Key)

	// parked ids are never reissued
	s.Require().NoError(s.store.Close())
	st, err := NewPebbleStore(s.dir)
	s.Require().NoError(err)
	s.store = st
	s.Equal(uint64(2), s.store.seq)
}

func (s *PebbleStoreSuite) TestProcessPendingRespectsLimit() {
	ctx := context.Background()
	for _, ref := range []string{"x", "y", "z"} {
		in, evt := mustInput(s.T(), `{"orderId":"`+ref+`","username":"u","products":[]}`)
		_, _, err := s.store.CreateOrder(ctx, in, evt)
		s.Require().NoError(err)
	}

	var got []outbox.Record
	n, err := s.store.ProcessPending(ctx, 2, publishAll(&got))
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Len(got, 2)
	s.Less(got[0].ID, got[1].ID)
}

func (s *PebbleStoreSuite) TestSequenceSurvivesReopen() {
	ctx := context.Background()
	in, evt := mustInput(s.T(), `{"orderId":"r1","username":"u","products":[{"price":1}]}`)
	_, _, err := s.store.CreateOrder(ctx, in, evt)
	s.Require().NoError(err)

	var first []outbox.Record
	_, err = s.store.ProcessPending(ctx, 10, publishAll(&first))
	s.Require().NoError(err)
	s.Require().Len(first, 1)

	s.Require().NoError(s.store.Close())
	st, err := NewPebbleStore(s.dir)
	s.Require().NoError(err)
	s.store = st

	in, evt = mustInput(s.T(), `{"orderId":"r2","username":"u","products":[{"price":2}]}`)
	_, _, err = s.store.CreateOrder(ctx, in, evt)
	s.Require().NoError(err)

	var second []outbox.Record
	_, err = s.store.ProcessPending(ctx, 10, publishAll(&second))
	s.Require().NoError(err)
	s.Require().Len(second, 1)
	s.Greater(second[0].ID, first[0].ID)

	o, err := s.store.GetOrderByRef(ctx, "r1")
	s.Require().NoError(err)
	s.Equal("r1", o.OrderRef)
}
