package orders

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/outbox"
	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

var (
	prefixOrder     = []byte("order/")
	prefixRef       = []byte("ref/")
	prefixOutbox    = []byte("outbox/")
	prefixPublished = []byte("published/")
	prefixFailed    = []byte("failed/")
)

// parkedRecord is an outbox entry the broker refused for good.
type parkedRecord struct {
	outbox.Record
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

// PebbleStore implements Store on an embedded PebbleDB. Writes are serialized
// by mu; every order is committed together with its ref index and outbox entry
// in one synced batch.
type PebbleStore struct {
	db  *pebble.DB
	mu  sync.Mutex
	seq uint64
}

var _ Store = (*PebbleStore)(nil)

func NewPebbleStore(dir string) (*PebbleStore, error) {
	return OpenPebbleStore(filepath.Clean(dir), &pebble.Options{})
}

// OpenPebbleStore opens dir with explicit pebble options.
func OpenPebbleStore(dir string, opts *pebble.Options) (*PebbleStore, error) {
	d, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	s := &PebbleStore{db: d}
	if err := s.loadSeq(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

// loadSeq resumes the outbox sequence after the highest id ever issued,
// whatever became of it.
func (s *PebbleStore) loadSeq() error {
	for _, prefix := range [][]byte{prefixOutbox, prefixPublished, prefixFailed} {
		it, err := s.db.NewIter(prefixBounds(prefix))
		if err != nil {
			return err
		}
		if it.Last() {
			if id := seqFromKey(it.Key(), prefix); id > s.seq {
				s.seq = id
			}
		}
		if err := it.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Ping(context.Context) error {
	_, closer, err := s.db.Get([]byte("ping"))
	if err == nil {
		return closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PebbleStore) CreateOrder(ctx context.Context, in OrderInput, evt outbox.Event) (Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, err := s.GetOrderByRef(ctx, in.OrderRef); err == nil {
		return o, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Order{}, false, err
	}

	o := Order{
		ID:         uuid.NewString(),
		OrderRef:   in.OrderRef,
		User:       in.User,
		Products:   in.Products,
		TotalPrice: in.TotalPrice,
		CreatedAt:  time.Now().UTC(),
	}
	orderVal, err := json.Marshal(o)
	if err != nil {
		return Order{}, false, err
	}

	evt.AggregateID = o.ID
	id := s.seq + 1
	recVal, err := json.Marshal(outbox.Record{ID: int64(id), Event: evt, CreatedAt: o.CreatedAt})
	if err != nil {
		return Order{}, false, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(orderKey(o.ID), orderVal, nil); err != nil {
		return Order{}, false, err
	}
	if err := b.Set(refKey(o.OrderRef), []byte(o.ID), nil); err != nil {
		return Order{}, false, err
	}
	if err := b.Set(seqKey(prefixOutbox, id), recVal, nil); err != nil {
		return Order{}, false, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return Order{}, false, err
	}
	s.seq = id
	return o, true, nil
}

func (s *PebbleStore) GetOrder(_ context.Context, id string) (Order, error) {
	v, closer, err := s.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	defer closer.Close()
	var o Order
	if err := json.Unmarshal(v, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *PebbleStore) GetOrderByRef(ctx context.Context, orderRef string) (Order, error) {
	v, closer, err := s.db.Get(refKey(orderRef))
	if errors.Is(err, pebble.ErrNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	id := string(v)
	_ = closer.Close()
	return s.GetOrder(ctx, id)
}

// ProcessPending reads up to limit pending outbox entries in id order, moves
// the published ones under the published/ prefix and parks the failed ones
// under failed/.
func (s *PebbleStore) ProcessPending(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.db.NewIter(prefixBounds(prefixOutbox))
	if err != nil {
		return 0, err
	}
	var recs []outbox.Record
	raw := make(map[int64][]byte)
	for ok := it.First(); ok && len(recs) < limit; ok = it.Next() {
		var rec outbox.Record
		v := append([]byte(nil), it.Value()...)
		if err := json.Unmarshal(v, &rec); err != nil {
			key := seqFromKey(it.Key(), prefixOutbox)
			_ = it.Close()
			return 0, fmt.Errorf("decode outbox entry %d: %w", key, err)
		}
		recs = append(recs, rec)
		raw[rec.ID] = v
	}
	if err := it.Close(); err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	out := publish(ctx, recs)
	if out.Processed() == 0 {
		return 0, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, id := range out.Published {
		if err := b.Delete(seqKey(prefixOutbox, uint64(id)), nil); err != nil {
			return 0, err
		}
		if err := b.Set(seqKey(prefixPublished, uint64(id)), raw[id], nil); err != nil {
			return 0, err
		}
	}
	byID := make(map[int64]outbox.Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	now := time.Now().UTC()
	for _, f := range out.Failed {
		v, err := json.Marshal(parkedRecord{Record: byID[f.ID], Reason: f.Reason, FailedAt: now})
		if err != nil {
			return 0, err
		}
		if err := b.Delete(seqKey(prefixOutbox, uint64(f.ID)), nil); err != nil {
			return 0, err
		}
		if err := b.Set(seqKey(prefixFailed, uint64(f.ID)), v, nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return out.Processed(), nil
}

// PendingOutbox reports how many events wait for the relay.
func (s *PebbleStore) PendingOutbox(context.Context) (int, error) {
	it, err := s.db.NewIter(prefixBounds(prefixOutbox))
	if err != nil {
		return 0, err
	}
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, it.Close()
}

func orderKey(id string) []byte { return append(append([]byte(nil), prefixOrder...), id...) }
func refKey(ref string) []byte  { return append(append([]byte(nil), prefixRef...), ref...) }

// seqKey encodes id big-endian so lexical order equals numeric order.
func seqKey(prefix []byte, id uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], id)
	return k
}

func seqFromKey(k, prefix []byte) uint64 {
	if len(k) != len(prefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(prefix):])
}

func prefixBounds(prefix []byte) *pebble.IterOptions {
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: upper}
}
