package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres-backed Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

// CreateOrder: idempotent via order_ref.
// - jika order_ref sudah ada -> return order lama (created=false), outbox tidak ditulis lagi.
func (r *Repo) CreateOrder(ctx context.Context, in OrderInput, evt outbox.Event) (Order, bool, error) {
	if o, err := r.GetOrderByRef(ctx, in.OrderRef); err == nil {
		return o, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Order{}, false, err
	}

	products, err := json.Marshal(in.Products)
	if err != nil {
		return Order{}, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o := Order{
		ID:         uuid.NewString(),
		OrderRef:   in.OrderRef,
		User:       in.User,
		Products:   in.Products,
		TotalPrice: in.TotalPrice,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, order_ref, user_name, products, total_price)
		VALUES ($1, $2, $3, $4::jsonb, $5::numeric)
		ON CONFLICT (order_ref) DO NOTHING
		RETURNING created_at
	`, o.ID, o.OrderRef, o.User, string(products), o.TotalPrice.String()).Scan(&o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// redelivery paralel menang duluan
		_ = tx.Rollback(ctx)
		existing, err := r.GetOrderByRef(ctx, in.OrderRef)
		return existing, false, err
	}
	if err != nil {
		return Order{}, false, classify(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox_events(event_id, aggregate_id, event_type, topic, msg_key, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.EventID, o.ID, evt.EventType, evt.Topic, evt.Key, evt.Payload, evt.Traceparent, evt.Tracestate); err != nil {
		return Order{}, false, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

// classify wraps data exceptions (class 22) and integrity violations
// (class 23) except unique_violation with ErrUnprocessable. Everything else,
// connection and timeout errors included, stays retryable.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return err
	}
	switch class := pgErr.Code[:2]; {
	case class == "22", class == "23" && pgErr.Code != "23505":
		return fmt.Errorf("%w: %w", ErrUnprocessable, err)
	}
	return err
}

const selectOrder = `SELECT id, order_ref, user_name, products::text, total_price::text, created_at FROM orders`

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, selectOrder+` WHERE id=$1`, id))
}

func (r *Repo) GetOrderByRef(ctx context.Context, orderRef string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, selectOrder+` WHERE order_ref=$1`, orderRef))
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o        Order
		products string
		total    string
	)
	if err := row.Scan(&o.ID, &o.OrderRef, &o.User, &products, &total, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if err := json.Unmarshal([]byte(products), &o.Products); err != nil {
		return Order{}, err
	}
	p, err := NewPrice(total)
	if err != nil {
		return Order{}, err
	}
	o.TotalPrice = p
	return o, nil
}

// ProcessPending locks a batch of unpublished outbox rows (SKIP LOCKED, so
// several relays can share the table), publishes them and marks the
// delivered ones in the same transaction.
func (r *Repo) ProcessPending(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_id, event_type, topic, msg_key, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL AND failed_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, err
	}
	var recs []outbox.Record
	for rows.Next() {
		var rc outbox.Record
		if err := rows.Scan(&rc.ID, &rc.EventID, &rc.AggregateID, &rc.EventType, &rc.Topic, &rc.Key,
			&rc.Payload, &rc.Traceparent, &rc.Tracestate, &rc.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		recs = append(recs, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, tx.Commit(ctx)
	}

	out := publish(ctx, recs)
	if len(out.Published) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)
		`, out.Published); err != nil {
			return 0, err
		}
	}
	for _, f := range out.Failed {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET failed_at = now(), last_error = $2 WHERE id = $1
		`, f.ID, f.Reason); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return out.Processed(), nil
}

func (r *Repo) Ping(ctx context.Context) error { return r.DB.Ping(ctx) }

func (r *Repo) Close() error {
	r.DB.Close()
	return nil
}

// PendingOutbox reports how many events wait for the relay.
func (r *Repo) PendingOutbox(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL AND failed_at IS NULL
	`).Scan(&n)
	return n, err
}
