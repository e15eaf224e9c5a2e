package orders

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-pipeline/internal/outbox"
)

// ErrUnprocessable marks an order the store refuses permanently (invalid
// data, constraint violations other than the order_ref duplicate). Retrying
// it can never succeed.
var ErrUnprocessable = errors.New("order refused by store")

// IsPermanent reports whether err can never be fixed by redelivering the
// same message.
func IsPermanent(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) || errors.Is(err, ErrUnprocessable)
}

// Store is the persistence boundary of the pipeline. CreateOrder writes the
// order and its outbox event atomically; when an order with the same OrderRef
// already exists nothing is written and the existing order is returned with
// created=false.
type Store interface {
	CreateOrder(ctx context.Context, in OrderInput, evt outbox.Event) (o Order, created bool, err error)
	GetOrder(ctx context.Context, id string) (Order, error)
	GetOrderByRef(ctx context.Context, orderRef string) (Order, error)
	outbox.Store
	PendingOutbox(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
