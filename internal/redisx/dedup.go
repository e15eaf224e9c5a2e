package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers ids a service already handled. It is a fast path only:
// entries expire after TTLDedup and a lost entry just means the slower,
// authoritative check runs.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.service, id) }

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(id))
}

// Mark records id as handled; value is informational (e.g. the order id).
func (d *Dedup) Mark(ctx context.Context, id, value string) error {
	return d.rdb.Set(ctx, d.key(id), value, TTLDedup).Err()
}

func (d *Dedup) Ping(ctx context.Context) error { return d.rdb.Ping(ctx).Err() }
