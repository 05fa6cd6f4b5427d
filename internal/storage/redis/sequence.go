// Package redis keeps order number sequences in Redis.
package redis

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-orders/internal/domain/order"
)

var _ order.Sequence = (*OrderNumberCounter)(nil)

// OrderNumberCounter hands out order number sequence values with INCR, so
// every API replica draws from the same counter.
type OrderNumberCounter struct {
	client *redis.Client
	prefix string
}

// NewOrderNumberCounter creates a counter whose keys start with prefix.
func NewOrderNumberCounter(client *redis.Client, prefix string) *OrderNumberCounter {
	return &OrderNumberCounter{client: client, prefix: prefix}
}

// Next increments and returns the counter for key. The first value is 1.
func (c *OrderNumberCounter) Next(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, c.prefix+key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "incr %q", key)
	}
	return n, nil
}

// Ping checks the connection for readiness probes.
func (c *OrderNumberCounter) Ping(ctx context.Context) error {
	return errors.Wrap(c.client.Ping(ctx).Err(), "redis ping")
}
