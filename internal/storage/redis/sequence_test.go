package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/order"
)

func setupTestRedis(t *testing.T) (*OrderNumberCounter, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewOrderNumberCounter(client, "orders:"), mr
}

func TestOrderNumberCounter_Next(t *testing.T) {
	counter, mr := setupTestRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := counter.Next(ctx, "order-number:2026")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := counter.Next(ctx, "order-number:2027")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := mr.Get("orders:order-number:2026")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestOrderNumberCounter_ServerDown(t *testing.T) {
	counter, mr := setupTestRedis(t)
	mr.Close()

	_, err := counter.Next(context.Background(), "order-number:2026")
	assert.Error(t, err)
	assert.Error(t, counter.Ping(context.Background()))
}

func TestOrderNumberCounter_WithGenerator(t *testing.T) {
	counter, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("orders:order-number:2026", "41"))

	gen := order.NewNumberGenerator("{YYYY}-{SEQ}", counter)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := gen.Generate(context.Background(), "id-1", at)
	require.NoError(t, err)
	assert.Equal(t, "2026-42", got)
}
