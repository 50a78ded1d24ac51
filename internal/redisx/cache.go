package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/heirloom-checkout/internal/orders"
)

// OrderCache keeps order projections by order number. Redis errors are
// logged and treated as misses.
type OrderCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewOrderCache(rdb *redis.Client, log zerolog.Logger) *OrderCache {
	return &OrderCache{rdb: rdb, log: log}
}

func (c *OrderCache) Get(ctx context.Context, number string) (*orders.Order, bool) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrder, number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("order_number", number).Msg("order cache get")
		return nil, false
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		c.log.Warn().Err(err).Str("order_number", number).Msg("order cache decode")
		return nil, false
	}
	return &o, true
}

func (c *OrderCache) Set(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyOrder, o.OrderNumber), b, TTLOrderCache).Err(); err != nil {
		c.log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("order cache set")
	}
}

func (c *OrderCache) Invalidate(ctx context.Context, number string) {
	if err := c.rdb.Del(ctx, fmt.Sprintf(KeyOrder, number)).Err(); err != nil {
		c.log.Warn().Err(err).Str("order_number", number).Msg("order cache invalidate")
	}
}
