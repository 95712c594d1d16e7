package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest observed price per asset. The keeper settles
// from it, so writers are the trust boundary for settlement prices.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price uint64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (uint64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]uint64, error)
}

// MarketCache provides fast market lookups for the read API.
//
// Every Invalidate advances the asset's generation. Set stores the market
// only while the generation still equals gen, which the caller reads before
// loading the market, so a read that raced a write cannot refill the cache
// with the replaced record.
type MarketCache interface {
	Generation(ctx context.Context, assetID string) (uint64, error)
	Set(ctx context.Context, market Market, gen uint64) (bool, error)
	Get(ctx context.Context, assetID string) (Market, error)
	Invalidate(ctx context.Context, assetID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string `json:"id"`
	Payload []byte `json:"-"`
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
