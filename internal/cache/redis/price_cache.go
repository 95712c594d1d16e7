package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aoikurokawa/zone/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per asset at
// "zone:price:{assetID}" holding the integer price and the observation time
// in Unix nanoseconds.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(assetID string) string {
	return keyPrefix + "price:" + assetID
}

// SetPrice stores the latest price for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price uint64, ts time.Time) error {
	fields := map[string]any{
		"price": strconv.FormatUint(price, 10),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(assetID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice returns the latest price and its observation time, or
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (uint64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	price, ts, err := parsePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	return price, ts, nil
}

// GetPrices fetches several assets in one pipeline. Assets without a usable
// price are left out of the result.
func (pc *PriceCache) GetPrices(ctx context.Context, assetIDs []string) (map[string]uint64, error) {
	result := make(map[string]uint64, len(assetIDs))
	if len(assetIDs) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, err := parsePrice(vals); err == nil {
			result[id] = price
		}
	}
	return result, nil
}

// parsePrice decodes a price hash. An empty or partial hash is ErrNotFound.
func parsePrice(vals map[string]string) (uint64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseUint(priceStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
