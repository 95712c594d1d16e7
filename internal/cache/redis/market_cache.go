package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aoikurokawa/zone/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

//go:embed scripts/market_set.lua
var marketSetLua string

// MarketCache implements domain.MarketCache as JSON strings at
// "zone:market:{assetID}" with a generation counter at
// "zone:market:{assetID}:gen". Entries expire after ttl; the engine
// invalidates a market whenever StartMarket changes it.
type MarketCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	marketSet *redis.Script
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{
		rdb:       c.Underlying(),
		ttl:       ttl,
		marketSet: redis.NewScript(marketSetLua),
	}
}

func marketKey(assetID string) string    { return keyPrefix + "market:" + assetID }
func marketGenKey(assetID string) string { return marketKey(assetID) + ":gen" }

// Generation returns the invalidation count of assetID.
func (mc *MarketCache) Generation(ctx context.Context, assetID string) (uint64, error) {
	gen, err := mc.rdb.Get(ctx, marketGenKey(assetID)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: market generation %s: %w", assetID, err)
	}
	return gen, nil
}

// Set stores market for ttl if the generation is still gen.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market, gen uint64) (bool, error) {
	data, err := json.Marshal(market)
	if err != nil {
		return false, fmt.Errorf("redis: marshal market %s: %w", market.AssetID, err)
	}
	stored, err := mc.marketSet.Run(
		ctx,
		mc.rdb,
		[]string{marketKey(market.AssetID), marketGenKey(market.AssetID)},
		data,
		strconv.FormatUint(gen, 10),
		mc.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: set market %s: %w", market.AssetID, err)
	}
	return stored == 1, nil
}

// Get returns a cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, assetID string) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", assetID, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", assetID, err)
	}
	return market, nil
}

// Invalidate drops a cached market and advances its generation.
func (mc *MarketCache) Invalidate(ctx context.Context, assetID string) error {
	_, err := mc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, marketGenKey(assetID))
		pipe.Del(ctx, marketKey(assetID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", assetID, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
