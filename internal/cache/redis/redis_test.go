package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoikurokawa/zone/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "zone:price:BTC", priceKey("BTC"))
	assert.Equal(t, "zone:market:BTC", marketKey("BTC"))
	assert.Equal(t, "zone:lock:zone:keeper", lockKey("zone:keeper"))
	assert.Equal(t, "zone:ratelimit:1.2.3.4", rateLimitKey("1.2.3.4"))
}

func TestParsePrice(t *testing.T) {
	ts := time.Unix(1_700_000_000, 500).UTC()

	price, got, err := parsePrice(map[string]string{"price": "18446744073709551615", "ts": "1700000000000000500"})
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), price)
	assert.Equal(t, ts, got)

	_, _, err = parsePrice(map[string]string{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parsePrice(map[string]string{"price": "1"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parsePrice(map[string]string{"price": "-1", "ts": "0"})
	require.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern(domain.EventsChannel))
	assert.True(t, hasPattern("zone:*"))
	assert.True(t, hasPattern("zone:ev?nts"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte("xyz"))
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

// TestRedis_Live exercises the adapters against a real server when
// ZONE_TEST_REDIS_ADDR is set.
func TestRedis_Live(t *testing.T) {
	addr := os.Getenv("ZONE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ZONE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Underlying().FlushDB(ctx).Err())

	prices := NewPriceCache(c)
	now := time.Now().UTC()
	require.NoError(t, prices.SetPrice(ctx, "BTC", 120_000, now))
	p, ts, err := prices.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(120_000), p)
	assert.Equal(t, now.UnixNano(), ts.UnixNano())
	all, err := prices.GetPrices(ctx, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"BTC": 120_000}, all)

	markets := NewMarketCache(c, time.Minute)
	gen, err := markets.Generation(ctx, "BTC")
	require.NoError(t, err)
	assert.Zero(t, gen)
	stored, err := markets.Set(ctx, domain.Market{AssetID: "BTC", PayoutMultiplier: 200}, gen)
	require.NoError(t, err)
	assert.True(t, stored)
	m, err := markets.Get(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), m.PayoutMultiplier)
	require.NoError(t, markets.Invalidate(ctx, "BTC"))
	_, err = markets.Get(ctx, "BTC")
	require.ErrorIs(t, err, domain.ErrNotFound)
	// A fill that read the old generation is dropped.
	stored, err = markets.Set(ctx, domain.Market{AssetID: "BTC", PayoutMultiplier: 200}, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	_, err = markets.Get(ctx, "BTC")
	require.ErrorIs(t, err, domain.ErrNotFound)
	gen, err = markets.Generation(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	locks := NewLockManager(c)
	unlock, err := locks.Acquire(ctx, "test", time.Minute)
	require.NoError(t, err)
	_, err = locks.Acquire(ctx, "test", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	unlock()
	unlock()
	unlock, err = locks.Acquire(ctx, "test", time.Minute)
	require.NoError(t, err)
	unlock()

	limiter := NewRateLimiter(c)
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	bus := NewSignalBus(c, 100)
	require.NoError(t, bus.StreamAppend(ctx, "zone:test:stream", []byte(`{"n":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, "zone:test:stream", []byte(`{"n":2}`)))
	msgs, err := bus.StreamRead(ctx, "zone:test:stream", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"n":2}`, string(msgs[1].Payload))
	msgs, err = bus.StreamRead(ctx, "zone:test:stream", msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
