package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoikurokawa/zone/internal/domain"
)

var keeperAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]uint64
	at     map[string]time.Time
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: make(map[string]uint64), at: make(map[string]time.Time)}
}

func (f *fakePrices) SetPrice(_ context.Context, assetID string, price uint64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[assetID] = price
	f.at[assetID] = ts
	return nil
}

func (f *fakePrices) GetPrice(_ context.Context, assetID string) (uint64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, f.at[assetID], nil
}

func (f *fakePrices) GetPrices(_ context.Context, assetIDs []string) (map[string]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]uint64)
	for _, id := range assetIDs {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeLocks struct {
	held bool
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	return func() { l.held = false }, nil
}

func keeperHarness(t *testing.T) (*harness, *fakePrices) {
	t.Helper()
	ctx := context.Background()
	h := newHarness(t, defaultConfig())
	h.openMarket(t)
	for _, u := range []common.Address{client, other} {
		dir := domain.DirectionHigh
		if u == other {
			dir = domain.DirectionLow
		}
		_, err := h.engine.CreatePrediction(ctx, u, domain.CreatePrediction{
			User: u, AssetID: "BTC", Direction: dir, Amount: 10, ReferencePrice: 100_000,
		})
		require.NoError(t, err)
	}
	return h, newFakePrices()
}

func TestKeeper_SettlesDuePredictions(t *testing.T) {
	ctx := context.Background()
	h, prices := keeperHarness(t)
	k := NewKeeper(h.engine, h.ledger, prices, &fakeLocks{}, keeperAddr, KeeperConfig{MaxPriceAge: time.Minute}, quietLogger())

	// Market still open: nothing due.
	n, err := k.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Set(t0 + 3600)
	require.NoError(t, prices.SetPrice(ctx, "BTC", 120_000, time.Unix(t0+3600, 0)))

	n, err = k.SettleDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, uint64(1_010), h.balance(t, client))
	assert.Equal(t, uint64(990), h.balance(t, other))

	n, err = k.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeeper_SkipsMissingAndStalePrices(t *testing.T) {
	ctx := context.Background()
	h, prices := keeperHarness(t)
	k := NewKeeper(h.engine, h.ledger, prices, nil, keeperAddr, KeeperConfig{MaxPriceAge: time.Minute}, quietLogger())
	h.clock.Set(t0 + 3600)

	n, err := k.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, prices.SetPrice(ctx, "BTC", 120_000, time.Unix(t0, 0)))
	n, err = k.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	due, err := h.ledger.ListDue(ctx, h.clock.Now(), nil, 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestKeeper_IgnoresPriceObservedBeforeEnd(t *testing.T) {
	ctx := context.Background()
	h, prices := keeperHarness(t)
	k := NewKeeper(h.engine, h.ledger, prices, nil, keeperAddr, KeeperConfig{MaxPriceAge: 5 * time.Minute}, quietLogger())
	h.clock.Set(t0 + 3600)

	tests := []struct {
		name     string
		observed int64
		want     int
	}{
		{"before end", t0 + 3500, 0},
		{"one second before end", t0 + 3599, 0},
		{"at end", t0 + 3600, 2},
	}
	for _, tt := range tests {
		require.NoError(t, prices.SetPrice(ctx, "BTC", 120_000, time.Unix(tt.observed, 0)))
		n, err := k.SettleDue(ctx)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, n, tt.name)
	}

	p, err := h.ledger.GetPrediction(ctx, "BTC", client)
	require.NoError(t, err)
	assert.True(t, p.Settled)
	assert.Equal(t, uint64(120_000), p.ActualPrice)
}

func TestKeeper_SettlesPastUnpricedPredictions(t *testing.T) {
	ctx := context.Background()
	h, prices := keeperHarness(t)

	// A later ETH prediction sits behind two BTC predictions that have no price.
	h.clock.Set(t0 + 1)
	_, err := h.engine.InitializeMarket(ctx, admin, domain.InitializeMarket{Authority: admin, AssetID: "ETH", PayoutMultiplier: 200})
	require.NoError(t, err)
	_, err = h.engine.StartMarket(ctx, admin, domain.StartMarket{AssetID: "ETH", EndTime: t0 + 3600})
	require.NoError(t, err)
	_, err = h.engine.CreatePrediction(ctx, client, domain.CreatePrediction{
		User: client, AssetID: "ETH", Direction: domain.DirectionHigh, Amount: 10, ReferencePrice: 3_000,
	})
	require.NoError(t, err)

	h.clock.Set(t0 + 3600)
	require.NoError(t, prices.SetPrice(ctx, "ETH", 3_500, time.Unix(t0+3600, 0)))

	k := NewKeeper(h.engine, h.ledger, prices, nil, keeperAddr, KeeperConfig{BatchSize: 2, MaxPriceAge: time.Minute}, quietLogger())
	n, err := k.SettleDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	eth, err := h.ledger.GetPrediction(ctx, "ETH", client)
	require.NoError(t, err)
	assert.True(t, eth.Settled)
	assert.True(t, eth.Won)

	due, err := h.ledger.ListDue(ctx, h.clock.Now(), nil, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	for _, p := range due {
		assert.Equal(t, "BTC", p.AssetID)
	}
}

func TestKeeper_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	h, prices := keeperHarness(t)
	k := NewKeeper(h.engine, h.ledger, prices, &fakeLocks{held: true}, keeperAddr, KeeperConfig{}, quietLogger())
	h.clock.Set(t0 + 3600)
	require.NoError(t, prices.SetPrice(ctx, "BTC", 120_000, time.Unix(t0+3600, 0)))

	n, err := k.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeeper_RunStopsOnCancel(t *testing.T) {
	h, prices := keeperHarness(t)
	k := NewKeeper(h.engine, h.ledger, prices, nil, keeperAddr, KeeperConfig{Interval: time.Millisecond}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := k.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
