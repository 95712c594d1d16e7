package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoikurokawa/zone/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	pool  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func TestAtomically_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	l := New(map[common.Address]uint64{alice: 100})

	err := l.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.Transfer(ctx, alice, bob, 40)
	})
	require.NoError(t, err)

	a, _ := l.BalanceOf(ctx, alice)
	b, _ := l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(60), a)
	assert.Equal(t, uint64(40), b)
	assert.Equal(t, uint64(100), l.TotalSupply())
}

func TestAtomically_DiscardsOnError(t *testing.T) {
	ctx := context.Background()
	l := New(map[common.Address]uint64{alice: 100})
	boom := errors.New("boom")

	err := l.Atomically(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.CreateVault(ctx, domain.Vault{Address: pool, Authority: alice}))
		require.NoError(t, tx.Transfer(ctx, alice, pool, 100))
		require.NoError(t, tx.CreateMarket(ctx, domain.Market{AssetID: "BTC"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = l.GetVault(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = l.GetMarket(ctx, "BTC")
	require.ErrorIs(t, err, domain.ErrNotFound)
	a, _ := l.BalanceOf(ctx, alice)
	assert.Equal(t, uint64(100), a)
}

func TestTx_ReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	l := New(map[common.Address]uint64{alice: 10})

	err := l.Atomically(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.Transfer(ctx, alice, bob, 4))
		b, err := tx.Balance(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), b)

		require.NoError(t, tx.CreateMarket(ctx, domain.Market{AssetID: "ETH", PayoutMultiplier: 150}))
		m, err := tx.Market(ctx, "ETH")
		require.NoError(t, err)
		assert.Equal(t, uint64(150), m.PayoutMultiplier)
		return nil
	})
	require.NoError(t, err)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := New(map[common.Address]uint64{alice: 5})

	err := l.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.Transfer(ctx, alice, bob, 6)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, uint64(5), l.TotalSupply())
}

func TestCreate_Collisions(t *testing.T) {
	ctx := context.Background()
	l := New(nil)

	require.NoError(t, l.Atomically(ctx, func(tx domain.LedgerTx) error {
		if err := tx.CreateVault(ctx, domain.Vault{Address: pool}); err != nil {
			return err
		}
		if err := tx.CreateMarket(ctx, domain.Market{AssetID: "BTC", Address: pool}); err != nil {
			return err
		}
		return tx.CreatePrediction(ctx, domain.Prediction{Market: pool, User: alice, AssetID: "BTC"})
	}))

	err := l.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.CreateVault(ctx, domain.Vault{Address: pool})
	})
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	err = l.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.CreateMarket(ctx, domain.Market{AssetID: "BTC"})
	})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = l.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.CreatePrediction(ctx, domain.Prediction{Market: pool, User: alice})
	})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestListDueAndSettled(t *testing.T) {
	ctx := context.Background()
	l := New(nil)
	btc := common.HexToAddress("0x0b")
	eth := common.HexToAddress("0x0e")

	require.NoError(t, l.Atomically(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.CreateMarket(ctx, domain.Market{AssetID: "BTC", Address: btc, Start: 10, End: 100}))
		require.NoError(t, tx.CreateMarket(ctx, domain.Market{AssetID: "ETH", Address: eth, Start: 10, End: 500}))
		require.NoError(t, tx.CreatePrediction(ctx, domain.Prediction{Market: btc, User: alice, AssetID: "BTC", CreatedAt: 20}))
		require.NoError(t, tx.CreatePrediction(ctx, domain.Prediction{Market: btc, User: bob, AssetID: "BTC", CreatedAt: 30, Settled: true, SettledAt: 150}))
		require.NoError(t, tx.CreatePrediction(ctx, domain.Prediction{Market: eth, User: alice, AssetID: "ETH", CreatedAt: 40}))
		return nil
	}))

	due, err := l.ListDue(ctx, 200, nil, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, alice, due[0].User)
	assert.Equal(t, "BTC", due[0].AssetID)

	due, err = l.ListDue(ctx, 500, nil, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	cur := domain.CursorOf(due[0])
	rest, err := l.ListDue(ctx, 500, &cur, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "ETH", rest[0].AssetID)

	cur = domain.CursorOf(rest[0])
	rest, err = l.ListDue(ctx, 500, &cur, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)

	settled, err := l.ListSettled(ctx, 100, 200)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, bob, settled[0].User)

	list, err := l.ListPredictions(ctx, "BTC", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, bob, list[0].User)
}

func TestSeed_DoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	l := New(map[common.Address]uint64{alice: 7})
	require.NoError(t, l.Seed(ctx, map[common.Address]uint64{alice: 1000, bob: 3}))

	a, _ := l.BalanceOf(ctx, alice)
	b, _ := l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(7), a)
	assert.Equal(t, uint64(3), b)
}

func TestAtomically_ConcurrentTransfersConserve(t *testing.T) {
	ctx := context.Background()
	l := New(map[common.Address]uint64{alice: 1_000, bob: 1_000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.Atomically(ctx, func(tx domain.LedgerTx) error { return tx.Transfer(ctx, alice, bob, 7) })
		}()
		go func() {
			defer wg.Done()
			_ = l.Atomically(ctx, func(tx domain.LedgerTx) error { return tx.Transfer(ctx, bob, alice, 5) })
		}()
	}
	wg.Wait()

	a, _ := l.BalanceOf(ctx, alice)
	b, _ := l.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(2_000), a+b)
	assert.Equal(t, uint64(1_000-50*7+50*5), a)
}

func TestAuditStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "a", map[string]any{"n": 1}))
	require.NoError(t, s.Log(ctx, "b", nil))
	require.NoError(t, s.Log(ctx, "c", nil))

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Event)
	assert.Equal(t, int64(1), all[2].ID)

	page, err := s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Event)
}
