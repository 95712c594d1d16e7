package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aoikurokawa/zone/internal/domain"
)

const keeperLockKey = "zone:keeper"

// KeeperConfig controls the settlement sweep.
type KeeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxPriceAge time.Duration
	LockTTL     time.Duration
}

// Keeper settles predictions whose market has ended, using the latest cached
// price of the asset when that price was observed at or after the market's
// end. Settlement is permissionless, so the keeper signs as
// its own address and holds no special rights.
type Keeper struct {
	engine   *Engine
	ledger   domain.LedgerReader
	prices   domain.PriceCache
	locks    domain.LockManager
	identity common.Address
	cfg      KeeperConfig
	recorder SweepRecorder
	logger   *slog.Logger
}

// SweepRecorder receives the result of every keeper sweep.
type SweepRecorder interface {
	KeeperSweep(settled int, err error)
}

// NewKeeper creates a Keeper. locks may be nil for a single-instance
// deployment.
func NewKeeper(
	engine *Engine,
	ledger domain.LedgerReader,
	prices domain.PriceCache,
	locks domain.LockManager,
	identity common.Address,
	cfg KeeperConfig,
	logger *slog.Logger,
) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Keeper{
		engine:   engine,
		ledger:   ledger,
		prices:   prices,
		locks:    locks,
		identity: identity,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// WithRecorder reports sweep results to r.
func (k *Keeper) WithRecorder(r SweepRecorder) *Keeper {
	k.recorder = r
	return k
}

// Run sweeps due predictions every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper: started",
		slog.String("identity", k.identity.Hex()),
		slog.Duration("interval", k.cfg.Interval),
	)
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := k.SettleDue(ctx)
			if k.recorder != nil {
				k.recorder.KeeperSweep(n, err)
			}
			if err != nil {
				k.logger.ErrorContext(ctx, "keeper: sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				k.logger.InfoContext(ctx, "keeper: sweep complete", slog.Int("settled", n))
			}
		}
	}
}

// SettleDue runs one sweep and returns how many predictions it settled. The
// sweep walks the whole due set in pages of BatchSize, so predictions that
// cannot settle yet do not hide later ones. When another instance holds the
// keeper lock the sweep is skipped.
func (k *Keeper) SettleDue(ctx context.Context) (int, error) {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, keeperLockKey, k.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			k.logger.DebugContext(ctx, "keeper: lock held elsewhere, skipping sweep")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("keeper: acquire lock: %w", err)
		}
		defer unlock()
	}

	now := k.engine.Now()
	byAsset := make(map[string]sweepPrice)
	settled := 0
	var after *domain.DueCursor
	for {
		due, err := k.ledger.ListDue(ctx, now, after, k.cfg.BatchSize)
		if err != nil {
			return settled, fmt.Errorf("keeper: list due: %w", err)
		}
		for _, p := range due {
			if err := ctx.Err(); err != nil {
				return settled, err
			}
			sp, seen := byAsset[p.AssetID]
			if !seen {
				sp.price, sp.ok = k.price(ctx, p.AssetID, now)
				byAsset[p.AssetID] = sp
			}
			if !sp.ok {
				continue
			}
			if k.settle(ctx, p, sp.price) {
				settled++
			}
		}
		if len(due) < k.cfg.BatchSize {
			return settled, nil
		}
		cur := domain.CursorOf(due[len(due)-1])
		after = &cur
	}
}

// sweepPrice is the settlement price of one asset for the length of a sweep.
type sweepPrice struct {
	price uint64
	ok    bool
}

func (k *Keeper) settle(ctx context.Context, p domain.Prediction, price uint64) bool {
	_, err := k.engine.Execute(ctx, k.identity, domain.SettlePrediction{
		AssetID:     p.AssetID,
		User:        p.User,
		ActualPrice: price,
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrAlreadySettled):
		// Settled by someone else between ListDue and now.
	default:
		k.logger.WarnContext(ctx, "keeper: settle failed",
			slog.String("asset_id", p.AssetID),
			slog.String("user", p.User.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return false
}

// price returns the cached price of assetID if it is usable for settling the
// asset's market: observed no earlier than the market end and no older than
// MaxPriceAge.
func (k *Keeper) price(ctx context.Context, assetID string, now int64) (uint64, bool) {
	market, err := k.ledger.GetMarket(ctx, assetID)
	if err != nil {
		k.logger.WarnContext(ctx, "keeper: market lookup failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	price, ts, err := k.prices.GetPrice(ctx, assetID)
	if err != nil {
		k.logger.DebugContext(ctx, "keeper: no price",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	if ts.Unix() < market.End {
		k.logger.DebugContext(ctx, "keeper: price predates market end",
			slog.String("asset_id", assetID),
			slog.Time("observed_at", ts),
			slog.Int64("end", market.End),
		)
		return 0, false
	}
	if k.cfg.MaxPriceAge > 0 && time.Unix(now, 0).Sub(ts) > k.cfg.MaxPriceAge {
		k.logger.WarnContext(ctx, "keeper: price too old",
			slog.String("asset_id", assetID),
			slog.Time("observed_at", ts),
			slog.String("error", domain.ErrStalePrice.Error()),
		)
		return 0, false
	}
	return price, true
}
