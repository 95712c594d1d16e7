package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/aoikurokawa/zone/internal/address"
	"github.com/aoikurokawa/zone/internal/domain"
	"github.com/aoikurokawa/zone/internal/settlement"
)

// EngineConfig holds the lifecycle policies.
type EngineConfig struct {
	// AllowRestart lets StartMarket overwrite start/end of a started market.
	// When false a second StartMarket fails with ErrAlreadyStarted.
	AllowRestart bool
	// RestrictMarketCreation requires market authorities to be the vault
	// authority.
	RestrictMarketCreation bool
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder receives operation outcomes, typically for metrics.
type Recorder interface {
	Operation(kind domain.OpKind, err error)
	Settlement(assetID string, won bool, payout uint64)
}

// Engine executes the five escrow operations. Each operation checks its
// guards and applies its effects inside one ledger transaction, so a failure
// leaves every balance and record unchanged.
//
// Events, audit entries, cache invalidation and notifications happen after
// commit and never fail the operation.
type Engine struct {
	ledger   domain.Ledger
	addrs    address.Deriver
	clock    domain.Clock
	cfg      EngineConfig
	bus      domain.SignalBus
	audit    domain.AuditStore
	cache    domain.MarketCache
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
}

// NewEngine creates an Engine. Optional collaborators are attached with the
// With* methods.
func NewEngine(
	ledger domain.Ledger,
	addrs address.Deriver,
	clock domain.Clock,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger: ledger,
		addrs:  addrs,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// WithSignalBus publishes operation events on bus.
func (e *Engine) WithSignalBus(bus domain.SignalBus) *Engine {
	e.bus = bus
	return e
}

// WithAuditStore records every committed operation in audit.
func (e *Engine) WithAuditStore(audit domain.AuditStore) *Engine {
	e.audit = audit
	return e
}

// WithMarketCache serves market reads through cache and invalidates it on
// lifecycle changes.
func (e *Engine) WithMarketCache(cache domain.MarketCache) *Engine {
	e.cache = cache
	return e
}

// WithNotifier sends operator alerts for market starts and settlements.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

// WithRecorder reports every operation run through Execute to r.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// Execute dispatches op on behalf of caller.
func (e *Engine) Execute(ctx context.Context, caller common.Address, op domain.Operation) (domain.Receipt, error) {
	var (
		rcpt domain.Receipt
		err  error
	)
	switch o := op.(type) {
	case domain.InitializeVault:
		rcpt, err = e.InitializeVault(ctx, caller, o)
	case domain.InitializeMarket:
		rcpt, err = e.InitializeMarket(ctx, caller, o)
	case domain.StartMarket:
		rcpt, err = e.StartMarket(ctx, caller, o)
	case domain.CreatePrediction:
		rcpt, err = e.CreatePrediction(ctx, caller, o)
	case domain.SettlePrediction:
		rcpt, err = e.SettlePrediction(ctx, caller, o)
	default:
		return domain.Receipt{}, fmt.Errorf("engine: unsupported operation %T", op)
	}
	if e.recorder != nil {
		e.recorder.Operation(op.Kind(), err)
	}
	return rcpt, err
}

// InitializeVault creates the escrow pool and moves op.Amount from the
// authority's wallet into it.
func (e *Engine) InitializeVault(ctx context.Context, caller common.Address, op domain.InitializeVault) (domain.Receipt, error) {
	if caller != op.Authority {
		return domain.Receipt{}, fmt.Errorf("engine: initialize vault: %w", domain.ErrUnauthorized)
	}
	if err := domain.ValidateAmount(op.Amount); err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: initialize vault: %w", err)
	}

	now := e.clock.Now()
	vault := domain.Vault{
		Address:   e.addrs.Vault(),
		Authority: op.Authority,
		CreatedAt: now,
	}

	err := e.ledger.Atomically(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.Vault(ctx); err == nil {
			return domain.ErrAlreadyInitialized
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := tx.CreateVault(ctx, vault); err != nil {
			return err
		}
		return tx.Transfer(ctx, op.Authority, vault.Address, op.Amount)
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: initialize vault: %w", err)
	}

	rcpt := e.receipt(op, caller, now)
	rcpt.Vault = &vault
	e.committed(ctx, rcpt, domain.Event{
		Type: domain.EventVaultInitialized,
		Data: map[string]any{
			"vault":     vault.Address.Hex(),
			"authority": vault.Authority.Hex(),
			"amount":    op.Amount,
		},
	})
	return rcpt, nil
}

// InitializeMarket registers a market keyed by op.AssetID.
func (e *Engine) InitializeMarket(ctx context.Context, caller common.Address, op domain.InitializeMarket) (domain.Receipt, error) {
	if caller != op.Authority {
		return domain.Receipt{}, fmt.Errorf("engine: initialize market: %w", domain.ErrUnauthorized)
	}
	if err := domain.ValidateAssetID(op.AssetID); err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: initialize market: %w", err)
	}
	if op.PayoutMultiplier == 0 {
		return domain.Receipt{}, fmt.Errorf("engine: initialize market: %w", domain.ErrInvalidMultiplier)
	}

	now := e.clock.Now()
	market := domain.Market{
		AssetID:          op.AssetID,
		Address:          e.addrs.Market(op.AssetID),
		Authority:        op.Authority,
		PayoutMultiplier: op.PayoutMultiplier,
		CreatedAt:        now,
	}

	err := e.ledger.Atomically(ctx, func(tx domain.LedgerTx) error {
		if e.cfg.RestrictMarketCreation {
			vault, err := tx.Vault(ctx)
			if err != nil {
				return fmt.Errorf("vault: %w", err)
			}
			if vault.Authority != op.Authority {
				return domain.ErrUnauthorized
			}
		}
		if _, err := tx.Market(ctx, op.AssetID); err == nil {
			return domain.ErrAlreadyExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.CreateMarket(ctx, market)
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: initialize market %q: %w", op.AssetID, err)
	}

	rcpt := e.receipt(op, caller, now)
	rcpt.Market = &market
	e.committed(ctx, rcpt, domain.Event{
		Type:    domain.EventMarketInitialized,
		AssetID: market.AssetID,
		Data: map[string]any{
			"market":            market.Address.Hex(),
			"authority":         market.Authority.Hex(),
			"payout_multiplier": market.PayoutMultiplier,
		},
	})
	return rcpt, nil
}

// StartMarket opens the market from now until op.EndTime.
func (e *Engine) StartMarket(ctx context.Context, caller common.Address, op domain.StartMarket) (domain.Receipt, error) {
	now := e.clock.Now()
	var market domain.Market

	err := e.ledger.Atomically(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.Market(ctx, op.AssetID)
		if err != nil {
			return err
		}
		if m.Authority != caller {
			return domain.ErrUnauthorized
		}
		if m.Started() && !e.cfg.AllowRestart {
			return domain.ErrAlreadyStarted
		}
		if op.EndTime <= now {
			return domain.ErrInvalidEndTime
		}
		m.Start = now
		m.End = op.EndTime
		market = m
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: start market %q: %w", op.AssetID, err)
	}

	e.invalidate(ctx, market.AssetID)

	rcpt := e.receipt(op, caller, now)
	rcpt.Market = &market
	e.committed(ctx, rcpt, domain.Event{
		Type:    domain.EventMarketStarted,
		AssetID: market.AssetID,
		Data: map[string]any{
			"start": market.Start,
			"end":   market.End,
		},
	})
	e.notify(ctx, string(domain.EventMarketStarted),
		fmt.Sprintf("Market %s started", market.AssetID),
		fmt.Sprintf("Predictions open until %d (multiplier %d)", market.End, market.PayoutMultiplier))
	return rcpt, nil
}

// CreatePrediction escrows op.Amount from the user into the vault and records
// the prediction.
func (e *Engine) CreatePrediction(ctx context.Context, caller common.Address, op domain.CreatePrediction) (domain.Receipt, error) {
	if caller != op.User {
		return domain.Receipt{}, fmt.Errorf("engine: create prediction: %w", domain.ErrUnauthorized)
	}
	if !op.Direction.Valid() {
		return domain.Receipt{}, fmt.Errorf("engine: create prediction: %w", domain.ErrInvalidDirection)
	}
	if err := domain.ValidateAmount(op.Amount); err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: create prediction: %w", err)
	}

	now := e.clock.Now()
	var pred domain.Prediction

	err := e.ledger.Atomically(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.Market(ctx, op.AssetID)
		if err != nil {
			return err
		}
		if !m.Started() || now < m.Start {
			return domain.ErrNotStarted
		}
		if now >= m.End {
			return domain.ErrMarketClosed
		}
		vault, err := tx.Vault(ctx)
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
		pred = domain.Prediction{
			Address:        e.addrs.Prediction(m.Address, op.User),
			User:           op.User,
			Market:         m.Address,
			AssetID:        m.AssetID,
			Direction:      op.Direction,
			Amount:         op.Amount,
			ReferencePrice: op.ReferencePrice,
			CreatedAt:      now,
		}
		if err := tx.CreatePrediction(ctx, pred); err != nil {
			return err
		}
		return tx.Transfer(ctx, op.User, vault.Address, op.Amount)
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: create prediction on %q: %w", op.AssetID, err)
	}

	rcpt := e.receipt(op, caller, now)
	rcpt.Prediction = &pred
	e.committed(ctx, rcpt, domain.Event{
		Type:    domain.EventPredictionCreated,
		AssetID: pred.AssetID,
		Data: map[string]any{
			"prediction":      pred.Address.Hex(),
			"user":            pred.User.Hex(),
			"direction":       string(pred.Direction),
			"amount":          pred.Amount,
			"reference_price": pred.ReferencePrice,
		},
	})
	return rcpt, nil
}

// SettlePrediction resolves a prediction once its market has ended. Anyone
// may call it; the outcome depends only on the stored prediction, the market
// multiplier and op.ActualPrice. A win pays the reward from the vault; a loss
// moves nothing because the wager is already escrowed.
func (e *Engine) SettlePrediction(ctx context.Context, caller common.Address, op domain.SettlePrediction) (domain.Receipt, error) {
	now := e.clock.Now()
	var (
		pred    domain.Prediction
		outcome settlement.Outcome
	)

	err := e.ledger.Atomically(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.Market(ctx, op.AssetID)
		if err != nil {
			return err
		}
		p, err := tx.Prediction(ctx, m.Address, op.User)
		if err != nil {
			return err
		}
		if p.Settled {
			return domain.ErrAlreadySettled
		}
		if !m.Started() {
			return domain.ErrNotStarted
		}
		if now < m.End {
			return domain.ErrNotFinished
		}

		outcome, err = settlement.Resolve(p, m.PayoutMultiplier, op.ActualPrice)
		if err != nil {
			return err
		}
		if outcome.Won {
			if err := tx.Transfer(ctx, e.addrs.Vault(), p.User, outcome.Payout); err != nil {
				return err
			}
		}

		p.Settled = true
		p.Won = outcome.Won
		p.Payout = outcome.Payout
		p.ActualPrice = op.ActualPrice
		p.SettledAt = now
		pred = p
		return tx.UpdatePrediction(ctx, p)
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: settle prediction on %q: %w", op.AssetID, err)
	}

	rcpt := e.receipt(op, caller, now)
	rcpt.Prediction = &pred
	e.committed(ctx, rcpt, domain.Event{
		Type:    domain.EventPredictionSettled,
		AssetID: pred.AssetID,
		Data: map[string]any{
			"prediction":   pred.Address.Hex(),
			"user":         pred.User.Hex(),
			"won":          pred.Won,
			"payout":       pred.Payout,
			"actual_price": pred.ActualPrice,
		},
	})
	if e.recorder != nil {
		e.recorder.Settlement(pred.AssetID, pred.Won, pred.Payout)
	}
	if pred.Won {
		e.notify(ctx, string(domain.EventPredictionSettled),
			fmt.Sprintf("Prediction won on %s", pred.AssetID),
			fmt.Sprintf("%s paid %d (wager %d, %s vs %d at %d)",
				pred.User.Hex(), pred.Payout, pred.Amount, pred.Direction, pred.ReferencePrice, pred.ActualPrice))
	}
	return rcpt, nil
}

// --- read side ---

// Vault returns the vault and its balance.
func (e *Engine) Vault(ctx context.Context) (domain.VaultSummary, error) {
	v, err := e.ledger.GetVault(ctx)
	if err != nil {
		return domain.VaultSummary{}, fmt.Errorf("engine: get vault: %w", err)
	}
	return v, nil
}

// Market returns a market, checking the cache first and back-filling it on a
// miss.
func (e *Engine) Market(ctx context.Context, assetID string) (domain.Market, error) {
	fill := false
	var gen uint64
	if e.cache != nil {
		if m, err := e.cache.Get(ctx, assetID); err == nil {
			return m, nil
		}
		var genErr error
		gen, genErr = e.cache.Generation(ctx, assetID)
		if genErr != nil {
			e.logger.WarnContext(ctx, "engine: market cache generation failed",
				slog.String("asset_id", assetID),
				slog.String("error", genErr.Error()),
			)
		}
		fill = genErr == nil
	}

	m, err := e.ledger.GetMarket(ctx, assetID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: get market %q: %w", assetID, err)
	}

	if fill {
		stored, cacheErr := e.cache.Set(ctx, m, gen)
		switch {
		case cacheErr != nil:
			e.logger.WarnContext(ctx, "engine: market cache set failed",
				slog.String("asset_id", assetID),
				slog.String("error", cacheErr.Error()),
			)
		case !stored:
			e.logger.DebugContext(ctx, "engine: market changed during read, not cached",
				slog.String("asset_id", assetID),
			)
		}
	}
	return m, nil
}

// Prediction returns user's prediction on assetID.
func (e *Engine) Prediction(ctx context.Context, assetID string, user common.Address) (domain.Prediction, error) {
	p, err := e.ledger.GetPrediction(ctx, assetID, user)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("engine: get prediction %q/%s: %w", assetID, user.Hex(), err)
	}
	return p, nil
}

// Predictions lists the predictions of a market.
func (e *Engine) Predictions(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	if _, err := e.ledger.GetMarket(ctx, assetID); err != nil {
		return nil, fmt.Errorf("engine: list predictions %q: %w", assetID, err)
	}
	ps, err := e.ledger.ListPredictions(ctx, assetID, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list predictions %q: %w", assetID, err)
	}
	return ps, nil
}

// Balance returns the ledger balance of addr.
func (e *Engine) Balance(ctx context.Context, addr common.Address) (uint64, error) {
	b, err := e.ledger.BalanceOf(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("engine: balance %s: %w", addr.Hex(), err)
	}
	return b, nil
}

// Now exposes the engine clock to read-side callers.
func (e *Engine) Now() int64 {
	return e.clock.Now()
}

// --- post-commit side effects ---

func (e *Engine) receipt(op domain.Operation, caller common.Address, now int64) domain.Receipt {
	return domain.Receipt{
		TxID:      uuid.NewString(),
		Op:        op.Kind(),
		Caller:    caller,
		Timestamp: now,
	}
}

// committed logs, audits and publishes a committed operation.
func (e *Engine) committed(ctx context.Context, rcpt domain.Receipt, evt domain.Event) {
	evt.TxID = rcpt.TxID
	evt.Caller = rcpt.Caller
	evt.Timestamp = rcpt.Timestamp

	e.logger.InfoContext(ctx, "engine: operation committed",
		slog.String("op", string(rcpt.Op)),
		slog.String("tx_id", rcpt.TxID),
		slog.String("caller", rcpt.Caller.Hex()),
		slog.String("asset_id", evt.AssetID),
	)

	if e.audit != nil {
		detail := map[string]any{
			"tx_id":     rcpt.TxID,
			"caller":    rcpt.Caller.Hex(),
			"timestamp": rcpt.Timestamp,
		}
		if evt.AssetID != "" {
			detail["asset_id"] = evt.AssetID
		}
		for k, v := range evt.Data {
			detail[k] = v
		}
		if err := e.audit.Log(ctx, string(rcpt.Op), detail); err != nil {
			e.logger.WarnContext(ctx, "engine: audit log failed",
				slog.String("tx_id", rcpt.TxID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			return
		}
		if err := e.bus.Publish(ctx, domain.EventsChannel, payload); err != nil {
			e.logger.WarnContext(ctx, "engine: publish event failed",
				slog.String("tx_id", rcpt.TxID),
				slog.String("error", err.Error()),
			)
		}
		if err := e.bus.StreamAppend(ctx, domain.EventsStream, payload); err != nil {
			e.logger.WarnContext(ctx, "engine: stream append failed",
				slog.String("tx_id", rcpt.TxID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) invalidate(ctx context.Context, assetID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, assetID); err != nil {
		e.logger.WarnContext(ctx, "engine: market cache invalidate failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "engine: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
