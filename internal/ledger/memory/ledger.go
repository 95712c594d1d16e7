// Package memory implements domain.Ledger in process memory. Transactions are
// serialized by a mutex and stage their writes in an overlay that is copied
// into the committed state only when the transaction function succeeds.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aoikurokawa/zone/internal/domain"
)

type predictionKey struct {
	market common.Address
	user   common.Address
}

// state is the committed data set. The same shape is reused for overlays.
type state struct {
	balances    map[common.Address]uint64
	vault       *domain.Vault
	markets     map[string]domain.Market
	predictions map[predictionKey]domain.Prediction
}

func newState() state {
	return state{
		balances:    make(map[common.Address]uint64),
		markets:     make(map[string]domain.Market),
		predictions: make(map[predictionKey]domain.Prediction),
	}
}

// Ledger is a mutex-guarded in-memory ledger.
type Ledger struct {
	mu sync.Mutex
	st state
}

// New returns a Ledger with the given opening wallet balances.
func New(genesis map[common.Address]uint64) *Ledger {
	l := &Ledger{st: newState()}
	for addr, bal := range genesis {
		l.st.balances[addr] = bal
	}
	return l
}

// Seed credits accounts that do not exist yet. Existing accounts are left as
// they are so restarts do not mint.
func (l *Ledger) Seed(_ context.Context, balances map[common.Address]uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, bal := range balances {
		if _, ok := l.st.balances[addr]; !ok {
			l.st.balances[addr] = bal
		}
	}
	return nil
}

// Atomically runs fn against a staged view of the ledger. The whole call
// holds the ledger lock, so fn must not call back into l.
func (l *Ledger) Atomically(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &tx{base: &l.st, stage: newState()}
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// TotalSupply sums every account balance. Operations never change it.
func (l *Ledger) TotalSupply() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total uint64
	for _, b := range l.st.balances {
		total += b
	}
	return total
}

// --- read side ---

func (l *Ledger) GetVault(_ context.Context) (domain.VaultSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.st.vault == nil {
		return domain.VaultSummary{}, domain.ErrNotFound
	}
	v := *l.st.vault
	return domain.VaultSummary{Vault: v, Balance: l.st.balances[v.Address]}, nil
}

func (l *Ledger) GetMarket(_ context.Context, assetID string) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.st.markets[assetID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (l *Ledger) GetPrediction(_ context.Context, assetID string, user common.Address) (domain.Prediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.st.markets[assetID]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	p, ok := l.st.predictions[predictionKey{market: m.Address, user: user}]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (l *Ledger) ListPredictions(_ context.Context, assetID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Prediction
	for _, p := range l.st.predictions {
		if p.AssetID == assetID {
			out = append(out, p)
		}
	}
	sortPredictions(out)
	return paginate(out, opts), nil
}

func (l *Ledger) ListDue(_ context.Context, now int64, after *domain.DueCursor, limit int) ([]domain.Prediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Prediction
	for _, p := range l.st.predictions {
		if p.Settled {
			continue
		}
		m, ok := l.st.markets[p.AssetID]
		if !ok || !m.Started() || m.End > now {
			continue
		}
		if after != nil && !after.After(p) {
			continue
		}
		out = append(out, p)
	}
	sortPredictions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) ListSettled(_ context.Context, from, to int64) ([]domain.Prediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Prediction
	for _, p := range l.st.predictions {
		if p.Settled && p.SettledAt >= from && p.SettledAt < to {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SettledAt != out[j].SettledAt {
			return out[i].SettledAt < out[j].SettledAt
		}
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out, nil
}

func (l *Ledger) BalanceOf(_ context.Context, addr common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.balances[addr], nil
}

func sortPredictions(ps []domain.Prediction) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt != ps[j].CreatedAt {
			return ps[i].CreatedAt < ps[j].CreatedAt
		}
		return ps[i].Address.Cmp(ps[j].Address) < 0
	})
}

func paginate(ps []domain.Prediction, opts domain.ListOpts) []domain.Prediction {
	if opts.Offset > 0 {
		if opts.Offset >= len(ps) {
			return nil
		}
		ps = ps[opts.Offset:]
	}
	if opts.Limit > 0 && len(ps) > opts.Limit {
		ps = ps[:opts.Limit]
	}
	return ps
}

// --- transaction ---

type tx struct {
	base  *state
	stage state
}

func (t *tx) Balance(_ context.Context, addr common.Address) (uint64, error) {
	return t.balance(addr), nil
}

func (t *tx) balance(addr common.Address) uint64 {
	if b, ok := t.stage.balances[addr]; ok {
		return b
	}
	return t.base.balances[addr]
}

func (t *tx) Transfer(_ context.Context, from, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	fromBal := t.balance(from)
	if fromBal < amount {
		return domain.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toBal := t.balance(to)
	if toBal > math.MaxUint64-amount {
		return domain.ErrBalanceOverflow
	}
	t.stage.balances[from] = fromBal - amount
	t.stage.balances[to] = toBal + amount
	return nil
}

func (t *tx) Vault(_ context.Context) (domain.Vault, error) {
	if t.stage.vault != nil {
		return *t.stage.vault, nil
	}
	if t.base.vault != nil {
		return *t.base.vault, nil
	}
	return domain.Vault{}, domain.ErrNotFound
}

func (t *tx) CreateVault(ctx context.Context, v domain.Vault) error {
	if _, err := t.Vault(ctx); err == nil {
		return domain.ErrAlreadyInitialized
	}
	t.stage.vault = &v
	return nil
}

func (t *tx) Market(_ context.Context, assetID string) (domain.Market, error) {
	if m, ok := t.stage.markets[assetID]; ok {
		return m, nil
	}
	if m, ok := t.base.markets[assetID]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (t *tx) CreateMarket(ctx context.Context, m domain.Market) error {
	if _, err := t.Market(ctx, m.AssetID); err == nil {
		return domain.ErrAlreadyExists
	}
	t.stage.markets[m.AssetID] = m
	return nil
}

func (t *tx) UpdateMarket(ctx context.Context, m domain.Market) error {
	if _, err := t.Market(ctx, m.AssetID); err != nil {
		return err
	}
	t.stage.markets[m.AssetID] = m
	return nil
}

func (t *tx) Prediction(_ context.Context, market, user common.Address) (domain.Prediction, error) {
	k := predictionKey{market: market, user: user}
	if p, ok := t.stage.predictions[k]; ok {
		return p, nil
	}
	if p, ok := t.base.predictions[k]; ok {
		return p, nil
	}
	return domain.Prediction{}, domain.ErrNotFound
}

func (t *tx) CreatePrediction(ctx context.Context, p domain.Prediction) error {
	if _, err := t.Prediction(ctx, p.Market, p.User); err == nil {
		return domain.ErrAlreadyExists
	}
	t.stage.predictions[predictionKey{market: p.Market, user: p.User}] = p
	return nil
}

func (t *tx) UpdatePrediction(ctx context.Context, p domain.Prediction) error {
	if _, err := t.Prediction(ctx, p.Market, p.User); err != nil {
		return err
	}
	t.stage.predictions[predictionKey{market: p.Market, user: p.User}] = p
	return nil
}

func (t *tx) commit() {
	for addr, bal := range t.stage.balances {
		t.base.balances[addr] = bal
	}
	if t.stage.vault != nil {
		v := *t.stage.vault
		t.base.vault = &v
	}
	for id, m := range t.stage.markets {
		t.base.markets[id] = m
	}
	for k, p := range t.stage.predictions {
		t.base.predictions[k] = p
	}
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.LedgerTx = (*tx)(nil)
)
