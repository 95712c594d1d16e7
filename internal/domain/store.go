package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DueCursor marks a position in the due set, which is ordered by
// (CreatedAt, Address).
type DueCursor struct {
	CreatedAt int64
	Address   common.Address
}

// After reports whether p sorts strictly after the cursor.
func (c DueCursor) After(p Prediction) bool {
	if p.CreatedAt != c.CreatedAt {
		return p.CreatedAt > c.CreatedAt
	}
	return p.Address.Cmp(c.Address) > 0
}

// CursorOf returns the cursor positioned at p.
func CursorOf(p Prediction) DueCursor {
	return DueCursor{CreatedAt: p.CreatedAt, Address: p.Address}
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerTx is the view of the ledger inside one atomic transaction. Reads see
// the transaction's own writes; nothing is visible to others until commit.
type LedgerTx interface {
	// Balance returns the balance of addr, zero for unknown accounts.
	Balance(ctx context.Context, addr common.Address) (uint64, error)
	// Transfer moves amount from one account to another. It returns
	// ErrInsufficientFunds when from cannot cover amount.
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error

	// Vault returns ErrNotFound before initialization.
	Vault(ctx context.Context) (Vault, error)
	// CreateVault returns ErrAlreadyInitialized when a vault exists.
	CreateVault(ctx context.Context, v Vault) error

	Market(ctx context.Context, assetID string) (Market, error)
	// CreateMarket returns ErrAlreadyExists for a taken asset id.
	CreateMarket(ctx context.Context, m Market) error
	UpdateMarket(ctx context.Context, m Market) error

	Prediction(ctx context.Context, market, user common.Address) (Prediction, error)
	// CreatePrediction returns ErrAlreadyExists for a taken (market, user).
	CreatePrediction(ctx context.Context, p Prediction) error
	UpdatePrediction(ctx context.Context, p Prediction) error
}

// LedgerReader serves committed state outside of transactions.
type LedgerReader interface {
	GetVault(ctx context.Context) (VaultSummary, error)
	GetMarket(ctx context.Context, assetID string) (Market, error)
	GetPrediction(ctx context.Context, assetID string, user common.Address) (Prediction, error)
	ListPredictions(ctx context.Context, assetID string, opts ListOpts) ([]Prediction, error)
	// ListDue returns unsettled predictions whose market ended at or before
	// now, in (CreatedAt, Address) order. A non-nil after resumes strictly
	// past that position.
	ListDue(ctx context.Context, now int64, after *DueCursor, limit int) ([]Prediction, error)
	// ListSettled returns predictions settled in [from, to).
	ListSettled(ctx context.Context, from, to int64) ([]Prediction, error)
	BalanceOf(ctx context.Context, addr common.Address) (uint64, error)
}

// Ledger is the atomic multi-account store the engine runs on. Atomically
// runs fn in one transaction: fn's writes commit together when it returns nil
// and are discarded otherwise.
type Ledger interface {
	LedgerReader
	Atomically(ctx context.Context, fn func(tx LedgerTx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
