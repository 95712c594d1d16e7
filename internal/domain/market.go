package domain

import (
	"math"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
)

// MaxAmount is the largest wager or vault deposit accepted. Amounts are kept
// inside the signed 64-bit range so every ledger backend can store them.
const MaxAmount uint64 = math.MaxInt64

// maxAssetIDLen bounds the asset identifier used as the market key.
const maxAssetIDLen = 64

// MarketStatus is the derived lifecycle phase of a market at a point in time.
type MarketStatus string

const (
	MarketStatusCreated MarketStatus = "created"
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed"
)

// Market is a question "will asset X be above/below a reference at time T".
// Start and End are unix seconds; zero Start means the market never started.
type Market struct {
	AssetID          string         `json:"asset_id"`
	Address          common.Address `json:"address"`
	Authority        common.Address `json:"authority"`
	Start            int64          `json:"start"`
	End              int64          `json:"end"`
	PayoutMultiplier uint64         `json:"payout_multiplier"` // hundredths, 200 = 2x
	CreatedAt        int64          `json:"created_at"`
}

// Started reports whether StartMarket has run for this market.
func (m Market) Started() bool {
	return m.Start != 0
}

// Status derives the lifecycle phase at now.
func (m Market) Status(now int64) MarketStatus {
	switch {
	case !m.Started() || now < m.Start:
		return MarketStatusCreated
	case now < m.End:
		return MarketStatusOpen
	default:
		return MarketStatusClosed
	}
}

// ValidateAssetID checks that id is usable as a market key.
func ValidateAssetID(id string) error {
	if id == "" || len(id) > maxAssetIDLen {
		return ErrInvalidAsset
	}
	for _, r := range id {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return ErrInvalidAsset
		}
	}
	return nil
}

// ValidateAmount checks a wager or deposit amount.
func ValidateAmount(amount uint64) error {
	if amount == 0 || amount > MaxAmount {
		return ErrInvalidAmount
	}
	return nil
}
