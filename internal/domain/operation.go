package domain

import "github.com/ethereum/go-ethereum/common"

// OpKind names one of the five state-changing operations.
type OpKind string

const (
	OpInitializeVault  OpKind = "initialize_vault"
	OpInitializeMarket OpKind = "initialize_market"
	OpStartMarket      OpKind = "start_market"
	OpCreatePrediction OpKind = "create_prediction"
	OpSettlePrediction OpKind = "settle_prediction"
)

// Operation is the closed set of requests the engine executes. Only the types
// in this file implement it.
type Operation interface {
	Kind() OpKind
	operation()
}

// InitializeVault creates the escrow pool and seeds it from Authority.
type InitializeVault struct {
	Authority common.Address
	Amount    uint64
}

// InitializeMarket registers a market keyed by AssetID.
type InitializeMarket struct {
	Authority        common.Address
	AssetID          string
	PayoutMultiplier uint64
}

// StartMarket opens a market for predictions until EndTime (unix seconds).
type StartMarket struct {
	AssetID string
	EndTime int64
}

// CreatePrediction escrows Amount from User on Direction.
type CreatePrediction struct {
	User           common.Address
	AssetID        string
	Direction      Direction
	Amount         uint64
	ReferencePrice uint64
}

// SettlePrediction resolves User's prediction against ActualPrice.
type SettlePrediction struct {
	AssetID     string
	User        common.Address
	ActualPrice uint64
}

func (InitializeVault) Kind() OpKind  { return OpInitializeVault }
func (InitializeMarket) Kind() OpKind { return OpInitializeMarket }
func (StartMarket) Kind() OpKind      { return OpStartMarket }
func (CreatePrediction) Kind() OpKind { return OpCreatePrediction }
func (SettlePrediction) Kind() OpKind { return OpSettlePrediction }

func (InitializeVault) operation()  {}
func (InitializeMarket) operation() {}
func (StartMarket) operation()      {}
func (CreatePrediction) operation() {}
func (SettlePrediction) operation() {}

// Receipt acknowledges a committed operation. Exactly one of the record
// pointers is set, matching Op.
type Receipt struct {
	TxID       string         `json:"tx_id"`
	Op         OpKind         `json:"op"`
	Caller     common.Address `json:"caller"`
	Timestamp  int64          `json:"timestamp"`
	Vault      *Vault         `json:"vault,omitempty"`
	Market     *Market        `json:"market,omitempty"`
	Prediction *Prediction    `json:"prediction,omitempty"`
}

// Clock supplies the current unix time in seconds.
type Clock interface {
	Now() int64
}
