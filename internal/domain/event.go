package domain

import "github.com/ethereum/go-ethereum/common"

// Bus names used for operation events.
const (
	EventsChannel = "zone:events"
	EventsStream  = "zone:events:stream"
)

// EventType mirrors the operation that produced an event.
type EventType string

const (
	EventVaultInitialized  EventType = "vault_initialized"
	EventMarketInitialized EventType = "market_initialized"
	EventMarketStarted     EventType = "market_started"
	EventPredictionCreated EventType = "prediction_created"
	EventPredictionSettled EventType = "prediction_settled"
)

// Event is published after an operation commits.
type Event struct {
	Type      EventType      `json:"type"`
	TxID      string         `json:"tx_id"`
	Caller    common.Address `json:"caller"`
	AssetID   string         `json:"asset_id,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
