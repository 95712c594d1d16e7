package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Direction is the side a user takes against the reference price.
type Direction string

const (
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// ParseDirection accepts "high"/"low" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionHigh:
		return DirectionHigh, nil
	case DirectionLow:
		return DirectionLow, nil
	default:
		return "", ErrInvalidDirection
	}
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionHigh || d == DirectionLow
}

// Prediction is one user's wager on one market. ReferencePrice is supplied by
// the user and is not verified against any feed.
type Prediction struct {
	Address        common.Address `json:"address"`
	User           common.Address `json:"user"`
	Market         common.Address `json:"market"`
	AssetID        string         `json:"asset_id"`
	Direction      Direction      `json:"direction"`
	Amount         uint64         `json:"amount"`
	ReferencePrice uint64         `json:"reference_price"`
	CreatedAt      int64          `json:"created_at"`

	Settled     bool   `json:"settled"`
	Won         bool   `json:"won"`
	Payout      uint64 `json:"payout"`
	ActualPrice uint64 `json:"actual_price"`
	SettledAt   int64  `json:"settled_at"`
}
