// Package settlement computes prediction outcomes. It is pure: no ledger, no
// clock, no I/O. The engine applies the returned outcome atomically.
package settlement

import (
	"github.com/holiman/uint256"

	"github.com/aoikurokawa/zone/internal/domain"
)

// multiplierScale is the denominator of Market.PayoutMultiplier.
const multiplierScale = 100

// Outcome is the result of resolving one prediction.
type Outcome struct {
	Won bool
	// Reward is floor(amount * multiplier / 100), computed for every
	// prediction so callers can report what a win would have paid.
	Reward uint64
	// Payout is the amount the vault transfers to the user: Reward on a win,
	// zero on a loss. The wager itself never leaves the vault.
	Payout uint64
}

// Reward returns floor(amount * multiplier / 100). The product is formed in
// 256-bit arithmetic so it cannot wrap; a quotient that does not fit in a
// uint64 returns ErrRewardOverflow.
func Reward(amount, multiplier uint64) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(multiplier))
	quotient := product.Div(product, uint256.NewInt(multiplierScale))
	if !quotient.IsUint64() {
		return 0, domain.ErrRewardOverflow
	}
	return quotient.Uint64(), nil
}

// Won reports whether a prediction in direction d with the given reference
// price wins against actual. Equality loses in both directions.
func Won(d domain.Direction, reference, actual uint64) bool {
	switch d {
	case domain.DirectionHigh:
		return actual > reference
	case domain.DirectionLow:
		return actual < reference
	default:
		return false
	}
}

// Resolve computes the outcome of p on a market with the given multiplier at
// the actual price.
func Resolve(p domain.Prediction, multiplier, actual uint64) (Outcome, error) {
	reward, err := Reward(p.Amount, multiplier)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		Won:    Won(p.Direction, p.ReferencePrice, actual),
		Reward: reward,
	}
	if out.Won {
		out.Payout = reward
	}
	return out, nil
}
