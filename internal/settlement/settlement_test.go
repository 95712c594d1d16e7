package settlement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoikurokawa/zone/internal/domain"
)

func TestReward(t *testing.T) {
	tests := []struct {
		name       string
		amount     uint64
		multiplier uint64
		want       uint64
	}{
		{"double", 100, 200, 200},
		{"one and a half", 100, 150, 150},
		{"client scenario", 10, 200, 20},
		{"floors fractions", 7, 150, 10},
		{"below one unit", 1, 50, 0},
		{"unit multiplier", 12345, 100, 12345},
		{"large amount no wrap", math.MaxInt64, 100, math.MaxInt64},
		{"product exceeds 64 bits", math.MaxUint64, 100, math.MaxUint64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reward(tt.amount, tt.multiplier)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReward_Overflow(t *testing.T) {
	_, err := Reward(math.MaxUint64, 200)
	require.ErrorIs(t, err, domain.ErrRewardOverflow)
}

func TestWon(t *testing.T) {
	tests := []struct {
		name      string
		direction domain.Direction
		reference uint64
		actual    uint64
		want      bool
	}{
		{"high above", domain.DirectionHigh, 100_000, 120_000, true},
		{"high below", domain.DirectionHigh, 100_000, 90_000, false},
		{"high tie", domain.DirectionHigh, 100_000, 100_000, false},
		{"low below", domain.DirectionLow, 100_000, 90_000, true},
		{"low above", domain.DirectionLow, 100_000, 120_000, false},
		{"low tie", domain.DirectionLow, 100_000, 100_000, false},
		{"unknown direction", domain.Direction("up"), 1, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Won(tt.direction, tt.reference, tt.actual))
		})
	}
}

func TestResolve(t *testing.T) {
	p := domain.Prediction{Direction: domain.DirectionHigh, Amount: 100, ReferencePrice: 100_000}

	win, err := Resolve(p, 200, 120_000)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Won: true, Reward: 200, Payout: 200}, win)

	loss, err := Resolve(p, 200, 80_000)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Won: false, Reward: 200, Payout: 0}, loss)

	tie, err := Resolve(p, 200, 100_000)
	require.NoError(t, err)
	assert.False(t, tie.Won)
	assert.Zero(t, tie.Payout)
}

func TestResolve_Deterministic(t *testing.T) {
	p := domain.Prediction{Direction: domain.DirectionLow, Amount: 37, ReferencePrice: 500}
	first, err := Resolve(p, 175, 499)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Resolve(p, 175, 499)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
