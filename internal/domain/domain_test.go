package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unauthorized", ErrUnauthorized, KindAuthorization},
		{"wrapped state", fmt.Errorf("engine: start market: %w", ErrAlreadyStarted), KindState},
		{"double wrapped funds", fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrInsufficientFunds)), KindFunds},
		{"contention", ErrContention, KindContention},
		{"plain error", errors.New("boom"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSentinelsMatchWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("engine: settle: %w", ErrAlreadySettled)
	require.ErrorIs(t, err, ErrAlreadySettled)
	require.NotErrorIs(t, err, ErrNotFinished)
	assert.Equal(t, "already_settled", CodeOf(err))
	assert.Equal(t, "internal", CodeOf(errors.New("x")))
	assert.True(t, IsRetryable(fmt.Errorf("ledger: %w", ErrContention)))
	assert.False(t, IsRetryable(ErrNotFound))
}

func TestValidateAssetID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"ticker", "BTC", true},
		{"pair", "SOL/USD", true},
		{"empty", "", false},
		{"space", "BTC USD", false},
		{"control char", "BTC\x00", false},
		{"too long", strings.Repeat("A", 65), false},
		{"max length", strings.Repeat("A", 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAssetID(tt.id)
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidAsset)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	require.ErrorIs(t, ValidateAmount(0), ErrInvalidAmount)
	require.ErrorIs(t, ValidateAmount(MaxAmount+1), ErrInvalidAmount)
	require.NoError(t, ValidateAmount(1))
	require.NoError(t, ValidateAmount(MaxAmount))
}

func TestMarketStatus(t *testing.T) {
	m := Market{AssetID: "BTC", PayoutMultiplier: 200}
	assert.False(t, m.Started())
	assert.Equal(t, MarketStatusCreated, m.Status(1_000))

	m.Start, m.End = 1_000, 2_000
	assert.True(t, m.Started())
	assert.Equal(t, MarketStatusCreated, m.Status(999))
	assert.Equal(t, MarketStatusOpen, m.Status(1_000))
	assert.Equal(t, MarketStatusOpen, m.Status(1_999))
	assert.Equal(t, MarketStatusClosed, m.Status(2_000))
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, DirectionHigh, d)

	d, err = ParseDirection("low")
	require.NoError(t, err)
	assert.Equal(t, DirectionLow, d)

	_, err = ParseDirection("sideways")
	require.ErrorIs(t, err, ErrInvalidDirection)
	assert.False(t, Direction("up").Valid())
}

func TestOperationKinds(t *testing.T) {
	ops := map[OpKind]Operation{
		OpInitializeVault:  InitializeVault{},
		OpInitializeMarket: InitializeMarket{},
		OpStartMarket:      StartMarket{},
		OpCreatePrediction: CreatePrediction{},
		OpSettlePrediction: SettlePrediction{},
	}
	for kind, op := range ops {
		assert.Equal(t, kind, op.Kind())
	}
}
