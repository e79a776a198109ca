// internal/positions/state_test.go
package positions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseOptions() StartOptions {
	return StartOptions{
		TokenMint:     "So11111111111111111111111111111111111111112",
		UserID:        "user-1",
		EntryPrice:    decimal.NewFromFloat(1.0),
		TakeProfitPct: 50,
		StopLossPct:   20,
		TokenBalance:  1_000_000,
	}
}

func TestNewStateDerivesTriggerPrices(t *testing.T) {
	st, err := newState("pos-1", baseOptions())
	require.NoError(t, err)

	require.NotNil(t, st.TakeProfitPrice)
	require.NotNil(t, st.StopLossPrice)
	assert.True(t, st.TakeProfitPrice.Equal(decimal.NewFromFloat(1.5)),
		"expected 1.5, got %s", st.TakeProfitPrice)
	assert.True(t, st.StopLossPrice.Equal(decimal.NewFromFloat(0.8)),
		"expected 0.8, got %s", st.StopLossPrice)
	assert.Equal(t, StatusActive, st.Status)
}

func TestNewStateZeroPercentagesDisableThresholds(t *testing.T) {
	opts := baseOptions()
	opts.TakeProfitPct = 0
	opts.StopLossPct = 0

	st, err := newState("pos-1", opts)
	require.NoError(t, err)
	assert.Nil(t, st.TakeProfitPrice)
	assert.Nil(t, st.StopLossPrice)
}

func TestNewStateValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*StartOptions)
	}{
		{"empty token mint", func(o *StartOptions) { o.TokenMint = "" }},
		{"empty user id", func(o *StartOptions) { o.UserID = "" }},
		{"zero entry price", func(o *StartOptions) { o.EntryPrice = decimal.Zero }},
		{"negative take profit", func(o *StartOptions) { o.TakeProfitPct = -5 }},
		{"stop loss at 100", func(o *StartOptions) { o.StopLossPct = 100 }},
		{"trailing without stop loss", func(o *StartOptions) {
			o.TrailingStop = true
			o.StopLossPct = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := baseOptions()
			tc.mutate(&opts)
			_, err := newState("pos-1", opts)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestObservePriceRaisesHighWaterMark(t *testing.T) {
	opts := baseOptions()
	opts.TrailingStop = true
	st, err := newState("pos-1", opts)
	require.NoError(t, err)

	now := time.Now()
	st.observePrice(decimal.NewFromFloat(1.2), now)
	require.NotNil(t, st.HighestPrice)
	assert.True(t, st.HighestPrice.Equal(decimal.NewFromFloat(1.2)))

	// A lower price never lowers the mark.
	st.observePrice(decimal.NewFromFloat(1.1), now)
	assert.True(t, st.HighestPrice.Equal(decimal.NewFromFloat(1.2)))

	st.observePrice(decimal.NewFromFloat(1.4), now)
	assert.True(t, st.HighestPrice.Equal(decimal.NewFromFloat(1.4)))
	assert.Equal(t, int64(3), st.PriceChecks)
}

func TestObservePriceWithoutTrailingKeepsNoMark(t *testing.T) {
	st, err := newState("pos-1", baseOptions())
	require.NoError(t, err)

	st.observePrice(decimal.NewFromFloat(1.2), time.Now())
	assert.Nil(t, st.HighestPrice)
}

func TestStateModelRoundTrip(t *testing.T) {
	opts := baseOptions()
	opts.TrailingStop = true
	st, err := newState("pos-1", opts)
	require.NoError(t, err)
	st.observePrice(decimal.NewFromFloat(1.3), time.Now())

	restored, err := stateFromModel(st.toModel())
	require.NoError(t, err)

	assert.Equal(t, st.PositionID, restored.PositionID)
	assert.True(t, restored.EntryPrice.Equal(st.EntryPrice))
	assert.True(t, restored.CurrentPrice.Equal(st.CurrentPrice))
	require.NotNil(t, restored.TakeProfitPrice)
	assert.True(t, restored.TakeProfitPrice.Equal(*st.TakeProfitPrice))
	require.NotNil(t, restored.HighestPrice)
	assert.True(t, restored.HighestPrice.Equal(*st.HighestPrice))
	assert.Equal(t, st.Status, restored.Status)
	assert.Equal(t, st.TokenBalance, restored.TokenBalance)
}
