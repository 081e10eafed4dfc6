package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/grid"
	"grid-trader-go/market"
	"grid-trader-go/portfolio"
)

func ticksOf(prices ...float64) []market.Tick {
	out := make([]market.Tick, len(prices))
	for i, p := range prices {
		out[i] = market.Tick{Price: p}
	}
	return out
}

func TestRunGridBacktest(t *testing.T) {
	engine, err := NewEngine(Config{
		Symbol:      "ETH-USDC",
		InitialCash: 1000,
		Fee:         0,
		Grid:        grid.Config{Boundaries: []float64{100, 110}},
	})
	require.NoError(t, err)

	res, err := engine.Run(ticksOf(95, 101, 99, 111, 109, 112))
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalTrades)
	assert.Equal(t, 1, res.BuyTrades)
	assert.Equal(t, 1, res.SellTrades)
	assert.Len(t, res.EquityCurve, 6)

	// 99 买入、112 卖出，零费率下必然盈利
	boughtQty := portfolio.FloorTo(1000.0/99, portfolio.QuantityPrecision)
	wantFinal := portfolio.FloorTo(boughtQty*112, portfolio.QuantityPrecision)
	assert.InDelta(t, wantFinal, res.FinalNetWorth, 1e-6)
	assert.Greater(t, res.TotalPnL, 0.0)
	assert.GreaterOrEqual(t, res.MaxDrawdown, 0.0)
}

func TestRunWithoutTradesKeepsEquityFlat(t *testing.T) {
	engine, err := NewEngine(Config{
		Symbol:      "ETH-USDC",
		InitialCash: 1000,
		Fee:         0.005,
		Grid:        grid.Config{Boundaries: []float64{10000, 11000}},
	})
	require.NoError(t, err)

	res, err := engine.Run(ticksOf(95, 96, 97, 98))
	require.NoError(t, err)

	assert.Equal(t, 0, res.TotalTrades)
	for _, eq := range res.EquityCurve {
		assert.Equal(t, 1000.0, eq)
	}
	assert.Equal(t, 0.0, res.TotalPnL)
}

func TestRunRejectsEmptyInput(t *testing.T) {
	engine, err := NewEngine(Config{
		Symbol:      "ETH-USDC",
		InitialCash: 1000,
		Grid:        grid.Config{Boundaries: []float64{100, 110}},
	})
	require.NoError(t, err)

	_, err = engine.Run(nil)
	require.Error(t, err)
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{InitialCash: 0, Grid: grid.Config{Boundaries: []float64{100, 110}}})
	assert.Error(t, err)

	_, err = NewEngine(Config{InitialCash: 1000, Grid: grid.Config{Boundaries: []float64{100}}})
	assert.Error(t, err)
}
