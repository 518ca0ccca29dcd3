package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		StopLossPercent:     2.5,
		TakeProfitPercent:   5.0,
		TrailingStop:        true,
		TrailingStopPercent: 1.5,
		RiskPercent:         2.0,
		MaxPositionSize:     1000000,
		MaxPositions:        5,
		DailyLossLimit:      -5.0,
		MaxSingleStockRatio: 0.2,
		OvernightHold:       false,
		OvernightMinProfit:  2.0,
	}
}

func position(entry, highest float64) *models.Position {
	return &models.Position{
		Code:         "005930",
		EntryPrice:   entry,
		Quantity:     10,
		HighestPrice: highest,
		EntryTime:    time.Now(),
		State:        models.PositionConfirmed,
	}
}

func TestShouldCloseStopLoss(t *testing.T) {
	e := NewEngine(testRiskConfig())

	// -3.0% is past the -2.5% stop.
	d := e.ShouldClose(position(10000, 10000), 9700, 0, MarketState{Status: models.MarketOpen})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonStopLoss, d.Reason)

	// -2.0% is inside the stop, position survives.
	d = e.ShouldClose(position(10000, 10000), 9800, 0, MarketState{Status: models.MarketOpen})
	assert.False(t, d.Close)
}

func TestShouldCloseBelowTrendAverage(t *testing.T) {
	e := NewEngine(testRiskConfig())

	d := e.ShouldClose(position(10000, 10100), 9900, 9950, MarketState{Status: models.MarketOpen})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonStopLoss, d.Reason)

	// Zero MA disables the trend stop.
	d = e.ShouldClose(position(10000, 10100), 9900, 0, MarketState{Status: models.MarketOpen})
	assert.False(t, d.Close)
}

func TestShouldCloseTakeProfit(t *testing.T) {
	e := NewEngine(testRiskConfig())

	d := e.ShouldClose(position(10000, 10600), 10600, 0, MarketState{Status: models.MarketOpen})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonTakeProfit, d.Reason)
}

func TestShouldCloseTrailingStop(t *testing.T) {
	e := NewEngine(testRiskConfig())

	// Highest 106, trail 1.5% -> stop at 104.41. 104 breaches it while
	// still under the 5% take-profit and above the 100 entry.
	d := e.ShouldClose(position(100, 106), 104, 0, MarketState{Status: models.MarketOpen})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonTrailingStop, d.Reason)

	// Above the trail: hold.
	d = e.ShouldClose(position(100, 106), 104.5, 0, MarketState{Status: models.MarketOpen})
	assert.False(t, d.Close)
}

func TestTrailingStopPriceFromHighWaterMark(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TakeProfitPercent = 20 // isolate the trailing rule
	e := NewEngine(cfg)

	// Highest 110, trail 1.5% -> stop at 108.35.
	d := e.ShouldClose(position(100, 110), 107.9, 0, MarketState{Status: models.MarketOpen})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonTrailingStop, d.Reason)

	d = e.ShouldClose(position(100, 110), 108.5, 0, MarketState{Status: models.MarketOpen})
	assert.False(t, d.Close)
}

func TestTakeProfitTakesPriorityOverTrailingStop(t *testing.T) {
	e := NewEngine(testRiskConfig())

	// 107.9 is past both the 5% take-profit and the 108.35 trail: the
	// take-profit owns the exit.
	d := e.ShouldClose(position(100, 110), 107.9, 0, MarketState{Status: models.MarketOpen})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonTakeProfit, d.Reason)
}

func TestTrailingStopNeverFiresBelowEntry(t *testing.T) {
	cfg := testRiskConfig()
	cfg.StopLossPercent = 10 // keep the fixed stop out of the way
	e := NewEngine(cfg)

	// Price fell back under the entry: the fixed stop owns this region.
	d := e.ShouldClose(position(100, 101), 99.0, 0, MarketState{Status: models.MarketOpen})
	assert.False(t, d.Close)
}

func TestStopLossTakesPriorityOverTakeProfit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TakeProfitPercent = -10 // degenerate config: both rules match
	e := NewEngine(cfg)

	d := e.ShouldClose(position(10000, 10000), 9700, 0, MarketState{Status: models.MarketOpen})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonStopLoss, d.Reason)
}

func TestEndOfDayForcedLiquidation(t *testing.T) {
	e := NewEngine(testRiskConfig())

	d := e.ShouldClose(position(10000, 10100), 10100, 0, MarketState{Status: models.MarketCloseImminent})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonEndOfDay, d.Reason)
}

func TestOvernightHoldEscapesForcedLiquidation(t *testing.T) {
	cfg := testRiskConfig()
	cfg.OvernightHold = true
	e := NewEngine(cfg)

	// +3% profit, calm market: allowed to hold.
	d := e.ShouldClose(position(10000, 10300), 10300, 0, MarketState{Status: models.MarketCloseImminent})
	assert.False(t, d.Close)

	// Profit below the overnight minimum: liquidate.
	d = e.ShouldClose(position(10000, 10150), 10100, 0, MarketState{Status: models.MarketCloseImminent})
	assert.True(t, d.Close)
	assert.Equal(t, ReasonEndOfDay, d.Reason)

	// Volatile market: liquidate even in profit.
	d = e.ShouldClose(position(10000, 10300), 10300, 0, MarketState{Status: models.MarketCloseImminent, Volatile: true})
	assert.True(t, d.Close)
}

func TestPositionSize(t *testing.T) {
	e := NewEngine(testRiskConfig())

	// Risk 2% of 10M = 200,000; per-share risk at 10,000 with 2.5% stop
	// is 250 -> 800 shares by risk. Cap 1M / 10,000 = 100 shares wins.
	assert.Equal(t, 100, e.PositionSize(10000, 10_000_000))

	// Small account: risk budget binds before the cap.
	// Risk 2% of 500,000 = 10,000; per-share risk 250 -> 40 shares.
	assert.Equal(t, 40, e.PositionSize(10000, 500_000))

	// Degenerate inputs.
	assert.Zero(t, e.PositionSize(0, 10_000_000))
	assert.Zero(t, e.PositionSize(10000, 0))
}

func TestCheckConcentration(t *testing.T) {
	e := NewEngine(testRiskConfig())

	// 20% of 10M = 2M cap. 1.5M held + 1M more breaches it.
	err := e.CheckConcentration(1_500_000, 1_000_000, 10_000_000)
	require.Error(t, err)
	var re *apperrors.RiskError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "concentration", re.Rule)
	assert.Equal(t, 2_000_000.0, re.Limit)

	// 1.5M + 0.4M stays inside.
	assert.NoError(t, e.CheckConcentration(1_500_000, 400_000, 10_000_000))
}

func TestCheckMaxPositions(t *testing.T) {
	e := NewEngine(testRiskConfig())

	assert.NoError(t, e.CheckMaxPositions(4))
	err := e.CheckMaxPositions(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMaxPositions)
}

func TestCheckDailyLoss(t *testing.T) {
	e := NewEngine(testRiskConfig())

	// 600,000 realized loss on a 10M baseline is -6%: trip.
	err := e.CheckDailyLoss(-600_000, 10_000_000)
	require.Error(t, err)
	var re *apperrors.RiskError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "daily_loss_limit", re.Rule)

	// -4% realized: within the limit.
	assert.NoError(t, e.CheckDailyLoss(-400_000, 10_000_000))

	// No baseline captured yet: never trip.
	assert.NoError(t, e.CheckDailyLoss(-900_000, 0))
}
