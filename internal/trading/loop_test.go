package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kis-trader/internal/config"
	"kis-trader/internal/models"
	"kis-trader/internal/risk"
	"kis-trader/pkg/utils"
)

type fakeSource struct {
	candidates []models.Candidate
	err        error
	calls      int
}

func (f *fakeSource) Select(ctx context.Context) ([]models.Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

func testControllerConfig() config.Config {
	return config.Config{
		Mode: config.ModeSimulation,
		Risk: config.RiskConfig{
			StopLossPercent:     2.5,
			TakeProfitPercent:   5.0,
			TrailingStop:        true,
			TrailingStopPercent: 1.5,
			RiskPercent:         2.0,
			MaxPositionSize:     1_000_000,
			MaxPositions:        5,
			DailyLossLimit:      -5.0,
			MaxSingleStockRatio: 0.2,
		},
		Selector: config.SelectorConfig{
			ShortMAPeriod:  5,
			MediumMAPeriod: 20,
			MaxBuysPerTick: 3,
		},
		Market: config.MarketConfig{OpenTime: "09:00", CloseTime: "15:30", ForceCloseTime: "15:20"},
		Loop:   testLoopConfig(),
	}
}

// mondayAt returns a weekday session instant in exchange-local time.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2026, 9, 7, hour, minute, 0, 0, utils.KoreaLocation)
}

func newTestController(b *fakeBroker, source CandidateSource) (*Controller, *Ledger) {
	cfg := testControllerConfig()
	ledger := NewLedger()
	executor := NewExecutor(b, ledger, nil, cfg.Loop, zerolog.Nop())
	reconciler := NewReconciler(b, ledger, nil, cfg.Risk, zerolog.Nop())
	c := NewController(b, ledger, executor, reconciler, risk.NewEngine(cfg.Risk), source, cfg, zerolog.Nop())
	c.now = func() time.Time { return mondayAt(10, 0) }
	return c, ledger
}

func TestTickDoesNothingWhileClosed(t *testing.T) {
	b := newFakeBroker()
	source := &fakeSource{}
	c, _ := newTestController(b, source)
	c.now = func() time.Time { return mondayAt(8, 0) } // before the open

	c.Tick(context.Background())
	assert.Zero(t, source.calls)
	assert.Empty(t, b.placed)
}

func TestTickOpensPositionFromCandidate(t *testing.T) {
	b := newFakeBroker()
	b.placeFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		b.setRemote(models.RemotePosition{Code: req.Code, Name: req.Name, Quantity: req.Quantity, AvgPrice: 10000})
		return &models.OrderResult{Success: true, OrderRef: "ORD-1"}, nil
	}
	source := &fakeSource{candidates: []models.Candidate{
		{Code: "005930", Name: "삼성전자", Price: 10000, Score: 8},
	}}

	c, ledger := newTestController(b, source)
	c.Tick(context.Background())

	require.True(t, ledger.Has("005930"))
	pos, _ := ledger.Get("005930")
	// Cap 1M / 10,000 = 100 shares.
	assert.Equal(t, 100, pos.Quantity)
}

func TestTickRespectsMaxBuysPerTick(t *testing.T) {
	b := newFakeBroker()
	b.balance = models.Balance{AvailableCash: 100_000_000, TotalAssets: 100_000_000}
	b.placeFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		b.mu.Lock()
		remote := append([]models.RemotePosition{}, b.remote...)
		b.mu.Unlock()
		remote = append(remote, models.RemotePosition{Code: req.Code, Quantity: req.Quantity, AvgPrice: 10000})
		b.setRemote(remote...)
		return &models.OrderResult{Success: true, OrderRef: "ORD"}, nil
	}
	source := &fakeSource{candidates: []models.Candidate{
		{Code: "A1", Price: 10000, Score: 9},
		{Code: "A2", Price: 10000, Score: 8},
		{Code: "A3", Price: 10000, Score: 7},
		{Code: "A4", Price: 10000, Score: 6},
	}}

	c, ledger := newTestController(b, source)
	c.Tick(context.Background())

	assert.Equal(t, 3, ledger.Count())
	assert.False(t, ledger.Has("A4"))
}

func TestTickClosesOnStopLoss(t *testing.T) {
	b := newFakeBroker()
	source := &fakeSource{}
	c, ledger := newTestController(b, source)

	ledger.Put(models.Position{
		Code: "005930", EntryPrice: 10000, Quantity: 10,
		HighestPrice: 10000, State: models.PositionConfirmed,
	})
	b.setRemote(models.RemotePosition{Code: "005930", Quantity: 10, AvgPrice: 10000})
	b.quotes["005930"] = models.Quote{Code: "005930", Price: 9700}
	b.placeFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		if req.Side == models.OrderSideSell {
			b.setRemote()
		}
		return &models.OrderResult{Success: true, OrderRef: "ORD-S"}, nil
	}

	c.Tick(context.Background())
	assert.False(t, ledger.Has("005930"), "a -3%% position must be stopped out")
}

func TestTickForcedLiquidationBeforeClose(t *testing.T) {
	b := newFakeBroker()
	source := &fakeSource{candidates: []models.Candidate{{Code: "A1", Price: 10000, Score: 9}}}
	c, ledger := newTestController(b, source)
	c.now = func() time.Time { return mondayAt(15, 25) }

	ledger.Put(models.Position{
		Code: "005930", EntryPrice: 10000, Quantity: 10,
		HighestPrice: 10100, State: models.PositionConfirmed,
	})
	b.setRemote(models.RemotePosition{Code: "005930", Quantity: 10, AvgPrice: 10000})
	b.quotes["005930"] = models.Quote{Code: "005930", Price: 10050}
	b.placeFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		if req.Side == models.OrderSideSell {
			b.setRemote()
		}
		return &models.OrderResult{Success: true, OrderRef: "ORD-F"}, nil
	}

	c.Tick(context.Background())

	assert.False(t, ledger.Has("005930"), "positions liquidate in the close-imminent window")
	assert.Zero(t, source.calls, "no new entries in the close-imminent window")
}

func TestDailyLossBreakerHaltsEntriesButNotExits(t *testing.T) {
	b := newFakeBroker()
	source := &fakeSource{candidates: []models.Candidate{{Code: "A1", Price: 10000, Score: 9}}}
	c, ledger := newTestController(b, source)

	// A stop-out realizing -6% of the 10M baseline while the reported
	// account value never moves: the breaker keys off realized P&L, not
	// the equity snapshot.
	ledger.Put(models.Position{
		Code: "005930", EntryPrice: 10000, Quantity: 300,
		HighestPrice: 10000, State: models.PositionConfirmed,
	})
	b.setRemote(models.RemotePosition{Code: "005930", Quantity: 300, AvgPrice: 10000})
	b.quotes["005930"] = models.Quote{Code: "005930", Price: 8000}
	b.placeFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		if req.Side == models.OrderSideSell {
			b.setRemote()
		}
		return &models.OrderResult{Success: true, OrderRef: "ORD"}, nil
	}

	c.Tick(context.Background())

	require.Equal(t, 10_000_000.0, c.baseline)
	assert.False(t, ledger.Has("005930"))
	assert.Equal(t, -600_000.0, c.dailyPnL)
	assert.True(t, c.halted)
	assert.Zero(t, source.calls, "a loss realized this tick blocks entries on the same tick")

	// The breaker halts buys only: a second losing position still exits.
	ledger.Put(models.Position{
		Code: "000660", EntryPrice: 10000, Quantity: 10,
		HighestPrice: 10000, State: models.PositionConfirmed,
	})
	b.setRemote(models.RemotePosition{Code: "000660", Quantity: 10, AvgPrice: 10000})
	b.quotes["000660"] = models.Quote{Code: "000660", Price: 9700}

	c.Tick(context.Background())

	assert.False(t, ledger.Has("000660"), "exits keep running after the breaker trips")
	assert.Zero(t, source.calls)
}

func TestDailyLossBreakerIgnoresUnrealizedDrawdown(t *testing.T) {
	b := newFakeBroker()
	source := &fakeSource{}
	c, ledger := newTestController(b, source)

	c.Tick(context.Background())
	require.Equal(t, 10_000_000.0, c.baseline)

	// Equity collapses 6% but nothing was sold: no realized loss, no trip.
	b.mu.Lock()
	b.balance = models.Balance{AvailableCash: 9_400_000, TotalAssets: 9_400_000}
	b.mu.Unlock()
	ledger.Put(models.Position{
		Code: "005930", EntryPrice: 10000, Quantity: 10,
		HighestPrice: 10000, State: models.PositionConfirmed,
	})
	b.setRemote(models.RemotePosition{Code: "005930", Quantity: 10, AvgPrice: 10000})
	b.quotes["005930"] = models.Quote{Code: "005930", Price: 9800}

	c.Tick(context.Background())

	assert.False(t, c.halted, "unrealized drawdown must not trip the breaker")
	assert.True(t, ledger.Has("005930"))
}

func TestDayRolloverResetsBreaker(t *testing.T) {
	b := newFakeBroker()
	c, _ := newTestController(b, &fakeSource{})

	c.Tick(context.Background())
	c.halted = true
	c.dailyPnL = -600_000

	// Next trading day.
	c.now = func() time.Time { return mondayAt(10, 0).AddDate(0, 0, 1) }
	c.Tick(context.Background())

	assert.False(t, c.halted)
	assert.Zero(t, c.dailyPnL, "realized P&L accumulator resets with the day")
	assert.Equal(t, 10_000_000.0, c.baseline, "baseline recaptured for the new day")
}

func TestTickRetainsCashOnZeroReading(t *testing.T) {
	b := newFakeBroker()
	source := &fakeSource{}
	c, ledger := newTestController(b, source)

	// First tick records the 10M cash snapshot.
	c.Tick(context.Background())

	// The broker briefly reports zero cash with the account value intact.
	b.mu.Lock()
	b.balance = models.Balance{AvailableCash: 0, TotalAssets: 10_000_000}
	b.mu.Unlock()
	source.candidates = []models.Candidate{{Code: "005930", Name: "삼성전자", Price: 10000, Score: 8}}
	b.placeFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		b.setRemote(models.RemotePosition{Code: req.Code, Quantity: req.Quantity, AvgPrice: 10000})
		return &models.OrderResult{Success: true, OrderRef: "ORD-1"}, nil
	}

	c.Tick(context.Background())

	assert.True(t, ledger.Has("005930"), "a zero cash reading must not starve sizing")
}

func TestTickDebitsConfirmedFillCost(t *testing.T) {
	b := newFakeBroker()
	b.balance = models.Balance{AvailableCash: 1_200_000, TotalAssets: 10_000_000}
	b.placeFn = func(req models.OrderRequest) (*models.OrderResult, error) {
		qty := req.Quantity
		if req.Code == "A1" {
			qty = 20 // partial fill
		}
		b.mu.Lock()
		remote := append([]models.RemotePosition{}, b.remote...)
		b.mu.Unlock()
		remote = append(remote, models.RemotePosition{Code: req.Code, Quantity: qty, AvgPrice: 10000})
		b.setRemote(remote...)
		return &models.OrderResult{Success: true, OrderRef: "ORD"}, nil
	}
	source := &fakeSource{candidates: []models.Candidate{
		{Code: "A1", Price: 10000, Score: 9},
		{Code: "A2", Price: 10000, Score: 8},
	}}

	c, ledger := newTestController(b, source)
	c.Tick(context.Background())

	// A1 requested 100 shares but filled 20, so only 200,000 left the
	// account and A2 still affords its full 100 shares.
	a2, ok := ledger.Get("A2")
	require.True(t, ok)
	assert.Equal(t, 100, a2.Quantity)
}

func TestTickSkipsHeldCandidates(t *testing.T) {
	b := newFakeBroker()
	source := &fakeSource{candidates: []models.Candidate{{Code: "005930", Price: 10000, Score: 9}}}
	c, ledger := newTestController(b, source)

	ledger.Put(models.Position{
		Code: "005930", EntryPrice: 10000, Quantity: 10,
		HighestPrice: 10000, State: models.PositionConfirmed,
	})
	b.setRemote(models.RemotePosition{Code: "005930", Quantity: 10, AvgPrice: 10000})
	b.quotes["005930"] = models.Quote{Code: "005930", Price: 10100}

	c.Tick(context.Background())

	// No buy order was placed for the already-held code.
	for _, req := range b.placed {
		assert.NotEqual(t, models.OrderSideBuy, req.Side)
	}
}
