package trading

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/broker"
	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/indicators"
	"kis-trader/internal/models"
	"kis-trader/internal/risk"
	"kis-trader/pkg/utils"
)

// volatileDailyMove is the absolute daily change, in percent, past which
// a stock is treated as too volatile to hold overnight.
const volatileDailyMove = 5.0

// CandidateSource produces scored buy candidates. Implemented by the
// signals selector; faked in tests.
type CandidateSource interface {
	Select(ctx context.Context) ([]models.Candidate, error)
}

// Controller drives the trading session: on each tick it confirms the
// market is open, reconciles on schedule, evaluates exits for every open
// position, and opens new positions from the candidate source, all under
// the risk policy. A tripped daily loss limit halts new buys for the rest
// of the session but exits keep running.
type Controller struct {
	broker     broker.Broker
	ledger     *Ledger
	executor   *Executor
	reconciler *Reconciler
	risk       *risk.Engine
	source     CandidateSource
	clock      *utils.MarketClock
	cfg        config.Config
	logger     zerolog.Logger
	now        func() time.Time

	baseline      float64   // session-open equity for the daily loss limit
	baselineDay   time.Time // trading day the baseline belongs to
	dailyPnL      float64   // realized P&L from confirmed exits, today only
	halted        bool      // daily loss breaker tripped
	lastCash      float64   // last non-zero available-cash reading
	lastReconcile time.Time
}

// NewController wires the control loop.
func NewController(
	b broker.Broker,
	ledger *Ledger,
	executor *Executor,
	reconciler *Reconciler,
	riskEngine *risk.Engine,
	source CandidateSource,
	cfg config.Config,
	logger zerolog.Logger,
) *Controller {
	return &Controller{
		broker:     b,
		ledger:     ledger,
		executor:   executor,
		reconciler: reconciler,
		risk:       riskEngine,
		source:     source,
		clock:      utils.NewMarketClock(cfg.Market),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes ticks until the context is cancelled. The first tick runs
// immediately.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().
		Dur("tick_interval", c.cfg.Loop.TickInterval).
		Str("mode", string(c.cfg.Mode)).
		Msg("control loop started")

	ticker := time.NewTicker(c.cfg.Loop.TickInterval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one pass of the loop. Errors inside a tick are logged, not
// returned: one bad pass must not kill the session.
func (c *Controller) Tick(ctx context.Context) {
	now := c.now()
	c.rolloverDay(now)

	status := c.clock.Status(now)
	if status == models.MarketClosed {
		c.logger.Debug().Time("next_open", c.clock.NextOpen(now)).Msg("market closed")
		return
	}

	c.captureBaseline(ctx, now)
	c.maybeReconcile(ctx, now)
	c.manageExits(ctx, status)
	c.checkDailyLoss()

	if status == models.MarketOpen && !c.halted {
		c.enterPositions(ctx)
	}
}

// rolloverDay resets per-day state when the trading day changes.
func (c *Controller) rolloverDay(now time.Time) {
	if c.baselineDay.IsZero() || utils.SameTradingDay(c.baselineDay, now) {
		return
	}
	c.logger.Info().Msg("new trading day, resetting daily baseline and breaker")
	c.baseline = 0
	c.dailyPnL = 0
	c.halted = false
	c.baselineDay = time.Time{}
	c.lastReconcile = time.Time{} // force a reconcile on the first tick of the day
}

// captureBaseline records session-open equity once per trading day.
func (c *Controller) captureBaseline(ctx context.Context, now time.Time) {
	if c.baseline > 0 {
		return
	}
	bal, err := c.fetchBalance(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("baseline capture failed, retrying next tick")
		return
	}
	c.baseline = bal.TotalAssets
	c.baselineDay = now
	c.logger.Info().Float64("baseline", c.baseline).Msg("daily equity baseline captured")
}

// fetchBalance reads the account snapshot. A reported available cash of
// exactly zero never overwrites a prior non-zero reading: the balance
// endpoint occasionally returns a zero-cash row mid-settlement, and
// sizing entries off it would starve the session for no reason.
func (c *Controller) fetchBalance(ctx context.Context) (*models.Balance, error) {
	bal, err := c.broker.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	if bal.AvailableCash == 0 && c.lastCash > 0 {
		c.logger.Warn().Float64("retained_cash", c.lastCash).Msg("zero cash reading, keeping prior snapshot")
		bal.AvailableCash = c.lastCash
	} else {
		c.lastCash = bal.AvailableCash
	}
	return bal, nil
}

func (c *Controller) maybeReconcile(ctx context.Context, now time.Time) {
	if now.Sub(c.lastReconcile) < c.cfg.Loop.ReconcileInterval {
		return
	}
	if err := c.reconciler.Reconcile(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("reconciliation failed")
		return
	}
	c.lastReconcile = now
}

// checkDailyLoss trips the breaker when today's realized losses pass the
// daily limit. It runs after exit management so a loss realized this
// tick blocks entries on the same tick. The breaker stops new entries
// only; exits keep running. The accumulator is process-local and lost on
// restart.
func (c *Controller) checkDailyLoss() {
	if c.halted {
		return
	}
	if err := c.risk.CheckDailyLoss(c.dailyPnL, c.baseline); err != nil {
		c.halted = true
		c.logger.Error().Err(err).Msg("daily loss limit tripped, no new entries today")
	}
}

// manageExits evaluates the exit rules for every open position.
func (c *Controller) manageExits(ctx context.Context, status models.MarketStatus) {
	for _, pos := range c.ledger.All() {
		if pos.State == models.PositionClosing {
			continue // reconciliation owns pending exits
		}

		quote, err := c.broker.GetQuote(ctx, pos.Code)
		if err != nil {
			c.logger.Warn().Str("code", pos.Code).Err(err).Msg("quote failed, skipping exit check")
			continue
		}

		c.ledger.UpdateHighest(pos.Code, quote.Price)
		pos, _ = c.ledger.Get(pos.Code)

		decision := c.risk.ShouldClose(&pos, quote.Price, c.trendAverage(ctx, pos.Code), risk.MarketState{
			Status:   status,
			Volatile: math.Abs(quote.ChangePercent) >= volatileDailyMove,
		})
		if !decision.Close {
			continue
		}

		c.logger.Info().
			Str("code", pos.Code).
			Str("reason", decision.Reason).
			Str("detail", decision.Detail).
			Msg("exit triggered")
		pnl, err := c.executor.ClosePosition(ctx, pos.Code, quote.Price, decision.Reason)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrOrderUnconfirmed) {
				continue // stays CLOSING; reconciliation settles it
			}
			c.logger.Error().Str("code", pos.Code).Err(err).Msg("close failed")
			continue
		}
		c.dailyPnL += pnl
	}
}

// trendAverage returns the medium moving average for the trend stop, or
// zero when history is unavailable so the stop is skipped rather than
// firing on garbage.
func (c *Controller) trendAverage(ctx context.Context, code string) float64 {
	period := c.cfg.Selector.MediumMAPeriod
	candles, err := c.broker.GetHistorical(ctx, code, period+5)
	if err != nil {
		return 0
	}
	ma, err := indicators.SMA(indicators.Closes(candles), period)
	if err != nil {
		return 0
	}
	return ma[len(ma)-1]
}

// enterPositions opens positions from the candidate source, best score
// first, under the sizing and concentration rules.
func (c *Controller) enterPositions(ctx context.Context) {
	if err := c.risk.CheckMaxPositions(c.ledger.Count()); err != nil {
		return
	}

	candidates, err := c.source.Select(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("candidate scan failed")
		return
	}

	bal, err := c.fetchBalance(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("balance fetch failed, skipping entries")
		return
	}

	bought := 0
	for _, cand := range candidates {
		if bought >= c.cfg.Selector.MaxBuysPerTick {
			return
		}
		if err := c.risk.CheckMaxPositions(c.ledger.Count()); err != nil {
			return
		}
		if c.ledger.Has(cand.Code) {
			continue
		}

		qty := c.risk.PositionSize(cand.Price, bal.TotalAssets)
		if qty <= 0 {
			continue
		}
		cost := cand.Price * float64(qty)
		if cost > bal.AvailableCash {
			qty = int(bal.AvailableCash / cand.Price)
			if qty <= 0 {
				continue
			}
			cost = cand.Price * float64(qty)
		}
		if err := c.risk.CheckConcentration(c.ledger.InvestedIn(cand.Code), cost, bal.TotalAssets); err != nil {
			c.logger.Info().Str("code", cand.Code).Err(err).Msg("entry blocked by concentration rule")
			continue
		}

		pos, err := c.executor.OpenPosition(ctx, cand.Code, cand.Name, qty)
		if err != nil {
			c.logger.Warn().Str("code", cand.Code).Err(err).Msg("entry failed")
			continue
		}
		// Debit what actually filled, not what was requested.
		bal.AvailableCash -= pos.Invested()
		c.lastCash = bal.AvailableCash
		bought++
	}
}
