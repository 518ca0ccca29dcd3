// Package risk implements the position risk policy engine. Every check is
// a pure function of its inputs so policy decisions are reproducible and
// testable without a broker.
package risk

import (
	"fmt"
	"math"

	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
)

// Close reasons, recorded on journal events and logs.
const (
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonEndOfDay     = "END_OF_DAY"
)

// Decision is the outcome of a close evaluation.
type Decision struct {
	Close  bool
	Reason string
	Detail string
}

// Engine evaluates risk policy. The configuration is fixed for the life
// of the engine; per-tick state (prices, balances) arrives as arguments.
type Engine struct {
	cfg config.RiskConfig
}

// NewEngine creates a risk engine with the given policy.
func NewEngine(cfg config.RiskConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the active policy.
func (e *Engine) Config() config.RiskConfig { return e.cfg }

// PositionSize returns the quantity to buy for a new position. Sizing is
// risk-based: the amount lost if the stop fires equals RiskPercent of
// total assets, capped by the absolute per-position limit. Returns zero
// when the price cannot support a single share within the caps.
func (e *Engine) PositionSize(price, totalAssets float64) int {
	if price <= 0 || totalAssets <= 0 || e.cfg.StopLossPercent <= 0 {
		return 0
	}

	riskAmount := totalAssets * e.cfg.RiskPercent / 100
	perShareRisk := price * e.cfg.StopLossPercent / 100
	byRisk := riskAmount / perShareRisk
	byCap := e.cfg.MaxPositionSize / price

	qty := int(math.Floor(math.Min(byRisk, byCap)))
	if qty < 0 {
		return 0
	}
	return qty
}

// CheckConcentration rejects a buy that would push a single stock past
// its share of total assets. existing is the amount already invested in
// the stock, amount is the proposed additional purchase.
func (e *Engine) CheckConcentration(existing, amount, totalAssets float64) error {
	if totalAssets <= 0 {
		return nil
	}
	maxAmount := totalAssets * e.cfg.MaxSingleStockRatio
	if existing+amount > maxAmount {
		return &apperrors.RiskError{
			Rule:    "concentration",
			Current: existing + amount,
			Limit:   maxAmount,
			Message: fmt.Sprintf("would hold %.0f of one stock, limit %.0f", existing+amount, maxAmount),
		}
	}
	return nil
}

// CheckMaxPositions rejects a new position when the ledger is full.
func (e *Engine) CheckMaxPositions(open int) error {
	if open >= e.cfg.MaxPositions {
		return apperrors.Wrapf(apperrors.ErrMaxPositions, "%d open, limit %d", open, e.cfg.MaxPositions)
	}
	return nil
}

// CheckDailyLoss trips the circuit breaker when the day's realized P&L,
// accumulated from confirmed exits, has fallen past the daily limit
// relative to the session-open baseline. Unrealized drawdown never trips
// it, and unrealized gains never mask realized losses. A baseline of
// zero or less means the baseline was never captured, which must not
// trip the breaker.
func (e *Engine) CheckDailyLoss(dailyPnL, baseline float64) error {
	if baseline <= 0 {
		return nil
	}
	lossPct := dailyPnL / baseline * 100
	if lossPct <= e.cfg.DailyLossLimit {
		return &apperrors.RiskError{
			Rule:    "daily_loss_limit",
			Current: lossPct,
			Limit:   e.cfg.DailyLossLimit,
			Message: fmt.Sprintf("realized %.0f (%.2f%%) on the day, limit %.2f%%", dailyPnL, lossPct, e.cfg.DailyLossLimit),
		}
	}
	return nil
}

// MarketState carries the per-tick market context a close decision needs.
type MarketState struct {
	Status   models.MarketStatus
	Volatile bool
}

// ShouldClose evaluates exit rules for one position at the current price.
// Rules are checked in priority order: stop-loss, take-profit, trailing
// stop, end-of-day liquidation. maPrice is the medium moving average used
// as a trend stop; zero disables it.
func (e *Engine) ShouldClose(pos *models.Position, current, maPrice float64, market MarketState) Decision {
	pnlPct := pos.PnLPercent(current)

	if pnlPct <= -e.cfg.StopLossPercent {
		return Decision{Close: true, Reason: ReasonStopLoss,
			Detail: fmt.Sprintf("pnl %.2f%% breached -%.2f%%", pnlPct, e.cfg.StopLossPercent)}
	}
	if maPrice > 0 && current < maPrice {
		return Decision{Close: true, Reason: ReasonStopLoss,
			Detail: fmt.Sprintf("price %.0f below trend average %.0f", current, maPrice)}
	}

	if pnlPct >= e.cfg.TakeProfitPercent {
		return Decision{Close: true, Reason: ReasonTakeProfit,
			Detail: fmt.Sprintf("pnl %.2f%% reached %.2f%%", pnlPct, e.cfg.TakeProfitPercent)}
	}

	if e.cfg.TrailingStop {
		if d, ok := e.trailingStop(pos, current); ok {
			return d
		}
	}

	if market.Status == models.MarketCloseImminent && !e.holdOvernight(pnlPct, market) {
		return Decision{Close: true, Reason: ReasonEndOfDay,
			Detail: "forced liquidation before close"}
	}

	return Decision{}
}

// trailingStop fires when price has pulled back from the position high by
// the trailing percentage. It only fires in profit: below the entry the
// fixed stop-loss owns the exit.
func (e *Engine) trailingStop(pos *models.Position, current float64) (Decision, bool) {
	if pos.HighestPrice <= 0 {
		return Decision{}, false
	}
	stopPrice := pos.HighestPrice * (1 - e.cfg.TrailingStopPercent/100)
	if current <= stopPrice && current > pos.EntryPrice {
		return Decision{Close: true, Reason: ReasonTrailingStop,
			Detail: fmt.Sprintf("price %.0f fell to trail %.0f from high %.0f", current, stopPrice, pos.HighestPrice)}, true
	}
	return Decision{}, false
}

// holdOvernight reports whether a position may ride through the close:
// holding must be enabled, the position comfortably in profit, and the
// market calm.
func (e *Engine) holdOvernight(pnlPct float64, market MarketState) bool {
	return e.cfg.OvernightHold && pnlPct >= e.cfg.OvernightMinProfit && !market.Volatile
}
