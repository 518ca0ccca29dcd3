package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/broker"
	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/logging"
	"kis-trader/internal/models"
)

// EventSink receives trade lifecycle events for journaling and reporting.
type EventSink interface {
	Record(event models.TradeEvent) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(models.TradeEvent) error { return nil }

// Executor submits orders and confirms fills against remote holdings.
//
// Submission alone proves nothing: an accepted order can sit unfilled or
// partially filled. A buy only becomes a ledger position once the stock
// shows up in remote holdings, and the remote-reported fill price and
// quantity are what the position records, never the requested values.
type Executor struct {
	broker  broker.Broker
	ledger  *Ledger
	events  EventSink
	cfg     config.LoopConfig
	logger  zerolog.Logger
	now     func() time.Time
	sleeper func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[string]bool
}

// NewExecutor creates an executor over the given broker and ledger.
func NewExecutor(b broker.Broker, ledger *Ledger, events EventSink, cfg config.LoopConfig, logger zerolog.Logger) *Executor {
	if events == nil {
		events = NopSink{}
	}
	return &Executor{
		broker:   b,
		ledger:   ledger,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleeper:  sleepCtx,
		inflight: make(map[string]bool),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// acquire marks the code in-flight, rejecting overlap: one order per
// symbol at a time keeps confirmation unambiguous.
func (e *Executor) acquire(code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[code] {
		return apperrors.Wrapf(apperrors.ErrOrderInFlight, "code %s", code)
	}
	e.inflight[code] = true
	return nil
}

func (e *Executor) release(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, code)
}

// OpenPosition submits a market buy and waits for the fill to appear in
// remote holdings. On confirmation the position enters the ledger with
// the remote fill price and quantity. On timeout the order is recorded
// unconfirmed and ErrOrderUnconfirmed returned: reconciliation will adopt
// the position if it filled after the window.
func (e *Executor) OpenPosition(ctx context.Context, code, name string, quantity int) (*models.Position, error) {
	if err := e.acquire(code); err != nil {
		return nil, err
	}
	defer e.release(code)

	if e.ledger.Has(code) {
		return nil, apperrors.Wrapf(apperrors.ErrOrderInFlight, "already holding %s", code)
	}

	result, err := e.broker.PlaceOrder(ctx, models.OrderRequest{
		Code:     code,
		Name:     name,
		Side:     models.OrderSideBuy,
		Quantity: quantity,
	})
	if err != nil {
		return nil, apperrors.Wrapf(err, "buy %s", code)
	}
	if !result.Success {
		e.record(models.TradeEvent{
			Type: models.EventRejected, Code: code, Name: name,
			Side: models.OrderSideBuy, Quantity: quantity, Reason: result.Message,
		})
		return nil, &apperrors.OrderError{
			Code: code, Action: "buy", Reason: result.Message,
			Err: apperrors.ErrInsufficientFunds,
		}
	}

	e.record(models.TradeEvent{
		Type: models.EventSubmitted, Code: code, Name: name,
		Side: models.OrderSideBuy, Quantity: quantity, OrderRef: result.OrderRef,
	})

	remote, err := e.awaitFill(ctx, code)
	if err != nil {
		e.record(models.TradeEvent{
			Type: models.EventUnconfirmed, Code: code, Name: name,
			Side: models.OrderSideBuy, Quantity: quantity, OrderRef: result.OrderRef,
			Reason: "fill not visible within confirmation window",
		})
		logging.LogSkip(e.logger, code, "confirm buy", err)
		return nil, apperrors.Wrapf(apperrors.ErrOrderUnconfirmed, "buy %s order %s", code, result.OrderRef)
	}

	pos := models.Position{
		Code:         code,
		Name:         name,
		EntryPrice:   remote.AvgPrice,
		Quantity:     remote.Quantity,
		HighestPrice: remote.AvgPrice,
		EntryTime:    e.now(),
		OrderRef:     result.OrderRef,
		State:        models.PositionConfirmed,
	}
	e.ledger.Put(pos)

	e.record(models.TradeEvent{
		Type: models.EventConfirmed, Code: code, Name: name,
		Side: models.OrderSideBuy, Quantity: remote.Quantity,
		Price: remote.AvgPrice, OrderRef: result.OrderRef,
	})
	e.logger.Info().
		Str("code", code).
		Int("quantity", remote.Quantity).
		Float64("fill_price", remote.AvgPrice).
		Str("order_ref", result.OrderRef).
		Msg("position opened")
	return &pos, nil
}

// ClosePosition submits a market sell for the full ledger quantity and
// waits for the holding to leave remote positions. exitPrice is the last
// observed price; the realized P&L against it is journaled and returned
// so the caller can feed the daily loss accumulator.
func (e *Executor) ClosePosition(ctx context.Context, code string, exitPrice float64, reason string) (float64, error) {
	pos, ok := e.ledger.Get(code)
	if !ok {
		return 0, apperrors.Wrapf(apperrors.ErrPositionNotFound, "close %s", code)
	}
	if err := e.acquire(code); err != nil {
		return 0, err
	}
	defer e.release(code)

	if err := e.ledger.SetState(code, models.PositionClosing); err != nil {
		return 0, err
	}

	result, err := e.broker.PlaceOrder(ctx, models.OrderRequest{
		Code:     code,
		Name:     pos.Name,
		Side:     models.OrderSideSell,
		Quantity: pos.Quantity,
	})
	if err != nil {
		// Submission itself failed: the position is still ours.
		_ = e.ledger.SetState(code, models.PositionConfirmed)
		return 0, apperrors.Wrapf(err, "sell %s", code)
	}
	if !result.Success {
		_ = e.ledger.SetState(code, models.PositionConfirmed)
		e.record(models.TradeEvent{
			Type: models.EventRejected, Code: code, Name: pos.Name,
			Side: models.OrderSideSell, Quantity: pos.Quantity, Reason: result.Message,
		})
		return 0, &apperrors.OrderError{Code: code, Action: "sell", Reason: result.Message}
	}

	e.record(models.TradeEvent{
		Type: models.EventSubmitted, Code: code, Name: pos.Name,
		Side: models.OrderSideSell, Quantity: pos.Quantity, OrderRef: result.OrderRef,
	})

	if err := e.awaitExit(ctx, code); err != nil {
		// Still visible remotely: leave the position in CLOSING so the
		// next reconciliation settles it.
		e.record(models.TradeEvent{
			Type: models.EventUnconfirmed, Code: code, Name: pos.Name,
			Side: models.OrderSideSell, Quantity: pos.Quantity, OrderRef: result.OrderRef,
			Reason: "exit not visible within confirmation window",
		})
		return 0, apperrors.Wrapf(apperrors.ErrOrderUnconfirmed, "sell %s order %s", code, result.OrderRef)
	}

	e.ledger.Remove(code)

	pnl := (exitPrice - pos.EntryPrice) * float64(pos.Quantity)
	e.record(models.TradeEvent{
		Type: models.EventClosed, Code: code, Name: pos.Name,
		Side: models.OrderSideSell, Quantity: pos.Quantity,
		Price: exitPrice, PnL: pnl, PnLPct: pos.PnLPercent(exitPrice),
		OrderRef: result.OrderRef, Reason: reason,
	})
	e.logger.Info().
		Str("code", code).
		Str("reason", reason).
		Float64("pnl", pnl).
		Float64("pnl_pct", pos.PnLPercent(exitPrice)).
		Msg("position closed")
	return pnl, nil
}

// awaitFill polls remote holdings until the code appears or the
// confirmation window expires.
func (e *Executor) awaitFill(ctx context.Context, code string) (*models.RemotePosition, error) {
	deadline := e.now().Add(e.cfg.ConfirmTimeout)
	for {
		remote, err := e.broker.GetPositions(ctx)
		if err == nil {
			for i := range remote {
				if remote[i].Code == code && remote[i].Quantity > 0 {
					return &remote[i], nil
				}
			}
		} else {
			e.logger.Warn().Str("code", code).Err(err).Msg("confirmation poll failed")
		}

		if !e.now().Before(deadline) {
			return nil, apperrors.ErrOrderUnconfirmed
		}
		if err := e.sleeper(ctx, e.cfg.ConfirmInterval); err != nil {
			return nil, err
		}
	}
}

// awaitExit polls remote holdings until the code disappears or the
// confirmation window expires.
func (e *Executor) awaitExit(ctx context.Context, code string) error {
	deadline := e.now().Add(e.cfg.ConfirmTimeout)
	for {
		remote, err := e.broker.GetPositions(ctx)
		if err == nil {
			gone := true
			for i := range remote {
				if remote[i].Code == code && remote[i].Quantity > 0 {
					gone = false
					break
				}
			}
			if gone {
				return nil
			}
		} else {
			e.logger.Warn().Str("code", code).Err(err).Msg("confirmation poll failed")
		}

		if !e.now().Before(deadline) {
			return apperrors.ErrOrderUnconfirmed
		}
		if err := e.sleeper(ctx, e.cfg.ConfirmInterval); err != nil {
			return err
		}
	}
}

func (e *Executor) record(event models.TradeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if err := e.events.Record(event); err != nil {
		e.logger.Error().Err(err).Str("code", event.Code).Str("type", string(event.Type)).Msg("journal write failed")
	}
	logging.LogOrder(e.logger, event)
}
