package trading

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/broker"
	"kis-trader/internal/config"
	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
)

// Reconciler aligns the ledger with remote holdings. Remote state is
// authoritative: holdings we don't know about get adopted, ledger entries
// the broker no longer reports get settled or dropped. Running it twice
// in a row is a no-op the second time.
type Reconciler struct {
	broker       broker.Broker
	ledger       *Ledger
	events       EventSink
	maxPositions int
	logger       zerolog.Logger
	now          func() time.Time
}

// NewReconciler creates a reconciler over the given broker and ledger.
func NewReconciler(b broker.Broker, ledger *Ledger, events EventSink, cfg config.RiskConfig, logger zerolog.Logger) *Reconciler {
	if events == nil {
		events = NopSink{}
	}
	return &Reconciler{
		broker:       b,
		ledger:       ledger,
		events:       events,
		maxPositions: cfg.MaxPositions,
		logger:       logger,
		now:          time.Now,
	}
}

// Reconcile fetches remote holdings and applies the differences. A failed
// remote query aborts without touching the ledger: acting on a snapshot
// we couldn't take would drop real positions.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	remote, err := r.broker.GetPositions(ctx)
	if err != nil {
		return apperrors.Wrap(err, "reconcile: remote holdings")
	}

	if len(remote) == 0 && r.ledger.Count() > 0 && r.suspectSnapshot(ctx) {
		r.logger.Warn().Msg("reconcile: empty holdings with zero account value, keeping ledger")
		return nil
	}

	byCode := make(map[string]models.RemotePosition, len(remote))
	for _, rp := range remote {
		byCode[rp.Code] = rp
	}

	r.adoptUnknown(byCode)
	r.settleMissing(byCode)

	// Adoption tracks remote truth even past the position limit; entries
	// stay blocked until exits bring the count back under it.
	if r.maxPositions > 0 && r.ledger.Count() > r.maxPositions {
		r.logger.Warn().
			Int("count", r.ledger.Count()).
			Int("limit", r.maxPositions).
			Msg("reconcile: ledger over the position limit after adoption")
	}
	return nil
}

// suspectSnapshot reports whether an empty holdings list looks like a bad
// snapshot rather than a flat account. An account with no holdings and no
// cash at all usually means the query hit a transient gap.
func (r *Reconciler) suspectSnapshot(ctx context.Context) bool {
	bal, err := r.broker.GetBalance(ctx)
	if err != nil {
		return true
	}
	return bal.AvailableCash == 0 && bal.TotalAssets == 0
}

// adoptUnknown brings remote holdings the ledger doesn't track under
// management, and takes the remote quantity when it disagrees.
func (r *Reconciler) adoptUnknown(remote map[string]models.RemotePosition) {
	for code, rp := range remote {
		if pos, ok := r.ledger.Get(code); ok {
			if pos.Quantity != rp.Quantity {
				r.logger.Info().
					Str("code", code).
					Int("ledger_qty", pos.Quantity).
					Int("remote_qty", rp.Quantity).
					Msg("reconcile: quantity drift, remote wins")
				_ = r.ledger.SetQuantity(code, rp.Quantity)
			}
			continue
		}

		pos := models.Position{
			Code:         code,
			Name:         rp.Name,
			EntryPrice:   rp.AvgPrice,
			Quantity:     rp.Quantity,
			HighestPrice: math.Max(rp.AvgPrice, rp.CurrentPrice),
			EntryTime:    r.now(),
			OrderRef:     models.OrderRefSynced,
			State:        models.PositionConfirmed,
		}
		r.ledger.Put(pos)

		r.record(models.TradeEvent{
			Type: models.EventAdopted, Code: code, Name: rp.Name,
			Side: models.OrderSideBuy, Quantity: rp.Quantity, Price: rp.AvgPrice,
			OrderRef: models.OrderRefSynced, Reason: "adopted from remote holdings",
		})
		r.logger.Info().
			Str("code", code).
			Int("quantity", rp.Quantity).
			Float64("avg_price", rp.AvgPrice).
			Msg("reconcile: adopted remote holding")
	}
}

// settleMissing handles ledger positions the broker no longer reports. A
// position mid-close settled on its own; anything else vanished outside
// our control and is dropped with a warning.
func (r *Reconciler) settleMissing(remote map[string]models.RemotePosition) {
	for _, pos := range r.ledger.All() {
		if _, ok := remote[pos.Code]; ok {
			continue
		}
		r.ledger.Remove(pos.Code)

		if pos.State == models.PositionClosing {
			r.record(models.TradeEvent{
				Type: models.EventClosed, Code: pos.Code, Name: pos.Name,
				Side: models.OrderSideSell, Quantity: pos.Quantity,
				Price: pos.EntryPrice, OrderRef: pos.OrderRef,
				Reason: "exit settled after confirmation window",
			})
			r.logger.Info().Str("code", pos.Code).Msg("reconcile: pending exit settled")
			continue
		}

		r.record(models.TradeEvent{
			Type: models.EventDropped, Code: pos.Code, Name: pos.Name,
			Side: models.OrderSideSell, Quantity: pos.Quantity,
			OrderRef: pos.OrderRef, Reason: "missing from remote holdings",
		})
		r.logger.Warn().
			Str("code", pos.Code).
			Int("quantity", pos.Quantity).
			Msg("reconcile: position missing remotely, dropped from ledger")
	}
}

func (r *Reconciler) record(event models.TradeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if err := r.events.Record(event); err != nil {
		r.logger.Error().Err(err).Str("code", event.Code).Msg("journal write failed")
	}
}
