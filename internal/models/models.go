// Package models provides domain models for the trading application.
package models

import (
	"time"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// PositionState represents the lifecycle state of a position.
type PositionState string

const (
	// PositionPending is a buy submitted but not yet confirmed against
	// remote holdings. Pending positions are never stored in the ledger.
	PositionPending PositionState = "PENDING"
	// PositionConfirmed is a fill confirmed by the remote side.
	PositionConfirmed PositionState = "CONFIRMED"
	// PositionClosing is a sell submitted but not yet confirmed.
	PositionClosing PositionState = "CLOSING"
)

// OrderRefSynced marks a position adopted from remote holdings during
// reconciliation rather than opened by this process.
const OrderRefSynced = "SYNCED"

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen          MarketStatus = "OPEN"
	MarketClosed        MarketStatus = "CLOSED"
	MarketCloseImminent MarketStatus = "CLOSE_IMMINENT" // forced-liquidation window
)

// Quote represents a market quote.
type Quote struct {
	Code          string
	Name          string
	Price         float64
	Open          float64
	High          float64
	Low           float64
	Volume        int64
	ChangePercent float64
	Timestamp     time.Time
}

// Candle represents daily OHLCV data, most-recent last when in a series.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Position is an open holding tracked by the ledger.
//
// EntryPrice and Quantity always carry the remote-reported fill values,
// never the requested ones. HighestPrice starts at the fill price and is
// monotonically non-decreasing while the position is held.
type Position struct {
	Code         string
	Name         string
	EntryPrice   float64
	Quantity     int
	HighestPrice float64
	EntryTime    time.Time
	OrderRef     string
	State        PositionState
}

// Invested returns the entry cost of the position.
func (p *Position) Invested() float64 {
	return p.EntryPrice * float64(p.Quantity)
}

// PnLPercent returns the unrealized profit percentage at the given price.
func (p *Position) PnLPercent(current float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (current - p.EntryPrice) / p.EntryPrice * 100
}

// RemotePosition is a holding as reported by the broker.
type RemotePosition struct {
	Code         string
	Name         string
	Quantity     int
	AvgPrice     float64
	CurrentPrice float64
	PnL          float64
	PnLPercent   float64
}

// Balance is an account balance snapshot as reported by the broker.
type Balance struct {
	AvailableCash   float64
	TotalAssets     float64
	StockEvalAmount float64
	ProfitLoss      float64
}

// OrderRequest describes an order to be submitted.
// Price zero means market order.
type OrderRequest struct {
	Code     string
	Name     string
	Side     OrderSide
	Quantity int
	Price    float64
}

// IsMarket reports whether the request is a market order.
func (r OrderRequest) IsMarket() bool { return r.Price <= 0 }

// OrderResult is the remote outcome of an order submission.
type OrderResult struct {
	Success  bool
	OrderRef string
	Message  string
}

// Candidate is a scored buy signal produced by the signal source.
type Candidate struct {
	Code       string
	Name       string
	Price      float64
	Volume     int64
	Amount     float64
	ChangePct  float64
	Score      int
	Signals    map[string]bool
	SelectedAt time.Time
}

// TradeEventType classifies journal entries.
type TradeEventType string

const (
	EventSubmitted   TradeEventType = "SUBMITTED"
	EventConfirmed   TradeEventType = "CONFIRMED"
	EventUnconfirmed TradeEventType = "UNCONFIRMED"
	EventClosed      TradeEventType = "CLOSED"
	EventRejected    TradeEventType = "REJECTED"
	EventAdopted     TradeEventType = "ADOPTED"
	EventDropped     TradeEventType = "DROPPED"
)

// TradeEvent is a structured record emitted to the reporting sink.
type TradeEvent struct {
	ID        string         `csv:"id"`
	Timestamp time.Time      `csv:"timestamp"`
	Type      TradeEventType `csv:"type"`
	Code      string         `csv:"code"`
	Name      string         `csv:"name"`
	Side      OrderSide      `csv:"side"`
	Quantity  int            `csv:"quantity"`
	Price     float64        `csv:"price"`
	PnL       float64        `csv:"pnl"`
	PnLPct    float64        `csv:"pnl_pct"`
	OrderRef  string         `csv:"order_ref"`
	Reason    string         `csv:"reason"`
}
