package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
)

// DefaultPaperCash is the starting cash for an offline paper account.
const DefaultPaperCash = 10_000_000

// PaperBroker simulates the account side of a brokerage in memory while
// delegating market data to a real data source. Orders fill instantly at
// the current quote, so it exercises the full submit/confirm path without
// touching a remote account. Useful for dry runs outside market hours and
// for wiring tests.
type PaperBroker struct {
	data   Broker // market data only
	logger zerolog.Logger

	mu       sync.Mutex
	cash     float64
	holdings map[string]*models.RemotePosition
	orderSeq int
}

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(data Broker, cash float64, logger zerolog.Logger) *PaperBroker {
	if cash <= 0 {
		cash = DefaultPaperCash
	}
	return &PaperBroker{
		data:     data,
		logger:   logger,
		cash:     cash,
		holdings: make(map[string]*models.RemotePosition),
	}
}

func (b *PaperBroker) Authenticate(ctx context.Context) error {
	return b.data.Authenticate(ctx)
}

func (b *PaperBroker) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	return b.data.GetQuote(ctx, code)
}

func (b *PaperBroker) GetHistorical(ctx context.Context, code string, days int) ([]models.Candle, error) {
	return b.data.GetHistorical(ctx, code, days)
}

func (b *PaperBroker) GetTopVolume(ctx context.Context, count int) ([]models.Quote, error) {
	return b.data.GetTopVolume(ctx, count)
}

func (b *PaperBroker) GetPositions(ctx context.Context) ([]models.RemotePosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]models.RemotePosition, 0, len(b.holdings))
	for _, h := range b.holdings {
		positions = append(positions, *h)
	}
	return positions, nil
}

func (b *PaperBroker) GetBalance(ctx context.Context) (*models.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stockEval, pnl float64
	for _, h := range b.holdings {
		stockEval += h.CurrentPrice * float64(h.Quantity)
		pnl += h.PnL
	}
	return &models.Balance{
		AvailableCash:   b.cash,
		TotalAssets:     b.cash + stockEval,
		StockEvalAmount: stockEval,
		ProfitLoss:      pnl,
	}, nil
}

// PlaceOrder fills the order immediately at the current quote.
func (b *PaperBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	price := req.Price
	if req.IsMarket() {
		quote, err := b.data.GetQuote(ctx, req.Code)
		if err != nil {
			return nil, apperrors.Wrapf(err, "paper fill %s", req.Code)
		}
		price = quote.Price
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch req.Side {
	case models.OrderSideBuy:
		cost := price * float64(req.Quantity)
		if cost > b.cash {
			return &models.OrderResult{
				Success: false,
				Message: fmt.Sprintf("insufficient cash: need %.0f, have %.0f", cost, b.cash),
			}, nil
		}
		b.cash -= cost
		b.addHolding(req, price)

	case models.OrderSideSell:
		h, ok := b.holdings[req.Code]
		if !ok || h.Quantity < req.Quantity {
			return &models.OrderResult{
				Success: false,
				Message: fmt.Sprintf("insufficient holdings of %s", req.Code),
			}, nil
		}
		b.cash += price * float64(req.Quantity)
		h.Quantity -= req.Quantity
		if h.Quantity == 0 {
			delete(b.holdings, req.Code)
		}

	default:
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown order side %q", req.Side)
	}

	b.orderSeq++
	ref := fmt.Sprintf("PAPER-%06d", b.orderSeq)
	b.logger.Debug().
		Str("code", req.Code).
		Str("side", string(req.Side)).
		Int("quantity", req.Quantity).
		Float64("price", price).
		Str("order_ref", ref).
		Msg("paper order filled")

	return &models.OrderResult{Success: true, OrderRef: ref, Message: "filled"}, nil
}

func (b *PaperBroker) addHolding(req models.OrderRequest, price float64) {
	h, ok := b.holdings[req.Code]
	if !ok {
		b.holdings[req.Code] = &models.RemotePosition{
			Code:         req.Code,
			Name:         req.Name,
			Quantity:     req.Quantity,
			AvgPrice:     price,
			CurrentPrice: price,
		}
		return
	}
	total := float64(h.Quantity)*h.AvgPrice + float64(req.Quantity)*price
	h.Quantity += req.Quantity
	h.AvgPrice = total / float64(h.Quantity)
	h.CurrentPrice = price
}

// MarkPrice updates the mark price used for valuation of a paper holding.
func (b *PaperBroker) MarkPrice(code string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.holdings[code]
	if !ok {
		return
	}
	h.CurrentPrice = price
	h.PnL = (price - h.AvgPrice) * float64(h.Quantity)
	if h.AvgPrice > 0 {
		h.PnLPercent = (price - h.AvgPrice) / h.AvgPrice * 100
	}
}
