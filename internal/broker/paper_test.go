package broker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kis-trader/internal/models"
)

// quoteStub serves canned quotes and nothing else.
type quoteStub struct {
	Broker
	prices map[string]float64
}

func (s *quoteStub) Authenticate(ctx context.Context) error { return nil }

func (s *quoteStub) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	return &models.Quote{Code: code, Price: s.prices[code]}, nil
}

func newPaper(prices map[string]float64) *PaperBroker {
	return NewPaperBroker(&quoteStub{prices: prices}, 1_000_000, zerolog.Nop())
}

func TestPaperBuyThenSell(t *testing.T) {
	p := newPaper(map[string]float64{"005930": 70000})
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, models.OrderRequest{Code: "005930", Side: models.OrderSideBuy, Quantity: 10})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.OrderRef)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 300000.0, bal.AvailableCash)

	positions, err := p.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 10, positions[0].Quantity)
	assert.Equal(t, 70000.0, positions[0].AvgPrice)

	res, err = p.PlaceOrder(ctx, models.OrderRequest{Code: "005930", Side: models.OrderSideSell, Quantity: 10})
	require.NoError(t, err)
	require.True(t, res.Success)

	positions, err = p.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	bal, err = p.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, bal.AvailableCash)
}

func TestPaperInsufficientCash(t *testing.T) {
	p := newPaper(map[string]float64{"005930": 70000})

	res, err := p.PlaceOrder(context.Background(), models.OrderRequest{
		Code: "005930", Side: models.OrderSideBuy, Quantity: 100,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "insufficient cash")
}

func TestPaperSellWithoutHolding(t *testing.T) {
	p := newPaper(map[string]float64{"005930": 70000})

	res, err := p.PlaceOrder(context.Background(), models.OrderRequest{
		Code: "005930", Side: models.OrderSideSell, Quantity: 1,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPaperAveragesBuyPrice(t *testing.T) {
	p := newPaper(map[string]float64{"005930": 70000})
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, models.OrderRequest{Code: "005930", Side: models.OrderSideBuy, Quantity: 5})
	require.NoError(t, err)

	_, err = p.PlaceOrder(ctx, models.OrderRequest{Code: "005930", Side: models.OrderSideBuy, Quantity: 5, Price: 72000})
	require.NoError(t, err)

	positions, err := p.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 10, positions[0].Quantity)
	assert.Equal(t, 71000.0, positions[0].AvgPrice)
}

func TestPaperMarkPriceUpdatesValuation(t *testing.T) {
	p := newPaper(map[string]float64{"005930": 70000})
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, models.OrderRequest{Code: "005930", Side: models.OrderSideBuy, Quantity: 10})
	require.NoError(t, err)

	p.MarkPrice("005930", 71500)

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 715000.0, bal.StockEvalAmount)
	assert.Equal(t, 15000.0, bal.ProfitLoss)

	positions, err := p.GetPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.14, positions[0].PnLPercent, 0.01)
}
