// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"

	"kis-trader/internal/models"
)

// Broker defines the capability set the trading engine needs from a
// brokerage. One interface, one implementation per broker: new brokers
// are new variants, not subclasses with overridden partial behavior.
type Broker interface {
	// Authentication
	Authenticate(ctx context.Context) error

	// Market data
	GetQuote(ctx context.Context, code string) (*models.Quote, error)
	GetHistorical(ctx context.Context, code string, days int) ([]models.Candle, error)
	GetTopVolume(ctx context.Context, count int) ([]models.Quote, error)

	// Account. GetPositions returns an error distinct from an empty
	// slice when the remote query itself fails.
	GetPositions(ctx context.Context) ([]models.RemotePosition, error)
	GetBalance(ctx context.Context) (*models.Balance, error)

	// Orders
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
}

// Ticker streams real-time execution notices and price updates.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(codes []string) error
	Unsubscribe(codes []string) error
	OnPrice(handler func(code string, price float64))
	OnError(handler func(error))
}
