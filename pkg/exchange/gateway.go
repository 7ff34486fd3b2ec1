// Package exchange abstracts a trading venue behind per-account REST and
// streaming access.
package exchange

import "context"

// Gateway abstracts a trading venue. Every call is scoped to one
// independently-authenticated account. A marketID of "" means "all markets"
// where the call supports it.
type Gateway interface {
	GetMarkets(ctx context.Context, accountID string) ([]Market, error)
	GetOpenOrders(ctx context.Context, accountID, marketID string) ([]Order, error)
	OpenOrder(ctx context.Context, accountID string, req OrderRequest) (Order, error)
	UpdateOrder(ctx context.Context, accountID string, req UpdateOrderRequest) (Order, error)
	CancelOrder(ctx context.Context, accountID, orderID, marketID string) (Order, error)
	CancelOrders(ctx context.Context, accountID, marketID string) ([]Order, error)
	GetOpenPositions(ctx context.Context, accountID string) ([]Position, error)
	ClosePosition(ctx context.Context, accountID, marketID string, side Side, amount float64) (Order, error)
	GetBalances(ctx context.Context, accountID string) (WalletSnapshot, error)
	GetTicker(ctx context.Context, accountID, marketID string) (TickerQuote, error)
	Subscribe(ctx context.Context, accountID string, topics []string, private bool) error
	Unsubscribe(ctx context.Context, accountID string, topics []string, private bool) error
}

// Streamer is implemented by gateways that deliver push updates.
type Streamer interface {
	Push() <-chan PushMessage
}
