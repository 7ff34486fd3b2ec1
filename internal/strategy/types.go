// Package strategy holds strategy configurations and drives the safety-order
// ladder state machine in response to periodic ticks and order fills.
package strategy

import (
	"context"
	"encoding/json"
	"sync"

	"mirror-core/pkg/exchange"
)

// Type selects the algorithm driving a strategy config.
type Type string

const (
	// TypeFibonacciMartingale is the compounding safety-order ladder.
	TypeFibonacciMartingale Type = "fibonacci_martingale"
)

// CurrencyMode selects whether order sizes are denominated in the quote
// currency or directly in base-asset units.
type CurrencyMode string

const (
	ModeQuote CurrencyMode = "QUOTE"
	ModeBase  CurrencyMode = "BASE"
)

// Fill records one buy fill accumulated since the strategy was last flat.
type Fill struct {
	OrderID  string
	MarketID string
	Side     exchange.Side
	Price    float64
	Qty      float64
}

// Config is the persistent state of one strategy instance. The engine mutates
// it as orders fill; algorithms treat it as input plus bookkeeping.
type Config struct {
	mu sync.Mutex

	ID        string
	AccountID string
	Type      Type
	MarketID  string
	Options   json.RawMessage

	// Live order ids owned by this strategy (base + safety ladder).
	Orders []string
	// Dedicated exit orders.
	TakeProfitOrderID string
	StopLossOrderID   string

	// Buy fills accumulated since last flat; cleared when the take-profit
	// fills. Used to recompute the weighted average entry.
	Fills []Fill
}

// Snapshot returns a copy safe to hand out without holding the lock.
func (c *Config) Snapshot() ConfigView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConfigView{
		ID:                c.ID,
		AccountID:         c.AccountID,
		Type:              c.Type,
		MarketID:          c.MarketID,
		Options:           c.Options,
		Orders:            append([]string(nil), c.Orders...),
		TakeProfitOrderID: c.TakeProfitOrderID,
		StopLossOrderID:   c.StopLossOrderID,
	}
}

// ConfigView is the read-only projection served by the API.
type ConfigView struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"accountId"`
	Type              Type            `json:"type"`
	MarketID          string          `json:"marketId"`
	Options           json.RawMessage `json:"options"`
	Orders            []string        `json:"orders"`
	TakeProfitOrderID string          `json:"takeProfitOrderId,omitempty"`
	StopLossOrderID   string          `json:"stopLossOrderId,omitempty"`
}

// Role tags a placed order with its function inside the ladder so the engine
// knows where to record the resulting order id.
type Role string

const (
	RoleBase       Role = "base"
	RoleSafety     Role = "safety"
	RoleTakeProfit Role = "take_profit"
	RoleStopLoss   Role = "stop_loss"
)

// PlaceAction asks the engine to place an order through the order cache.
type PlaceAction struct {
	Role Role
	Req  exchange.OrderRequest
}

// CancelAction asks the engine to cancel a live order. TolerateMissing makes
// an already-gone order count as success, which keeps the take-profit
// cancel-then-replace path idempotent.
type CancelAction struct {
	OrderID         string
	Role            Role
	TolerateMissing bool
}

// Action is a tagged union; exactly one field is set.
type Action struct {
	Place  *PlaceAction
	Cancel *CancelAction
}

// Env gives algorithms read access to live market data.
type Env interface {
	Price(ctx context.Context, accountID, marketID string) (float64, error)
}

// Algorithm is a stateless strategy variant. Process inspects the config (and
// the triggering fill, when any) and returns the orders to place or cancel;
// it performs no I/O beyond Env lookups.
type Algorithm interface {
	Type() Type
	Validate(cfg *Config) error
	Process(ctx context.Context, env Env, cfg *Config, fill *Fill) ([]Action, error)
}
