// Package order maintains the per-account snapshot of open orders and routes
// order placement/cancellation to the exchange gateway.
package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mirror-core/internal/errs"
	"mirror-core/internal/events"
	"mirror-core/internal/registry"
	"mirror-core/pkg/exchange"
)

// Cache holds one open-order snapshot per tracked account. Refreshes suppress
// the bulk_updated event when the remote set is unchanged.
type Cache struct {
	gw        exchange.Gateway
	bus       *events.Bus
	log       *zap.Logger
	cooldown  time.Duration
	limit     int
	snapshots *registry.Map[[]exchange.Order]
}

// NewCache creates the order cache.
func NewCache(gw exchange.Gateway, bus *events.Bus, log *zap.Logger, cooldown time.Duration, limit int) *Cache {
	return &Cache{
		gw:        gw,
		bus:       bus,
		log:       log.Named("order"),
		cooldown:  cooldown,
		limit:     limit,
		snapshots: registry.New[[]exchange.Order](),
	}
}

// Track starts mirroring open orders for accountID. Idempotent.
func (c *Cache) Track(ctx context.Context, accountID string) error {
	if !c.snapshots.Track(accountID, nil) {
		return nil
	}
	if err := c.RefreshOne(ctx, accountID); err != nil {
		c.snapshots.Untrack(accountID)
		return err
	}
	return nil
}

// Untrack drops all order state for accountID. Idempotent.
func (c *Cache) Untrack(accountID string) {
	c.snapshots.Untrack(accountID)
}

// RefreshOne fetches the open orders, and only when the set changed replaces
// the snapshot and emits order.bulk_updated.
func (c *Cache) RefreshOne(ctx context.Context, accountID string) error {
	fresh, err := c.gw.GetOpenOrders(ctx, accountID, "")
	if err != nil {
		return errs.Upstream(accountID, "get open orders", err)
	}

	current, ok := c.snapshots.Get(accountID)
	if !ok {
		// Untracked while the fetch was in flight; discard.
		return nil
	}
	if sameOrders(current, fresh) {
		return nil
	}
	if !c.snapshots.Replace(accountID, fresh) {
		return nil
	}
	c.bus.Publish(events.TopicOrderBulkUpdated, events.AccountPayload{AccountID: accountID})
	return nil
}

// RefreshAll refreshes every tracked account concurrently and aggregates
// per-account failures.
func (c *Cache) RefreshAll(ctx context.Context) error {
	return registry.FanOut(ctx, "order refresh", c.snapshots.IDs(), c.limit, c.RefreshOne)
}

// Run drives the cooldown refresh loop until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cooldown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RefreshAll(ctx); err != nil {
				c.log.Warn("refresh cycle finished with failures", zap.Error(err))
			}
		}
	}
}

// OpenOrders returns the cached open orders, optionally filtered by market
// and/or side. Never triggers I/O.
func (c *Cache) OpenOrders(accountID, marketID string, side exchange.Side) ([]exchange.Order, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return nil, errs.NotTracked(accountID)
	}
	out := make([]exchange.Order, 0, len(snap))
	for _, o := range snap {
		if marketID != "" && o.MarketID != marketID {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// OrderByID returns one cached open order.
func (c *Cache) OrderByID(accountID, orderID string) (exchange.Order, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return exchange.Order{}, errs.NotTracked(accountID)
	}
	for _, o := range snap {
		if o.ID == orderID {
			return o, nil
		}
	}
	return exchange.Order{}, errs.NotFound("order", orderID)
}

// Symbols returns the distinct market ids with at least one open order.
func (c *Cache) Symbols(accountID string) ([]string, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return nil, errs.NotTracked(accountID)
	}
	seen := make(map[string]struct{}, len(snap))
	var ids []string
	for _, o := range snap {
		if _, dup := seen[o.MarketID]; dup {
			continue
		}
		seen[o.MarketID] = struct{}{}
		ids = append(ids, o.MarketID)
	}
	return ids, nil
}

// CreateOrder places an order through the gateway and inserts it into the
// snapshot optimistically; the next refresh reconciles any drift.
func (c *Cache) CreateOrder(ctx context.Context, accountID string, req exchange.OrderRequest) (exchange.Order, error) {
	if !c.snapshots.Tracked(accountID) {
		return exchange.Order{}, errs.NotTracked(accountID)
	}
	placed, err := c.gw.OpenOrder(ctx, accountID, req)
	if err != nil {
		return exchange.Order{}, errs.Upstream(accountID, "open order", err)
	}

	if placed.Status == exchange.StatusNew || placed.Status == exchange.StatusPartiallyFilled {
		snap, ok := c.snapshots.Get(accountID)
		if ok {
			next := make([]exchange.Order, 0, len(snap)+1)
			next = append(next, snap...)
			next = append(next, placed)
			c.snapshots.Replace(accountID, next)
		}
	}
	return placed, nil
}

// CancelOrder cancels an order through the gateway and removes it from the
// snapshot. A venue-side "unknown order" is surfaced as ErrNotFound so
// callers may treat an already-gone order as cancelled.
func (c *Cache) CancelOrder(ctx context.Context, accountID, orderID, marketID string) (exchange.Order, error) {
	if !c.snapshots.Tracked(accountID) {
		return exchange.Order{}, errs.NotTracked(accountID)
	}
	cancelled, err := c.gw.CancelOrder(ctx, accountID, orderID, marketID)
	if err != nil {
		if isMissingOrder(err) {
			c.remove(accountID, orderID)
			return exchange.Order{}, errs.NotFound("order", orderID)
		}
		return exchange.Order{}, errs.Upstream(accountID, "cancel order", err)
	}
	c.remove(accountID, orderID)
	return cancelled, nil
}

// ApplyExecution folds a fill notification into the snapshot: fully-filled
// orders are removed, partial fills update the leaves quantity.
func (c *Cache) ApplyExecution(accountID string, exec exchange.Execution) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return
	}
	next := make([]exchange.Order, 0, len(snap))
	for _, o := range snap {
		if o.ID != exec.OrderID {
			next = append(next, o)
			continue
		}
		if exec.LeavesQty <= 0 {
			continue // fully filled, drop from the open set
		}
		o.LeavesQty = exec.LeavesQty
		o.Status = exchange.StatusPartiallyFilled
		o.UpdatedTime = exec.Time
		next = append(next, o)
	}
	c.snapshots.Replace(accountID, next)
}

func (c *Cache) remove(accountID, orderID string) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return
	}
	next := make([]exchange.Order, 0, len(snap))
	for _, o := range snap {
		if o.ID != orderID {
			next = append(next, o)
		}
	}
	c.snapshots.Replace(accountID, next)
}
