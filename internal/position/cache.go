// Package position maintains the per-account snapshot of open positions.
package position

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mirror-core/internal/errs"
	"mirror-core/internal/events"
	"mirror-core/internal/registry"
	"mirror-core/pkg/exchange"
)

// Cache holds one positions snapshot per tracked account. There is no
// incremental position diff: every sync replaces the snapshot wholesale.
type Cache struct {
	gw        exchange.Gateway
	bus       *events.Bus
	log       *zap.Logger
	cooldown  time.Duration
	limit     int
	snapshots *registry.Map[[]exchange.Position]
}

// NewCache creates the position cache.
func NewCache(gw exchange.Gateway, bus *events.Bus, log *zap.Logger, cooldown time.Duration, limit int) *Cache {
	return &Cache{
		gw:        gw,
		bus:       bus,
		log:       log.Named("position"),
		cooldown:  cooldown,
		limit:     limit,
		snapshots: registry.New[[]exchange.Position](),
	}
}

// Track starts mirroring positions for accountID. Idempotent.
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

// Untrack drops all position state for accountID. Idempotent.
func (c *Cache) Untrack(accountID string) {
	c.snapshots.Untrack(accountID)
}

// RefreshOne fetches open positions and replaces the snapshot.
func (c *Cache) RefreshOne(ctx context.Context, accountID string) error {
	positions, err := c.gw.GetOpenPositions(ctx, accountID)
	if err != nil {
		return errs.Upstream(accountID, "get open positions", err)
	}
	if !c.snapshots.Replace(accountID, positions) {
		// Untracked while the fetch was in flight; discard.
		return nil
	}
	c.bus.Publish(events.TopicPositionBulkUpdated, events.AccountPayload{AccountID: accountID})
	return nil
}

// RefreshAll refreshes every tracked account concurrently and aggregates
// per-account failures.
func (c *Cache) RefreshAll(ctx context.Context) error {
	return registry.FanOut(ctx, "position refresh", c.snapshots.IDs(), c.limit, c.RefreshOne)
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

// Positions returns the cached open positions, optionally filtered by market
// and/or side. Never triggers I/O.
func (c *Cache) Positions(accountID, marketID string, side exchange.Side) ([]exchange.Position, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return nil, errs.NotTracked(accountID)
	}
	out := make([]exchange.Position, 0, len(snap))
	for _, p := range snap {
		if marketID != "" && p.MarketID != marketID {
			continue
		}
		if side != "" && p.Side != side {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Symbols returns the distinct market ids with an open position.
func (c *Cache) Symbols(accountID string) ([]string, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return nil, errs.NotTracked(accountID)
	}
	seen := make(map[string]struct{}, len(snap))
	var ids []string
	for _, p := range snap {
		if _, dup := seen[p.MarketID]; dup {
			continue
		}
		seen[p.MarketID] = struct{}{}
		ids = append(ids, p.MarketID)
	}
	return ids, nil
}

// ClosePosition closes through the gateway and drops the position from the
// snapshot optimistically; the next refresh reconciles any drift.
func (c *Cache) ClosePosition(ctx context.Context, accountID, marketID string, side exchange.Side, amount float64) (exchange.Order, error) {
	if !c.snapshots.Tracked(accountID) {
		return exchange.Order{}, errs.NotTracked(accountID)
	}
	closing, err := c.gw.ClosePosition(ctx, accountID, marketID, side, amount)
	if err != nil {
		return exchange.Order{}, errs.Upstream(accountID, "close position", err)
	}

	if snap, ok := c.snapshots.Get(accountID); ok {
		next := make([]exchange.Position, 0, len(snap))
		for _, p := range snap {
			if p.MarketID == marketID && p.Side == side {
				continue
			}
			next = append(next, p)
		}
		c.snapshots.Replace(accountID, next)
	}
	return closing, nil
}
