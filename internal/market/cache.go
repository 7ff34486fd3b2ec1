// Package market maintains the per-account snapshot of tradable instruments.
package market

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mirror-core/internal/errs"
	"mirror-core/internal/events"
	"mirror-core/internal/registry"
	"mirror-core/pkg/exchange"
)

// Cache holds one markets snapshot per tracked account, refreshed on a
// cooldown. Markets change rarely, so the cooldown is long and snapshots are
// replaced unconditionally.
type Cache struct {
	gw        exchange.Gateway
	bus       *events.Bus
	log       *zap.Logger
	cooldown  time.Duration
	limit     int
	snapshots *registry.Map[[]exchange.Market]
}

// NewCache creates the market cache.
func NewCache(gw exchange.Gateway, bus *events.Bus, log *zap.Logger, cooldown time.Duration, limit int) *Cache {
	return &Cache{
		gw:        gw,
		bus:       bus,
		log:       log.Named("market"),
		cooldown:  cooldown,
		limit:     limit,
		snapshots: registry.New[[]exchange.Market](),
	}
}

// Track starts mirroring markets for accountID. Idempotent; the first call
// performs the initial full sync and rolls back on failure.
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

// Untrack drops all market state for accountID. Idempotent.
func (c *Cache) Untrack(accountID string) {
	c.snapshots.Untrack(accountID)
}

// RefreshOne fetches the current market list and replaces the snapshot.
func (c *Cache) RefreshOne(ctx context.Context, accountID string) error {
	markets, err := c.gw.GetMarkets(ctx, accountID)
	if err != nil {
		return errs.Upstream(accountID, "get markets", err)
	}
	if !c.snapshots.Replace(accountID, markets) {
		// Untracked while the fetch was in flight; discard.
		return nil
	}
	c.bus.Publish(events.TopicMarketBulkUpdated, events.AccountPayload{AccountID: accountID})
	return nil
}

// RefreshAll refreshes every tracked account concurrently and aggregates
// per-account failures.
func (c *Cache) RefreshAll(ctx context.Context) error {
	return registry.FanOut(ctx, "market refresh", c.snapshots.IDs(), c.limit, c.RefreshOne)
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

// Markets returns the cached snapshot. Never triggers I/O.
func (c *Cache) Markets(accountID string) ([]exchange.Market, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return nil, errs.NotTracked(accountID)
	}
	return snap, nil
}

// Get returns one market by id.
func (c *Cache) Get(accountID, marketID string) (exchange.Market, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return exchange.Market{}, errs.NotTracked(accountID)
	}
	for _, m := range snap {
		if m.ID == marketID {
			return m, nil
		}
	}
	return exchange.Market{}, errs.NotFound("market", marketID)
}

// FindMarketIDs returns the ids of active markets matching symbol; an empty
// symbol matches every active market.
func (c *Cache) FindMarketIDs(accountID, symbol string) ([]string, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return nil, errs.NotTracked(accountID)
	}
	var ids []string
	for _, m := range snap {
		if !m.Active {
			continue
		}
		if symbol == "" || m.Symbol == symbol {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
