// Package wallet maintains the per-account balance snapshot for the contract
// trading wallet, updated by poll and by push.
package wallet

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"mirror-core/internal/errs"
	"mirror-core/internal/events"
	"mirror-core/internal/registry"
	"mirror-core/pkg/exchange"
)

// The cache mirrors a single wallet account type and measures materiality in
// one reference asset.
const (
	targetAccountType = "CONTRACT"
	referenceAsset    = "USDT"
)

// Cache holds one WalletAccount per tracked account. Push updates below the
// equity materiality threshold are dropped to prevent event storms from
// sub-cent balance noise on every execution tick.
type Cache struct {
	gw        exchange.Gateway
	bus       *events.Bus
	log       *zap.Logger
	cooldown  time.Duration
	limit     int
	threshold float64
	snapshots *registry.Map[exchange.WalletAccount]
}

// NewCache creates the wallet cache. threshold is the minimum absolute change
// in reference-asset equity for a push update to be applied.
func NewCache(gw exchange.Gateway, bus *events.Bus, log *zap.Logger, cooldown time.Duration, limit int, threshold float64) *Cache {
	return &Cache{
		gw:        gw,
		bus:       bus,
		log:       log.Named("wallet"),
		cooldown:  cooldown,
		limit:     limit,
		threshold: threshold,
		snapshots: registry.New[exchange.WalletAccount](),
	}
}

// Track starts mirroring the wallet for accountID. Idempotent.
func (c *Cache) Track(ctx context.Context, accountID string) error {
	if !c.snapshots.Track(accountID, exchange.WalletAccount{AccountType: targetAccountType}) {
		return nil
	}
	if err := c.SyncAccount(ctx, accountID); err != nil {
		c.snapshots.Untrack(accountID)
		return err
	}
	return nil
}

// Untrack drops all wallet state for accountID. Idempotent.
func (c *Cache) Untrack(accountID string) {
	c.snapshots.Untrack(accountID)
}

// SyncAccount fetches balances, extracts the contract wallet and replaces the
// snapshot unconditionally. This is the poll path.
func (c *Cache) SyncAccount(ctx context.Context, accountID string) error {
	snap, err := c.gw.GetBalances(ctx, accountID)
	if err != nil {
		return errs.Upstream(accountID, "get balances", err)
	}

	account := exchange.WalletAccount{AccountType: targetAccountType}
	for _, a := range snap.Accounts {
		if a.AccountType == targetAccountType {
			account = a
			break
		}
	}
	if !c.snapshots.Replace(accountID, account) {
		// Untracked while the fetch was in flight; discard.
		return nil
	}
	c.bus.Publish(events.TopicWalletBulkUpdated, events.AccountPayload{AccountID: accountID})
	return nil
}

// ProcessWalletData is the push path: the update is applied only when the
// reference-asset equity moved by strictly more than the threshold.
func (c *Cache) ProcessWalletData(accountID string, incoming exchange.WalletAccount) error {
	current, ok := c.snapshots.Get(accountID)
	if !ok {
		return errs.NotTracked(accountID)
	}
	if incoming.AccountType != "" && incoming.AccountType != targetAccountType {
		return nil
	}

	oldEquity := 0.0
	if coin, found := current.Coin(referenceAsset); found {
		oldEquity = coin.Equity
	}
	newEquity := oldEquity
	if coin, found := incoming.Coin(referenceAsset); found {
		newEquity = coin.Equity
	}

	if math.Abs(newEquity-oldEquity) <= c.threshold {
		return nil
	}

	incoming.AccountType = targetAccountType
	if !c.snapshots.Replace(accountID, incoming) {
		return nil
	}
	c.bus.Publish(events.TopicWalletBulkUpdated, events.AccountPayload{AccountID: accountID})
	return nil
}

// RefreshAll syncs every tracked account concurrently and aggregates
// per-account failures.
func (c *Cache) RefreshAll(ctx context.Context) error {
	return registry.FanOut(ctx, "wallet sync", c.snapshots.IDs(), c.limit, c.SyncAccount)
}

// Run drives the cooldown sync loop until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cooldown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RefreshAll(ctx); err != nil {
				c.log.Warn("sync cycle finished with failures", zap.Error(err))
			}
		}
	}
}

// Wallet returns the cached contract wallet. Never triggers I/O.
func (c *Cache) Wallet(accountID string) (exchange.WalletAccount, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return exchange.WalletAccount{}, errs.NotTracked(accountID)
	}
	return snap, nil
}

// Equity returns the cached reference-asset equity.
func (c *Cache) Equity(accountID string) (float64, error) {
	snap, ok := c.snapshots.Get(accountID)
	if !ok {
		return 0, errs.NotTracked(accountID)
	}
	coin, found := snap.Coin(referenceAsset)
	if !found {
		return 0, nil
	}
	return coin.Equity, nil
}
