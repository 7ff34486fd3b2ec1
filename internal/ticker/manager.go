// Package ticker derives the required streaming symbol set from open orders
// and positions, reconciles it against active subscriptions, and maintains a
// throttled price cache with REST fallback.
package ticker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mirror-core/internal/errs"
	"mirror-core/internal/events"
	"mirror-core/internal/registry"
	"mirror-core/pkg/exchange"
)

// SymbolSource exposes the market ids a cache currently holds entries for.
// The order and position caches both satisfy it.
type SymbolSource interface {
	Symbols(accountID string) ([]string, error)
}

// state is one account's quote cache plus its active subscription set. It is
// replaced wholesale on every mutation.
type state struct {
	quotes     map[string]exchange.TickerQuote
	subscribed map[string]struct{}
}

func (s state) clone() state {
	next := state{
		quotes:     make(map[string]exchange.TickerQuote, len(s.quotes)),
		subscribed: make(map[string]struct{}, len(s.subscribed)),
	}
	for k, v := range s.quotes {
		next.quotes[k] = v
	}
	for k := range s.subscribed {
		next.subscribed[k] = struct{}{}
	}
	return next
}

// Manager keeps the streaming footprint proportional to live exposure and
// serves mid-prices from cache.
type Manager struct {
	gw        exchange.Gateway
	bus       *events.Bus
	log       *zap.Logger
	cooldown  time.Duration
	limit     int
	orders    SymbolSource
	positions SymbolSource
	throttle  *Throttle
	accounts  *registry.Map[state]
}

// NewManager creates the ticker subscription manager.
func NewManager(gw exchange.Gateway, bus *events.Bus, log *zap.Logger, cooldown, throttleWindow time.Duration, limit int, orders, positions SymbolSource) *Manager {
	return &Manager{
		gw:        gw,
		bus:       bus,
		log:       log.Named("ticker"),
		cooldown:  cooldown,
		limit:     limit,
		orders:    orders,
		positions: positions,
		throttle:  NewThrottle(throttleWindow),
		accounts:  registry.New[state](),
	}
}

// Track starts managing subscriptions for accountID. Idempotent; the symbol
// set is populated by the first reconciliation.
func (m *Manager) Track(ctx context.Context, accountID string) error {
	if !m.accounts.Track(accountID, state{quotes: map[string]exchange.TickerQuote{}, subscribed: map[string]struct{}{}}) {
		return nil
	}
	if err := m.Reconcile(ctx, accountID); err != nil {
		m.log.Warn("initial reconcile failed", zap.String("account", accountID), zap.Error(err))
	}
	return nil
}

// Untrack drops quotes, subscriptions and throttle state for accountID.
func (m *Manager) Untrack(accountID string) {
	m.accounts.Untrack(accountID)
	m.throttle.Forget(accountID)
}

// Price returns the cached mid-price for (accountID, marketID). A miss
// subscribes to the symbol and performs a one-shot REST fetch, so first
// access to a new symbol is slower than subsequent ones.
func (m *Manager) Price(ctx context.Context, accountID, marketID string) (float64, error) {
	st, ok := m.accounts.Get(accountID)
	if !ok {
		return 0, errs.NotTracked(accountID)
	}
	if q, cached := st.quotes[marketID]; cached && q.MidPrice > 0 {
		return q.MidPrice, nil
	}

	topic := exchange.TickerTopic(marketID)
	if err := m.gw.Subscribe(ctx, accountID, []string{topic}, false); err != nil {
		return 0, errs.Upstream(accountID, "subscribe ticker", err)
	}
	quote, err := m.gw.GetTicker(ctx, accountID, marketID)
	if err != nil {
		return 0, errs.Upstream(accountID, "get ticker", err)
	}
	quote.MidPrice = midPrice(quote)
	if quote.MidPrice <= 0 {
		return 0, errs.NotFound("ticker", marketID)
	}

	st, ok = m.accounts.Get(accountID)
	if ok {
		next := st.clone()
		next.quotes[marketID] = quote
		next.subscribed[marketID] = struct{}{}
		m.accounts.Replace(accountID, next)
	}
	return quote.MidPrice, nil
}

// UpdateQuote is the push path. The raw quote is merged into the cached one,
// the mid-price recomputed, and the cache replaced only when the mid moved.
// The throttle window counts from the last accepted update, so immaterial
// pushes never consume it.
func (m *Manager) UpdateQuote(accountID, marketID string, raw exchange.TickerQuote) {
	st, ok := m.accounts.Get(accountID)
	if !ok {
		return
	}

	merged := st.quotes[marketID]
	if raw.Bid1Price > 0 {
		merged.Bid1Price = raw.Bid1Price
	}
	if raw.Ask1Price > 0 {
		merged.Ask1Price = raw.Ask1Price
	}
	if raw.LastPrice > 0 {
		merged.LastPrice = raw.LastPrice
	}
	if raw.MarkPrice > 0 {
		merged.MarkPrice = raw.MarkPrice
	}

	mid := midPrice(merged)
	if mid <= 0 {
		// One side still missing: no material change.
		return
	}
	if mid == merged.MidPrice {
		return
	}
	if !m.throttle.Allow(exchange.TickerTopic(marketID), accountID) {
		return
	}
	merged.MidPrice = mid

	next := st.clone()
	next.quotes[marketID] = merged
	if !m.accounts.Replace(accountID, next) {
		return
	}
	m.bus.Publish(events.TopicTickerUpdated, events.TickerPayload{AccountID: accountID, MarketID: marketID, MidPrice: mid})
}

// Reconcile recomputes the required symbol set for one account, subscribes to
// the missing symbols, unsubscribes from the stale ones, and evicts their
// quotes.
func (m *Manager) Reconcile(ctx context.Context, accountID string) error {
	st, ok := m.accounts.Get(accountID)
	if !ok {
		return errs.NotTracked(accountID)
	}

	required := make(map[string]struct{})
	for _, src := range []SymbolSource{m.orders, m.positions} {
		if src == nil {
			continue
		}
		symbols, err := src.Symbols(accountID)
		if err != nil {
			// The source cache may not track this account yet; partial
			// tracking is a valid transient state.
			continue
		}
		for _, s := range symbols {
			required[s] = struct{}{}
		}
	}

	toSubscribe, toUnsubscribe := diffSymbols(required, st.subscribed)
	if len(toSubscribe) == 0 && len(toUnsubscribe) == 0 {
		return nil
	}

	if len(toSubscribe) > 0 {
		if err := m.gw.Subscribe(ctx, accountID, tickerTopics(toSubscribe), false); err != nil {
			return errs.Upstream(accountID, "subscribe tickers", err)
		}
		m.bus.Publish(events.TopicWebsocketSubscribe, events.SubscriptionPayload{AccountID: accountID, Topics: tickerTopics(toSubscribe)})
	}
	if len(toUnsubscribe) > 0 {
		if err := m.gw.Unsubscribe(ctx, accountID, tickerTopics(toUnsubscribe), false); err != nil {
			return errs.Upstream(accountID, "unsubscribe tickers", err)
		}
		m.bus.Publish(events.TopicWebsocketUnsubscribe, events.SubscriptionPayload{AccountID: accountID, Topics: tickerTopics(toUnsubscribe)})
	}

	st, ok = m.accounts.Get(accountID)
	if !ok {
		return nil
	}
	next := st.clone()
	for _, s := range toSubscribe {
		next.subscribed[s] = struct{}{}
	}
	for _, s := range toUnsubscribe {
		delete(next.subscribed, s)
		delete(next.quotes, s)
	}
	m.accounts.Replace(accountID, next)
	return nil
}

// ReconcileAll reconciles every tracked account concurrently and aggregates
// per-account failures.
func (m *Manager) ReconcileAll(ctx context.Context) error {
	return registry.FanOut(ctx, "ticker reconcile", m.accounts.IDs(), m.limit, m.Reconcile)
}

// Run drives the cooldown reconcile loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cooldown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ReconcileAll(ctx); err != nil {
				m.log.Warn("reconcile cycle finished with failures", zap.Error(err))
			}
		}
	}
}

// Subscribed returns the active subscription set for accountID.
func (m *Manager) Subscribed(accountID string) ([]string, error) {
	st, ok := m.accounts.Get(accountID)
	if !ok {
		return nil, errs.NotTracked(accountID)
	}
	out := make([]string, 0, len(st.subscribed))
	for s := range st.subscribed {
		out = append(out, s)
	}
	return out, nil
}

func midPrice(q exchange.TickerQuote) float64 {
	if q.Bid1Price <= 0 || q.Ask1Price <= 0 {
		return 0
	}
	return (q.Bid1Price + q.Ask1Price) / 2
}

func tickerTopics(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, exchange.TickerTopic(s))
	}
	return out
}
