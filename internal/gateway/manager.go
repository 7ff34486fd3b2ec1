// Package gateway manages per-account exchange gateways behind a single
// multiplexing Gateway implementation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mirror-core/internal/events"
	"mirror-core/pkg/exchange"
)

// ErrAccountUnknown marks calls for an account no gateway was initialized for.
var ErrAccountUnknown = errors.New("no gateway for account")

// Credentials describe one account's venue access.
type Credentials struct {
	AccountID string
	Venue     string
	APIKey    string
	APISecret string
}

// Factory creates a Gateway for one account's credentials. Factories may
// return a shared instance (the paper venue serves every account).
type Factory func(creds Credentials) (exchange.Gateway, error)

// Manager routes Gateway calls to the per-account instance created on Init.
// It publishes exchange.initialized/terminated so the caches can start and
// stop tracking, and merges the underlying push streams into one channel.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]exchange.Gateway
	streamed map[exchange.Streamer]struct{}

	factory Factory
	bus     *events.Bus
	log     *zap.Logger
	push    chan exchange.PushMessage
}

// NewManager creates the gateway manager.
func NewManager(factory Factory, bus *events.Bus, log *zap.Logger) *Manager {
	return &Manager{
		gateways: make(map[string]exchange.Gateway),
		streamed: make(map[exchange.Streamer]struct{}),
		factory:  factory,
		bus:      bus,
		log:      log.Named("gateway"),
		push:     make(chan exchange.PushMessage, 256),
	}
}

// Init creates (or reuses) the gateway for an account and announces the
// account on the bus. Idempotent per account id.
func (m *Manager) Init(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	if _, ok := m.gateways[creds.AccountID]; ok {
		m.mu.Unlock()
		return nil
	}
	gw, err := m.factory(creds)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create gateway for %s: %w", creds.AccountID, err)
	}
	m.gateways[creds.AccountID] = gw

	// Fan the gateway's push stream into the shared channel once per
	// underlying instance, not once per account.
	if s, ok := gw.(exchange.Streamer); ok {
		if _, seen := m.streamed[s]; !seen {
			m.streamed[s] = struct{}{}
			go m.pump(ctx, s.Push())
		}
	}
	m.mu.Unlock()

	m.log.Info("account gateway initialized", zap.String("account", creds.AccountID), zap.String("venue", creds.Venue))
	m.bus.Publish(events.TopicExchangeInitialized, events.AccountPayload{AccountID: creds.AccountID})
	return nil
}

// Terminate drops the account's gateway and announces the teardown.
// Idempotent.
func (m *Manager) Terminate(accountID string) {
	m.mu.Lock()
	gw, ok := m.gateways[accountID]
	if ok {
		delete(m.gateways, accountID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if closer, ok := gw.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	m.log.Info("account gateway terminated", zap.String("account", accountID))
	m.bus.Publish(events.TopicExchangeTerminated, events.AccountPayload{AccountID: accountID})
}

// Push returns the merged push stream across all account gateways.
func (m *Manager) Push() <-chan exchange.PushMessage {
	return m.push
}

func (m *Manager) pump(ctx context.Context, in <-chan exchange.PushMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case m.push <- msg:
			default:
				// Shed load instead of blocking the venue stream.
			}
		}
	}
}

func (m *Manager) get(accountID string) (exchange.Gateway, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gw, ok := m.gateways[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountUnknown, accountID)
	}
	return gw, nil
}

// --- exchange.Gateway, routed per account ---

func (m *Manager) GetMarkets(ctx context.Context, accountID string) ([]exchange.Market, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return nil, err
	}
	return gw.GetMarkets(ctx, accountID)
}

func (m *Manager) GetOpenOrders(ctx context.Context, accountID, marketID string) ([]exchange.Order, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return nil, err
	}
	return gw.GetOpenOrders(ctx, accountID, marketID)
}

func (m *Manager) OpenOrder(ctx context.Context, accountID string, req exchange.OrderRequest) (exchange.Order, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return exchange.Order{}, err
	}
	return gw.OpenOrder(ctx, accountID, req)
}

func (m *Manager) UpdateOrder(ctx context.Context, accountID string, req exchange.UpdateOrderRequest) (exchange.Order, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return exchange.Order{}, err
	}
	return gw.UpdateOrder(ctx, accountID, req)
}

func (m *Manager) CancelOrder(ctx context.Context, accountID, orderID, marketID string) (exchange.Order, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return exchange.Order{}, err
	}
	return gw.CancelOrder(ctx, accountID, orderID, marketID)
}

func (m *Manager) CancelOrders(ctx context.Context, accountID, marketID string) ([]exchange.Order, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return nil, err
	}
	return gw.CancelOrders(ctx, accountID, marketID)
}

func (m *Manager) GetOpenPositions(ctx context.Context, accountID string) ([]exchange.Position, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return nil, err
	}
	return gw.GetOpenPositions(ctx, accountID)
}

func (m *Manager) ClosePosition(ctx context.Context, accountID, marketID string, side exchange.Side, amount float64) (exchange.Order, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return exchange.Order{}, err
	}
	return gw.ClosePosition(ctx, accountID, marketID, side, amount)
}

func (m *Manager) GetBalances(ctx context.Context, accountID string) (exchange.WalletSnapshot, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return exchange.WalletSnapshot{}, err
	}
	return gw.GetBalances(ctx, accountID)
}

func (m *Manager) GetTicker(ctx context.Context, accountID, marketID string) (exchange.TickerQuote, error) {
	gw, err := m.get(accountID)
	if err != nil {
		return exchange.TickerQuote{}, err
	}
	return gw.GetTicker(ctx, accountID, marketID)
}

func (m *Manager) Subscribe(ctx context.Context, accountID string, topics []string, private bool) error {
	gw, err := m.get(accountID)
	if err != nil {
		return err
	}
	return gw.Subscribe(ctx, accountID, topics, private)
}

func (m *Manager) Unsubscribe(ctx context.Context, accountID string, topics []string, private bool) error {
	gw, err := m.get(accountID)
	if err != nil {
		return err
	}
	return gw.Unsubscribe(ctx, accountID, topics, private)
}
