// Package paper is an in-process simulated venue for local development and
// tests. Prices random-walk, market orders fill at the current price, resting
// limit orders fill when the walk crosses them, and fills stream out as
// execution and wallet push messages.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mirror-core/pkg/exchange"
)

// Options configure the simulation.
type Options struct {
	Markets        []string // symbols, e.g. BTCUSDT
	StartPrice     float64
	Step           float64
	Interval       time.Duration
	InitialBalance float64
}

// Venue implements exchange.Gateway and exchange.Streamer against in-memory
// state. One instance serves every account; per-account books are created
// lazily.
type Venue struct {
	mu       sync.Mutex
	opts     Options
	markets  []exchange.Market
	prices   map[string]float64
	accounts map[string]*account
	push     chan exchange.PushMessage
	rng      *rand.Rand
}

type account struct {
	orders   map[string]exchange.Order
	position map[string]*exchange.Position // keyed by marketID|side
	balance  float64
	subs     map[string]struct{}
}

// New creates the venue. Zero options get development defaults.
func New(opts Options) *Venue {
	if len(opts.Markets) == 0 {
		opts.Markets = []string{"BTCUSDT"}
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = 100.0
	}
	if opts.Step <= 0 {
		opts.Step = 0.5
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.InitialBalance <= 0 {
		opts.InitialBalance = 10_000
	}

	v := &Venue{
		opts:     opts,
		prices:   make(map[string]float64),
		accounts: make(map[string]*account),
		push:     make(chan exchange.PushMessage, 256),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, sym := range opts.Markets {
		v.prices[sym] = opts.StartPrice
		v.markets = append(v.markets, exchange.Market{
			ID:             sym,
			Symbol:         sym,
			BaseAsset:      strings.TrimSuffix(sym, "USDT"),
			QuoteAsset:     "USDT",
			PricePrecision: 2,
			QtyPrecision:   4,
			MinQty:         0.0001,
			MaxQty:         1_000_000,
			Active:         true,
			Contract:       true,
			InstrumentType: exchange.InstrumentLinear,
		})
	}
	return v
}

// Push returns the streaming channel shared by all accounts.
func (v *Venue) Push() <-chan exchange.PushMessage {
	return v.push
}

// Run drives the random walk until ctx is cancelled.
func (v *Venue) Run(ctx context.Context) {
	t := time.NewTicker(v.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.step()
		}
	}
}

func (v *Venue) step() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, sym := range v.opts.Markets {
		price := v.prices[sym] + (v.rng.Float64()*2-1)*v.opts.Step
		if price <= 0 {
			price = v.opts.Step
		}
		v.prices[sym] = price
		v.broadcastTickerLocked(sym, price)
		v.crossRestingLocked(sym, price)
	}
}

func (v *Venue) broadcastTickerLocked(marketID string, price float64) {
	topic := exchange.TickerTopic(marketID)
	quote := v.quoteLocked(marketID, price)
	for id, acct := range v.accounts {
		if _, ok := acct.subs[topic]; !ok {
			continue
		}
		v.emit(exchange.PushMessage{Topic: topic, AccountID: id, Payload: quote})
	}
}

func (v *Venue) quoteLocked(marketID string, price float64) exchange.TickerQuote {
	spread := v.opts.Step / 2
	return exchange.TickerQuote{
		Bid1Price: price - spread,
		Ask1Price: price + spread,
		LastPrice: price,
		MarkPrice: price,
	}
}

func (v *Venue) crossRestingLocked(marketID string, price float64) {
	for id, acct := range v.accounts {
		for _, ord := range acct.orders {
			if ord.MarketID != marketID || ord.Type != exchange.OrderTypeLimit {
				continue
			}
			crossed := (ord.Side == exchange.SideBuy && price <= ord.Price) ||
				(ord.Side == exchange.SideSell && price >= ord.Price)
			if crossed {
				v.fillLocked(id, acct, ord, ord.Price)
			}
		}
	}
}

// fillLocked completes an order at price, updates the book and streams the
// execution and wallet updates.
func (v *Venue) fillLocked(accountID string, acct *account, ord exchange.Order, price float64) {
	delete(acct.orders, ord.ID)

	notional := price * ord.Amount
	if ord.Side == exchange.SideBuy {
		acct.balance -= notional
	} else {
		acct.balance += notional
	}
	v.applyPositionLocked(acct, ord.MarketID, ord.Side, price, ord.Amount)

	now := time.Now().UnixMilli()
	v.emit(exchange.PushMessage{Topic: exchange.TopicExecution, AccountID: accountID, Payload: exchange.Execution{
		ExecID:    uuid.NewString(),
		OrderID:   ord.ID,
		LinkID:    ord.LinkID,
		MarketID:  ord.MarketID,
		Side:      ord.Side,
		Price:     price,
		Qty:       ord.Amount,
		LeavesQty: 0,
		Time:      now,
	}})
	v.emit(exchange.PushMessage{Topic: exchange.TopicWallet, AccountID: accountID, Payload: v.walletLocked(acct)})
}

func (v *Venue) applyPositionLocked(acct *account, marketID string, side exchange.Side, price, qty float64) {
	// Net against the opposite side first.
	oppKey := marketID + "|" + string(side.Opposite())
	if pos, ok := acct.position[oppKey]; ok {
		if pos.Amount > qty {
			pos.Amount -= qty
			pos.Value = pos.Amount * pos.AvgPrice
			return
		}
		qty -= pos.Amount
		delete(acct.position, oppKey)
		if qty == 0 {
			return
		}
	}

	key := marketID + "|" + string(side)
	pos, ok := acct.position[key]
	if !ok {
		acct.position[key] = &exchange.Position{
			MarketID: marketID,
			Side:     side,
			AvgPrice: price,
			Amount:   qty,
			Value:    price * qty,
			Leverage: 1,
		}
		return
	}
	total := pos.Amount*pos.AvgPrice + qty*price
	pos.Amount += qty
	pos.AvgPrice = total / pos.Amount
	pos.Value = pos.Amount * pos.AvgPrice
}

func (v *Venue) walletLocked(acct *account) exchange.WalletAccount {
	return exchange.WalletAccount{
		AccountType: "CONTRACT",
		Coins: []exchange.WalletCoin{{
			Coin:                "USDT",
			Equity:              acct.balance,
			WalletBalance:       acct.balance,
			AvailableToWithdraw: acct.balance,
		}},
	}
}

func (v *Venue) emit(msg exchange.PushMessage) {
	select {
	case v.push <- msg:
	default:
		// Slow consumers lose simulated pushes, same as a real stream.
	}
}

func (v *Venue) acct(accountID string) *account {
	a, ok := v.accounts[accountID]
	if !ok {
		a = &account{
			orders:   make(map[string]exchange.Order),
			position: make(map[string]*exchange.Position),
			balance:  v.opts.InitialBalance,
			subs:     make(map[string]struct{}),
		}
		v.accounts[accountID] = a
	}
	return a
}

// --- exchange.Gateway ---

func (v *Venue) GetMarkets(ctx context.Context, accountID string) ([]exchange.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.Market(nil), v.markets...), nil
}

func (v *Venue) GetOpenOrders(ctx context.Context, accountID, marketID string) ([]exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	var out []exchange.Order
	for _, ord := range acct.orders {
		if marketID != "" && ord.MarketID != marketID {
			continue
		}
		out = append(out, ord)
	}
	return out, nil
}

func (v *Venue) OpenOrder(ctx context.Context, accountID string, req exchange.OrderRequest) (exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	price, ok := v.prices[req.MarketID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("unknown market %s", req.MarketID)
	}
	if req.Qty <= 0 {
		return exchange.Order{}, fmt.Errorf("qty must be positive")
	}

	acct := v.acct(accountID)
	now := time.Now().UnixMilli()
	ord := exchange.Order{
		ID:          uuid.NewString(),
		LinkID:      req.LinkID,
		MarketID:    req.MarketID,
		Price:       req.Price,
		Amount:      req.Qty,
		Side:        req.Side,
		Status:      exchange.StatusNew,
		Type:        req.Type,
		LeavesQty:   req.Qty,
		CreatedTime: now,
		UpdatedTime: now,
	}

	if req.Type == exchange.OrderTypeMarket {
		ord.Price = price
		ord.Status = exchange.StatusFilled
		ord.LeavesQty = 0
		acct.orders[ord.ID] = ord
		v.fillLocked(accountID, acct, ord, price)
		return ord, nil
	}

	if req.Price <= 0 {
		return exchange.Order{}, fmt.Errorf("limit order requires a price")
	}
	acct.orders[ord.ID] = ord
	// A limit that already crosses fills on the next step; keeping placement
	// and fill separate mirrors the ack-then-push shape of a real venue.
	return ord, nil
}

func (v *Venue) UpdateOrder(ctx context.Context, accountID string, req exchange.UpdateOrderRequest) (exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	ord, ok := acct.orders[req.OrderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("order not found: %s", req.OrderID)
	}
	if req.Price > 0 {
		ord.Price = req.Price
	}
	if req.Qty > 0 {
		ord.Amount = req.Qty
		ord.LeavesQty = req.Qty
	}
	ord.UpdatedTime = time.Now().UnixMilli()
	acct.orders[ord.ID] = ord
	return ord, nil
}

func (v *Venue) CancelOrder(ctx context.Context, accountID, orderID, marketID string) (exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	ord, ok := acct.orders[orderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("order not found: %s", orderID)
	}
	delete(acct.orders, orderID)
	ord.Status = exchange.StatusCancelled
	ord.UpdatedTime = time.Now().UnixMilli()
	return ord, nil
}

func (v *Venue) CancelOrders(ctx context.Context, accountID, marketID string) ([]exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	var cancelled []exchange.Order
	for id, ord := range acct.orders {
		if marketID != "" && ord.MarketID != marketID {
			continue
		}
		delete(acct.orders, id)
		ord.Status = exchange.StatusCancelled
		cancelled = append(cancelled, ord)
	}
	return cancelled, nil
}

func (v *Venue) GetOpenPositions(ctx context.Context, accountID string) ([]exchange.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	var out []exchange.Position
	for _, pos := range acct.position {
		p := *pos
		p.MarkPrice = v.prices[p.MarketID]
		out = append(out, p)
	}
	return out, nil
}

func (v *Venue) ClosePosition(ctx context.Context, accountID, marketID string, side exchange.Side, amount float64) (exchange.Order, error) {
	v.mu.Lock()
	key := marketID + "|" + string(side)
	acct := v.acct(accountID)
	pos, ok := acct.position[key]
	if !ok {
		v.mu.Unlock()
		return exchange.Order{}, fmt.Errorf("no %s position on %s", side, marketID)
	}
	if amount <= 0 || amount > pos.Amount {
		amount = pos.Amount
	}
	v.mu.Unlock()

	return v.OpenOrder(ctx, accountID, exchange.OrderRequest{
		MarketID:   marketID,
		Type:       exchange.OrderTypeMarket,
		Side:       side.Opposite(),
		Qty:        amount,
		ReduceOnly: true,
	})
}

func (v *Venue) GetBalances(ctx context.Context, accountID string) (exchange.WalletSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	return exchange.WalletSnapshot{Accounts: []exchange.WalletAccount{v.walletLocked(acct)}}, nil
}

func (v *Venue) GetTicker(ctx context.Context, accountID, marketID string) (exchange.TickerQuote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	price, ok := v.prices[marketID]
	if !ok {
		return exchange.TickerQuote{}, fmt.Errorf("unknown market %s", marketID)
	}
	return v.quoteLocked(marketID, price), nil
}

func (v *Venue) Subscribe(ctx context.Context, accountID string, topics []string, private bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	for _, t := range topics {
		acct.subs[t] = struct{}{}
	}
	return nil
}

func (v *Venue) Unsubscribe(ctx context.Context, accountID string, topics []string, private bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.acct(accountID)
	for _, t := range topics {
		delete(acct.subs, t)
	}
	return nil
}
