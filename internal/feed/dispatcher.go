// Package feed routes streaming push updates from the exchange gateway to
// the caches and the event bus.
package feed

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mirror-core/internal/events"
	"mirror-core/internal/order"
	"mirror-core/internal/ticker"
	"mirror-core/internal/wallet"
	"mirror-core/pkg/exchange"
)

// Dispatcher consumes (topic, accountID, payload) push messages. Handlers
// swallow their own errors after logging; a malformed message never stops the
// loop or blocks subsequent messages.
type Dispatcher struct {
	bus     *events.Bus
	log     *zap.Logger
	tickers *ticker.Manager
	orders  *order.Cache
	wallets *wallet.Cache
}

// NewDispatcher creates the push dispatcher.
func NewDispatcher(bus *events.Bus, log *zap.Logger, tickers *ticker.Manager, orders *order.Cache, wallets *wallet.Cache) *Dispatcher {
	return &Dispatcher{
		bus:     bus,
		log:     log.Named("feed"),
		tickers: tickers,
		orders:  orders,
		wallets: wallets,
	}
}

// Run consumes the push stream until ctx is cancelled or the stream closes.
func (d *Dispatcher) Run(ctx context.Context, push <-chan exchange.PushMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-push:
			if !ok {
				return
			}
			d.handle(msg)
		}
	}
}

func (d *Dispatcher) handle(msg exchange.PushMessage) {
	switch {
	case strings.HasPrefix(msg.Topic, exchange.TickerTopicPrefix):
		quote, ok := msg.Payload.(exchange.TickerQuote)
		if !ok {
			d.log.Warn("dropping malformed ticker payload", zap.String("topic", msg.Topic), zap.String("account", msg.AccountID))
			return
		}
		marketID := strings.TrimPrefix(msg.Topic, exchange.TickerTopicPrefix)
		d.tickers.UpdateQuote(msg.AccountID, marketID, quote)

	case msg.Topic == exchange.TopicExecution:
		exec, ok := msg.Payload.(exchange.Execution)
		if !ok {
			d.log.Warn("dropping malformed execution payload", zap.String("account", msg.AccountID))
			return
		}
		d.orders.ApplyExecution(msg.AccountID, exec)
		d.bus.Publish(events.TopicExecutionReceived, events.ExecutionPayload{AccountID: msg.AccountID, Execution: exec})

	case msg.Topic == exchange.TopicWallet:
		account, ok := msg.Payload.(exchange.WalletAccount)
		if !ok {
			d.log.Warn("dropping malformed wallet payload", zap.String("account", msg.AccountID))
			return
		}
		if err := d.wallets.ProcessWalletData(msg.AccountID, account); err != nil {
			d.log.Debug("wallet push dropped", zap.String("account", msg.AccountID), zap.Error(err))
		}

	default:
		// Unknown topics are ignored; the venue may stream more than we use.
	}
}
