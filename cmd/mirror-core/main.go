// mirror-core keeps local caches of every tracked account's exchange state
// and drives safety-order-ladder strategies against them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mirror-core/internal/api"
	"mirror-core/internal/config"
	"mirror-core/internal/events"
	"mirror-core/internal/feed"
	"mirror-core/internal/gateway"
	"mirror-core/internal/market"
	"mirror-core/internal/order"
	"mirror-core/internal/position"
	"mirror-core/internal/store"
	"mirror-core/internal/strategy"
	"mirror-core/internal/ticker"
	"mirror-core/internal/wallet"
	"mirror-core/pkg/exchange"
	"mirror-core/pkg/exchange/paper"
	"mirror-core/pkg/logutil"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logutil.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	// One shared paper venue serves every account.
	venue := paper.New(paper.Options{
		Markets:        cfg.PaperSymbols,
		StartPrice:     cfg.PaperStartPrice,
		Step:           cfg.PaperStep,
		Interval:       cfg.PaperTickInterval,
		InitialBalance: cfg.PaperEquity,
	})
	go venue.Run(ctx)

	gateways := gateway.NewManager(func(creds gateway.Credentials) (exchange.Gateway, error) {
		return venue, nil
	}, bus, logger)

	// Caches and the ticker subscription manager.
	markets := market.NewCache(gateways, bus, logger, cfg.MarketRefreshInterval, cfg.RefreshConcurrency)
	orders := order.NewCache(gateways, bus, logger, cfg.OrderRefreshInterval, cfg.RefreshConcurrency)
	positions := position.NewCache(gateways, bus, logger, cfg.PositionRefreshInterval, cfg.RefreshConcurrency)
	wallets := wallet.NewCache(gateways, bus, logger, cfg.WalletRefreshInterval, cfg.RefreshConcurrency, cfg.WalletEquityThreshold)
	tickers := ticker.NewManager(gateways, bus, logger, cfg.TickerReconcileInterval, cfg.TickerThrottleWindow, cfg.RefreshConcurrency, orders, positions)

	engine := strategy.NewEngine(orders, tickers, logger, cfg.StrategySweepInterval, cfg.RefreshConcurrency)

	// Lifecycle wiring: gateway announcements start and stop tracking.
	trackers := []interface {
		Track(ctx context.Context, accountID string) error
	}{markets, orders, positions, wallets, tickers}

	initStream, unsubInit := bus.Subscribe(events.TopicExchangeInitialized, 16)
	defer unsubInit()
	go func() {
		for msg := range initStream {
			p, ok := msg.(events.AccountPayload)
			if !ok {
				continue
			}
			for _, t := range trackers {
				if err := t.Track(ctx, p.AccountID); err != nil {
					logger.Warn("tracking failed", zap.String("account", p.AccountID), zap.Error(err))
				}
			}
		}
	}()

	termStream, unsubTerm := bus.Subscribe(events.TopicExchangeTerminated, 16)
	defer unsubTerm()
	go func() {
		for msg := range termStream {
			p, ok := msg.(events.AccountPayload)
			if !ok {
				continue
			}
			tickers.Untrack(p.AccountID)
			wallets.Untrack(p.AccountID)
			positions.Untrack(p.AccountID)
			orders.Untrack(p.AccountID)
			markets.Untrack(p.AccountID)
			engine.RemoveAccount(p.AccountID)
		}
	}()

	execStream, unsubExec := bus.Subscribe(events.TopicExecutionReceived, 100)
	defer unsubExec()
	go func() {
		for msg := range execStream {
			engine.HandleExecution(ctx, msg)
		}
	}()

	// Streaming updates from the venue into the caches.
	dispatcher := feed.NewDispatcher(bus, logger, tickers, orders, wallets)
	go dispatcher.Run(ctx, gateways.Push())

	// Seed accounts and strategies from the store.
	accounts, err := st.ListAccounts(ctx)
	if err != nil {
		logger.Fatal("load accounts", zap.Error(err))
	}
	for _, creds := range accounts {
		if err := gateways.Init(ctx, creds); err != nil {
			logger.Warn("account init failed", zap.String("account", creds.AccountID), zap.Error(err))
		}
	}
	configs, err := st.ListStrategies(ctx)
	if err != nil {
		logger.Fatal("load strategies", zap.Error(err))
	}
	for _, sc := range configs {
		if err := engine.Register(sc); err != nil {
			logger.Warn("strategy load failed", zap.String("strategy", sc.ID), zap.Error(err))
		}
	}

	// Refresh loops.
	go markets.Run(ctx)
	go orders.Run(ctx)
	go positions.Run(ctx)
	go wallets.Run(ctx)
	go tickers.Run(ctx)
	go engine.Run(ctx)

	server := api.NewServer(bus, logger, st, gateways, markets, orders, positions, wallets, tickers, engine)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()
	logger.Info("mirror core started", zap.String("port", cfg.Port), zap.Int("accounts", len(accounts)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")
}
