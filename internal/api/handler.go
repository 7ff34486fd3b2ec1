// Package api exposes the cached account state and strategy management over
// HTTP, plus a websocket feed of bus notifications.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mirror-core/internal/events"
	"mirror-core/internal/gateway"
	"mirror-core/internal/market"
	"mirror-core/internal/order"
	"mirror-core/internal/position"
	"mirror-core/internal/store"
	"mirror-core/internal/strategy"
	"mirror-core/internal/ticker"
	"mirror-core/internal/wallet"
)

// Server wires HTTP endpoints around the caches and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Log       *zap.Logger
	Store     *store.Store
	Gateways  *gateway.Manager
	Markets   *market.Cache
	Orders    *order.Cache
	Positions *position.Cache
	Wallets   *wallet.Cache
	Tickers   *ticker.Manager
	Engine    *strategy.Engine
}

// NewServer builds the router. gin.SetMode is left to the caller.
func NewServer(bus *events.Bus, log *zap.Logger, st *store.Store, gateways *gateway.Manager,
	markets *market.Cache, orders *order.Cache, positions *position.Cache,
	wallets *wallet.Cache, tickers *ticker.Manager, engine *strategy.Engine) *Server {

	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Log:       log.Named("api"),
		Store:     st,
		Gateways:  gateways,
		Markets:   markets,
		Orders:    orders,
		Positions: positions,
		Wallets:   wallets,
		Tickers:   tickers,
		Engine:    engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/accounts", s.listAccounts)
		api.POST("/accounts", s.createAccount)
		api.DELETE("/accounts/:id", s.deleteAccount)

		acct := api.Group("/accounts/:id")
		{
			acct.GET("/markets", s.getMarkets)
			acct.GET("/orders", s.getOrders)
			acct.GET("/positions", s.getPositions)
			acct.GET("/wallet", s.getWallet)
			acct.GET("/price/:marketId", s.getPrice)
			acct.GET("/subscriptions", s.getSubscriptions)
		}

		api.GET("/strategies", s.listStrategies)
		api.POST("/strategies", s.createStrategy)
		api.GET("/strategies/:id", s.getStrategy)
		api.DELETE("/strategies/:id", s.deleteStrategy)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
