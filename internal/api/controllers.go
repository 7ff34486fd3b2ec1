package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mirror-core/internal/errs"
	"mirror-core/internal/gateway"
	"mirror-core/internal/strategy"
	"mirror-core/pkg/exchange"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotTracked), errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// ----------------------------------------
// Accounts
// ----------------------------------------

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.Store.ListAccounts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	// Never echo secrets back out.
	type accountView struct {
		ID    string `json:"id"`
		Venue string `json:"venue"`
	}
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountView{ID: a.AccountID, Venue: a.Venue})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) createAccount(c *gin.Context) {
	var req struct {
		ID        string `json:"id" binding:"required"`
		Venue     string `json:"venue" binding:"required"`
		APIKey    string `json:"apiKey"`
		APISecret string `json:"apiSecret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	creds := gateway.Credentials{
		AccountID: req.ID,
		Venue:     req.Venue,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
	}
	if err := s.Store.SaveAccount(c.Request.Context(), creds); err != nil {
		fail(c, err)
		return
	}
	if err := s.Gateways.Init(c.Request.Context(), creds); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (s *Server) deleteAccount(c *gin.Context) {
	accountID := c.Param("id")
	if err := s.Store.DeleteAccount(c.Request.Context(), accountID); err != nil {
		fail(c, err)
		return
	}
	s.Gateways.Terminate(accountID)
	c.JSON(http.StatusOK, gin.H{"id": accountID})
}

// ----------------------------------------
// Account state
// ----------------------------------------

func (s *Server) getMarkets(c *gin.Context) {
	markets, err := s.Markets.Markets(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

func (s *Server) getOrders(c *gin.Context) {
	orders, err := s.Orders.OpenOrders(c.Param("id"), c.Query("marketId"), exchange.Side(c.Query("side")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.Positions.Positions(c.Param("id"), c.Query("marketId"), exchange.Side(c.Query("side")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getWallet(c *gin.Context) {
	w, err := s.Wallets.Wallet(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

func (s *Server) getPrice(c *gin.Context) {
	price, err := s.Tickers.Price(c.Request.Context(), c.Param("id"), c.Param("marketId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marketId": c.Param("marketId"), "price": price})
}

func (s *Server) getSubscriptions(c *gin.Context) {
	subs, err := s.Tickers.Subscribed(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// ----------------------------------------
// Strategies
// ----------------------------------------

func (s *Server) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.Engine.Configs()})
}

func (s *Server) getStrategy(c *gin.Context) {
	view, err := s.Engine.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) createStrategy(c *gin.Context) {
	var req struct {
		AccountID string          `json:"accountId" binding:"required"`
		Type      string          `json:"type" binding:"required"`
		MarketID  string          `json:"marketId" binding:"required"`
		Options   json.RawMessage `json:"options" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := &strategy.Config{
		AccountID: req.AccountID,
		Type:      strategy.Type(req.Type),
		MarketID:  req.MarketID,
		Options:   req.Options,
	}
	if err := s.Engine.Register(cfg); err != nil {
		fail(c, err)
		return
	}
	if err := s.Store.SaveStrategy(c.Request.Context(), cfg); err != nil {
		// Keep running in memory; persistence catches up on the next save.
		s.Log.Warn("strategy persisted with error", zap.String("strategy", cfg.ID), zap.Error(err))
	}
	c.JSON(http.StatusCreated, cfg.Snapshot())
}

func (s *Server) deleteStrategy(c *gin.Context) {
	strategyID := c.Param("id")
	if !s.Engine.Remove(strategyID) {
		fail(c, errs.NotFound("strategy", strategyID))
		return
	}
	if err := s.Store.DeleteStrategy(c.Request.Context(), strategyID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.Log.Warn("strategy removed but not deleted from store", zap.String("strategy", strategyID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"id": strategyID})
}
