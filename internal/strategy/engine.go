package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mirror-core/internal/errs"
	"mirror-core/internal/events"
	"mirror-core/internal/registry"
	"mirror-core/pkg/exchange"
)

// OrderPlacer routes strategy orders through the order cache so placements
// and cancellations keep the open-order snapshot current.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, accountID string, req exchange.OrderRequest) (exchange.Order, error)
	CancelOrder(ctx context.Context, accountID, orderID, marketID string) (exchange.Order, error)
}

// Engine holds strategy configs and runs their state machines on periodic
// sweeps and execution fills.
type Engine struct {
	orders   OrderPlacer
	env      Env
	log      *zap.Logger
	cooldown time.Duration
	limit    int

	// strategyID -> config; grouped by account for the sweep fan-out.
	configs *registry.Map[*Config]
}

// NewEngine creates the strategy engine.
func NewEngine(orders OrderPlacer, env Env, log *zap.Logger, cooldown time.Duration, limit int) *Engine {
	return &Engine{
		orders:   orders,
		env:      env,
		log:      log.Named("strategy"),
		cooldown: cooldown,
		limit:    limit,
		configs:  registry.New[*Config](),
	}
}

// Register adds a strategy config. The type must resolve to a known
// algorithm; an unknown type is rejected up front.
func (e *Engine) Register(cfg *Config) error {
	if _, err := NewAlgorithm(cfg.Type); err != nil {
		return err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if !e.configs.Track(cfg.ID, cfg) {
		return errs.InvalidConfig("strategy %s already registered", cfg.ID)
	}
	return nil
}

// Remove drops a strategy config. Live orders are left to the owner to
// cancel; the engine simply stops driving them.
func (e *Engine) Remove(strategyID string) bool {
	return e.configs.Untrack(strategyID)
}

// Get returns a view of one registered config.
func (e *Engine) Get(strategyID string) (ConfigView, error) {
	cfg, ok := e.configs.Get(strategyID)
	if !ok {
		return ConfigView{}, errs.NotFound("strategy", strategyID)
	}
	return cfg.Snapshot(), nil
}

// Configs returns views of all registered configs.
func (e *Engine) Configs() []ConfigView {
	ids := e.configs.IDs()
	out := make([]ConfigView, 0, len(ids))
	for _, id := range ids {
		if cfg, ok := e.configs.Get(id); ok {
			out = append(out, cfg.Snapshot())
		}
	}
	return out
}

// RemoveAccount drops every config belonging to accountID.
func (e *Engine) RemoveAccount(accountID string) {
	for _, id := range e.configs.IDs() {
		if cfg, ok := e.configs.Get(id); ok && cfg.AccountID == accountID {
			e.configs.Untrack(id)
		}
	}
}

// Sweep ticks every strategy, fanning out per account. One account's failure
// neither cancels nor blocks another's; failures are aggregated.
func (e *Engine) Sweep(ctx context.Context) error {
	byAccount := make(map[string][]*Config)
	for _, id := range e.configs.IDs() {
		if cfg, ok := e.configs.Get(id); ok {
			byAccount[cfg.AccountID] = append(byAccount[cfg.AccountID], cfg)
		}
	}

	accounts := make([]string, 0, len(byAccount))
	for id := range byAccount {
		accounts = append(accounts, id)
	}

	return registry.FanOut(ctx, "strategy sweep", accounts, e.limit, func(ctx context.Context, accountID string) error {
		var firstErr error
		for _, cfg := range byAccount[accountID] {
			if err := e.tick(ctx, cfg); err != nil {
				// Validation or placement failure aborts this strategy's
				// tick only; the rest of the account continues.
				e.log.Warn("strategy tick failed",
					zap.String("strategy", cfg.ID),
					zap.String("account", accountID),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	})
}

// Run drives the cooldown sweep loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cooldown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				e.log.Warn("sweep finished with failures", zap.Error(err))
			}
		}
	}
}

func (e *Engine) tick(ctx context.Context, cfg *Config) error {
	algo, err := NewAlgorithm(cfg.Type)
	if err != nil {
		return err
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if err := algo.Validate(cfg); err != nil {
		return err
	}
	actions, err := algo.Process(ctx, e.env, cfg, nil)
	if err != nil {
		return err
	}
	return e.apply(ctx, cfg, actions)
}

// HandleExecution is the bus handler for execution.received. It swallows its
// own errors after logging so a malformed notification never stops the loop.
func (e *Engine) HandleExecution(ctx context.Context, payload any) {
	p, ok := payload.(events.ExecutionPayload)
	if !ok {
		e.log.Warn("execution payload of unexpected type")
		return
	}
	if err := e.OnExecution(ctx, p.AccountID, p.Execution); err != nil {
		e.log.Warn("execution handling failed",
			zap.String("account", p.AccountID),
			zap.String("order", p.Execution.OrderID),
			zap.Error(err))
	}
}

// OnExecution routes a fill to the strategy owning the order id, updates the
// config bookkeeping and runs the algorithm's fill path. Fills for orders no
// strategy owns are ignored.
func (e *Engine) OnExecution(ctx context.Context, accountID string, exec exchange.Execution) error {
	if exec.LeavesQty > 0 {
		// Partial executions only adjust the order cache; the strategy
		// reacts when the order completes.
		return nil
	}

	for _, id := range e.configs.IDs() {
		cfg, ok := e.configs.Get(id)
		if !ok || cfg.AccountID != accountID {
			continue
		}
		if handled, err := e.applyFill(ctx, cfg, exec); handled {
			return err
		}
	}
	return nil
}

// applyFill mutates cfg for one fill. Returns handled=false when the order id
// does not belong to this config.
func (e *Engine) applyFill(ctx context.Context, cfg *Config, exec exchange.Execution) (bool, error) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	isTP := exec.OrderID != "" && exec.OrderID == cfg.TakeProfitOrderID
	isSL := exec.OrderID != "" && exec.OrderID == cfg.StopLossOrderID
	idx := -1
	for i, id := range cfg.Orders {
		if id == exec.OrderID {
			idx = i
			break
		}
	}
	if !isTP && !isSL && idx < 0 {
		return false, nil
	}

	if idx >= 0 {
		cfg.Orders = append(cfg.Orders[:idx], cfg.Orders[idx+1:]...)
	}

	fill := Fill{
		OrderID:  exec.OrderID,
		MarketID: exec.MarketID,
		Side:     exec.Side,
		Price:    exec.Price,
		Qty:      exec.Qty,
	}

	switch {
	case isTP:
		// Position is flat; the next tick reopens the ladder.
		cfg.TakeProfitOrderID = ""
		cfg.Fills = nil
	case isSL:
		cfg.StopLossOrderID = ""
		cfg.Fills = nil
	default:
		cfg.Fills = append(cfg.Fills, fill)
	}

	algo, err := NewAlgorithm(cfg.Type)
	if err != nil {
		return true, err
	}
	actions, err := algo.Process(ctx, e.env, cfg, &fill)
	if err != nil {
		return true, err
	}
	return true, e.apply(ctx, cfg, actions)
}

// apply executes actions in order, recording resulting order ids into cfg.
// Callers hold cfg.mu. A cancel of an already-gone order counts as success
// when the action tolerates it; any other cancel failure aborts the batch so
// the old state is retried on the next fill or tick.
func (e *Engine) apply(ctx context.Context, cfg *Config, actions []Action) error {
	for _, a := range actions {
		switch {
		case a.Cancel != nil:
			_, err := e.orders.CancelOrder(ctx, cfg.AccountID, a.Cancel.OrderID, cfg.MarketID)
			if err != nil && !(a.Cancel.TolerateMissing && errors.Is(err, errs.ErrNotFound)) {
				return err
			}
			e.clearOrderID(cfg, a.Cancel.OrderID, a.Cancel.Role)

		case a.Place != nil:
			req := a.Place.Req
			if req.LinkID == "" {
				req.LinkID = uuid.NewString()
			}
			placed, err := e.orders.CreateOrder(ctx, cfg.AccountID, req)
			if err != nil {
				return err
			}
			switch a.Place.Role {
			case RoleTakeProfit:
				cfg.TakeProfitOrderID = placed.ID
			case RoleStopLoss:
				cfg.StopLossOrderID = placed.ID
			default:
				cfg.Orders = append(cfg.Orders, placed.ID)
			}
			// A market order may already be filled when the ack returns;
			// record it so the average entry includes the base fill even if
			// the push notification races the placement.
			if placed.Status == exchange.StatusFilled && req.Side == exchange.SideBuy {
				cfg.Fills = append(cfg.Fills, Fill{
					OrderID:  placed.ID,
					MarketID: placed.MarketID,
					Side:     placed.Side,
					Price:    placed.Price,
					Qty:      placed.Amount,
				})
				if idx := len(cfg.Orders) - 1; idx >= 0 && cfg.Orders[idx] == placed.ID {
					cfg.Orders = cfg.Orders[:idx]
				}
			}
		}
	}
	return nil
}

func (e *Engine) clearOrderID(cfg *Config, orderID string, role Role) {
	switch role {
	case RoleTakeProfit:
		if cfg.TakeProfitOrderID == orderID {
			cfg.TakeProfitOrderID = ""
		}
	case RoleStopLoss:
		if cfg.StopLossOrderID == orderID {
			cfg.StopLossOrderID = ""
		}
	}
	for i, id := range cfg.Orders {
		if id == orderID {
			cfg.Orders = append(cfg.Orders[:i], cfg.Orders[i+1:]...)
			return
		}
	}
}
