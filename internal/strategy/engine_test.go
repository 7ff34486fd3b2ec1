package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mirror-core/internal/errs"
	"mirror-core/pkg/exchange"
	"mirror-core/pkg/logutil"
)

// fakePlacer records placements and cancellations instead of hitting a venue.
// Market orders ack already filled at 100, matching the stub env price.
type fakePlacer struct {
	placed    []exchange.OrderRequest
	cancelled []string
	nextID    int
	cancelErr error
	placeErr  error
	// When > 0, placements beyond this many succeeded ones fail.
	placeErrAfter int
}

func (f *fakePlacer) CreateOrder(ctx context.Context, accountID string, req exchange.OrderRequest) (exchange.Order, error) {
	if f.placeErr != nil {
		return exchange.Order{}, f.placeErr
	}
	if f.placeErrAfter > 0 && len(f.placed) >= f.placeErrAfter {
		return exchange.Order{}, errors.New("venue unavailable")
	}
	f.placed = append(f.placed, req)
	f.nextID++
	status := exchange.StatusNew
	price := req.Price
	if req.Type == exchange.OrderTypeMarket {
		status = exchange.StatusFilled
		price = 100
	}
	return exchange.Order{
		ID:       orderID(f.nextID),
		LinkID:   req.LinkID,
		MarketID: req.MarketID,
		Price:    price,
		Amount:   req.Qty,
		Side:     req.Side,
		Status:   status,
		Type:     req.Type,
	}, nil
}

func (f *fakePlacer) CancelOrder(ctx context.Context, accountID, orderID, marketID string) (exchange.Order, error) {
	if f.cancelErr != nil {
		return exchange.Order{}, f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return exchange.Order{ID: orderID, Status: exchange.StatusCancelled}, nil
}

func orderID(n int) string {
	return "ord-" + string(rune('0'+n))
}

func newTestEngine(placer *fakePlacer) *Engine {
	return NewEngine(placer, stubEnv{price: 100}, logutil.NewNop(), time.Minute, 1)
}

func registered(t *testing.T, e *Engine, opts MartingaleOptions) *Config {
	t.Helper()
	raw, err := json.Marshal(opts)
	if err != nil {
		t.Fatalf("marshal options: %v", err)
	}
	cfg := &Config{
		AccountID: "acc-1",
		Type:      TypeFibonacciMartingale,
		MarketID:  "BTCUSDT",
		Options:   raw,
	}
	if err := e.Register(cfg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return cfg
}

func TestRegisterRejectsUnknownType(t *testing.T) {
	e := newTestEngine(&fakePlacer{})
	err := e.Register(&Config{AccountID: "acc-1", Type: "grid", MarketID: "BTCUSDT"})
	if !errors.Is(err, errs.ErrInvalidConfig) {
		t.Fatalf("Register err=%v, expected ErrInvalidConfig", err)
	}
}

func TestRegisterAssignsID(t *testing.T) {
	e := newTestEngine(&fakePlacer{})
	cfg := registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
	if cfg.ID == "" {
		t.Fatalf("Register left ID empty")
	}
	if _, err := e.Get(cfg.ID); err != nil {
		t.Fatalf("Get after Register: %v", err)
	}
}

// A sweep on a flat strategy opens the ladder and records the resulting order
// ids on the config.
func TestSweepOpensLadder(t *testing.T) {
	placer := &fakePlacer{}
	e := newTestEngine(placer)
	cfg := registered(t, e, MartingaleOptions{
		BaseOrderSize:                 10,
		TakeProfitPct:                 1,
		InitialSafetyOrderDistancePct: 1,
		SafetyOrderStepScale:          1.5,
		SafetyOrderVolumeScale:        2,
		MaxSafetyOrdersCount:          2,
	})

	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(placer.placed) != 4 {
		t.Fatalf("placed %d orders, expected base + tp + 2 safety", len(placer.placed))
	}

	view := cfg.Snapshot()
	if view.TakeProfitOrderID == "" {
		t.Fatalf("take-profit id not recorded")
	}
	// The base market order filled on the ack, so only the safety orders
	// remain live.
	if len(view.Orders) != 2 {
		t.Fatalf("live orders=%v, expected the 2 safety orders", view.Orders)
	}

	// A second sweep must not reopen the ladder.
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(placer.placed) != 4 {
		t.Fatalf("second sweep placed more orders: %d", len(placer.placed))
	}
}

// A take-profit fill ends the cycle: the remaining safety orders are
// cancelled, the config empties, and the next sweep opens a fresh ladder.
func TestTakeProfitFillFlattens(t *testing.T) {
	placer := &fakePlacer{}
	e := newTestEngine(placer)
	cfg := registered(t, e, MartingaleOptions{
		BaseOrderSize:                 10,
		TakeProfitPct:                 1,
		InitialSafetyOrderDistancePct: 1,
		SafetyOrderStepScale:          1.5,
		SafetyOrderVolumeScale:        2,
		MaxSafetyOrdersCount:          2,
	})
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	view := cfg.Snapshot()
	if len(view.Orders) != 2 {
		t.Fatalf("live orders=%v, expected the 2 safety orders", view.Orders)
	}

	err := e.OnExecution(context.Background(), "acc-1", exchange.Execution{
		OrderID:   view.TakeProfitOrderID,
		MarketID:  "BTCUSDT",
		Side:      exchange.SideSell,
		Price:     101,
		Qty:       0.1,
		LeavesQty: 0,
	})
	if err != nil {
		t.Fatalf("OnExecution: %v", err)
	}

	view = cfg.Snapshot()
	if len(view.Orders) != 0 || view.TakeProfitOrderID != "" {
		t.Fatalf("config=%+v, expected no live order ids after take-profit fill", view)
	}
	if len(placer.cancelled) != 2 {
		t.Fatalf("cancelled=%v, expected both safety orders", placer.cancelled)
	}

	// Flat again: the next sweep opens a new ladder.
	placed := len(placer.placed)
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(placer.placed) != placed+4 {
		t.Fatalf("second sweep placed %d orders, expected a fresh ladder of 4", len(placer.placed)-placed)
	}
}

// When the base market order fills on the ack but the take-profit placement
// fails, the next sweep repairs the exit instead of buying a second base
// position on top of the live one.
func TestFailedTakeProfitPlacementRepairs(t *testing.T) {
	placer := &fakePlacer{placeErrAfter: 1}
	e := newTestEngine(placer)
	cfg := registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})

	if err := e.Sweep(context.Background()); err == nil {
		t.Fatalf("Sweep returned nil, expected the take-profit placement failure")
	}
	if len(placer.placed) != 1 || placer.placed[0].Type != exchange.OrderTypeMarket {
		t.Fatalf("placed=%v, expected only the base market buy", placer.placed)
	}

	// The venue recovers.
	placer.placeErrAfter = 0
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}

	buys := 0
	for _, req := range placer.placed {
		if req.Type == exchange.OrderTypeMarket && req.Side == exchange.SideBuy {
			buys++
		}
	}
	if buys != 1 {
		t.Fatalf("placed %d market buys, expected the position opened once", buys)
	}

	view := cfg.Snapshot()
	if view.TakeProfitOrderID == "" {
		t.Fatalf("take-profit not repaired")
	}
	last := placer.placed[len(placer.placed)-1]
	if last.Side != exchange.SideSell || !almostEqual(last.Price, 101) || !almostEqual(last.Qty, 0.1) {
		t.Fatalf("repaired take-profit %+v, expected sell 0.1 at 101", last)
	}
}

// A completed safety fill removes the order id, accumulates the fill, and
// moves the take-profit to the new average entry.
func TestSafetyFillScenario(t *testing.T) {
	placer := &fakePlacer{}
	e := newTestEngine(placer)
	cfg := registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
	cfg.Orders = []string{"o1"}
	cfg.TakeProfitOrderID = "tp1"
	cfg.Fills = []Fill{{OrderID: "base", MarketID: "BTCUSDT", Side: exchange.SideBuy, Price: 100, Qty: 0.1}}

	err := e.OnExecution(context.Background(), "acc-1", exchange.Execution{
		OrderID:   "o1",
		MarketID:  "BTCUSDT",
		Side:      exchange.SideBuy,
		Price:     99,
		Qty:       0.1,
		LeavesQty: 0,
	})
	if err != nil {
		t.Fatalf("OnExecution: %v", err)
	}

	view := cfg.Snapshot()
	if len(view.Orders) != 0 {
		t.Fatalf("orders=%v, expected empty after fill", view.Orders)
	}
	if len(placer.cancelled) != 1 || placer.cancelled[0] != "tp1" {
		t.Fatalf("cancelled=%v, expected [tp1]", placer.cancelled)
	}
	if view.TakeProfitOrderID == "" || view.TakeProfitOrderID == "tp1" {
		t.Fatalf("take-profit id=%q, expected a fresh order", view.TakeProfitOrderID)
	}
	if len(placer.placed) != 1 {
		t.Fatalf("placed %d orders, expected 1 replacement take-profit", len(placer.placed))
	}
	if placer.placed[0].Side != exchange.SideSell {
		t.Fatalf("replacement side=%v, expected sell", placer.placed[0].Side)
	}
}

// Partial executions are bookkeeping for the order cache only; the strategy
// waits for the completing execution.
func TestPartialExecutionIgnored(t *testing.T) {
	placer := &fakePlacer{}
	e := newTestEngine(placer)
	cfg := registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
	cfg.Orders = []string{"o1"}

	err := e.OnExecution(context.Background(), "acc-1", exchange.Execution{
		OrderID:   "o1",
		Side:      exchange.SideBuy,
		Price:     99,
		Qty:       0.05,
		LeavesQty: 0.05,
	})
	if err != nil {
		t.Fatalf("OnExecution: %v", err)
	}
	view := cfg.Snapshot()
	if len(view.Orders) != 1 {
		t.Fatalf("orders=%v, expected o1 retained", view.Orders)
	}
	if len(placer.placed)+len(placer.cancelled) != 0 {
		t.Fatalf("partial execution triggered order traffic")
	}
}

// A fill for an order no strategy owns is silently ignored.
func TestForeignExecutionIgnored(t *testing.T) {
	placer := &fakePlacer{}
	e := newTestEngine(placer)
	registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})

	err := e.OnExecution(context.Background(), "acc-1", exchange.Execution{
		OrderID: "manual-order",
		Side:    exchange.SideBuy,
		Price:   99,
		Qty:     1,
	})
	if err != nil {
		t.Fatalf("OnExecution: %v", err)
	}
	if len(placer.placed)+len(placer.cancelled) != 0 {
		t.Fatalf("foreign execution triggered order traffic")
	}
}

// The take-profit move tolerates the old order being already gone, but any
// other cancel failure aborts before placing the replacement.
func TestTakeProfitMoveCancelSemantics(t *testing.T) {
	t.Run("missing old order tolerated", func(t *testing.T) {
		placer := &fakePlacer{cancelErr: errs.NotFound("order", "tp1")}
		e := newTestEngine(placer)
		cfg := registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
		cfg.Orders = []string{"o1"}
		cfg.TakeProfitOrderID = "tp1"

		err := e.OnExecution(context.Background(), "acc-1", exchange.Execution{
			OrderID: "o1", Side: exchange.SideBuy, Price: 99, Qty: 0.1,
		})
		if err != nil {
			t.Fatalf("OnExecution: %v", err)
		}
		if len(placer.placed) != 1 {
			t.Fatalf("placed %d orders, expected replacement despite missing old tp", len(placer.placed))
		}
	})

	t.Run("other cancel failure aborts", func(t *testing.T) {
		placer := &fakePlacer{cancelErr: errors.New("venue unavailable")}
		e := newTestEngine(placer)
		cfg := registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
		cfg.Orders = []string{"o1"}
		cfg.TakeProfitOrderID = "tp1"

		err := e.OnExecution(context.Background(), "acc-1", exchange.Execution{
			OrderID: "o1", Side: exchange.SideBuy, Price: 99, Qty: 0.1,
		})
		if err == nil {
			t.Fatalf("OnExecution returned nil, expected the cancel failure")
		}
		if len(placer.placed) != 0 {
			t.Fatalf("placed %d orders after failed cancel, expected 0", len(placer.placed))
		}
		if cfg.Snapshot().TakeProfitOrderID != "tp1" {
			t.Fatalf("old take-profit id lost after failed cancel")
		}
	})
}

func TestRemoveAccountDropsConfigs(t *testing.T) {
	e := newTestEngine(&fakePlacer{})
	cfg := registered(t, e, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})

	e.RemoveAccount("acc-1")
	if _, err := e.Get(cfg.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Get err=%v after RemoveAccount, expected ErrNotFound", err)
	}
}
