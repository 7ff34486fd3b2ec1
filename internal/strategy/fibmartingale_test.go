package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"mirror-core/internal/errs"
	"mirror-core/pkg/exchange"
)

type stubEnv struct {
	price float64
	err   error
}

func (s stubEnv) Price(ctx context.Context, accountID, marketID string) (float64, error) {
	return s.price, s.err
}

func martingaleConfig(t *testing.T, opts MartingaleOptions) *Config {
	t.Helper()
	raw, err := json.Marshal(opts)
	if err != nil {
		t.Fatalf("marshal options: %v", err)
	}
	return &Config{
		ID:        "s1",
		AccountID: "acc-1",
		Type:      TypeFibonacciMartingale,
		MarketID:  "BTCUSDT",
		Options:   raw,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLadderDeviations(t *testing.T) {
	tests := []struct {
		name       string
		initialPct float64
		stepScale  float64
		count      int
		want       []float64
	}{
		{name: "compounding", initialPct: 1, stepScale: 1.5, count: 3, want: []float64{1, 2.5, 4.75}},
		{name: "flat scale", initialPct: 2, stepScale: 1, count: 3, want: []float64{2, 4, 6}},
		{name: "single rung", initialPct: 3, stepScale: 2, count: 1, want: []float64{3}},
		{name: "no rungs", initialPct: 1, stepScale: 1.5, count: 0, want: []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LadderDeviations(tt.initialPct, tt.stepScale, tt.count)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d deviations, expected %d", len(got), len(tt.want))
			}
			for i := range got {
				if !almostEqual(got[i], tt.want[i]) {
					t.Fatalf("dev[%d]=%v, expected %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidateRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts MartingaleOptions
	}{
		{name: "zero base size", opts: MartingaleOptions{TakeProfitPct: 1}},
		{name: "zero take profit", opts: MartingaleOptions{BaseOrderSize: 10}},
		{
			name: "ladder without distance",
			opts: MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1, MaxSafetyOrdersCount: 2, SafetyOrderStepScale: 1.5, SafetyOrderVolumeScale: 2},
		},
		{
			name: "unknown currency mode",
			opts: MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1, CurrencyMode: "EUR"},
		},
	}

	var algo FibonacciMartingale
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := martingaleConfig(t, tt.opts)
			if err := algo.Validate(cfg); !errors.Is(err, errs.ErrInvalidConfig) {
				t.Fatalf("Validate err=%v, expected ErrInvalidConfig", err)
			}
		})
	}
}

func TestOpenLadderShape(t *testing.T) {
	cfg := martingaleConfig(t, MartingaleOptions{
		BaseOrderSize:                 10,
		SafetyOrderSize:               10,
		TakeProfitPct:                 1,
		InitialSafetyOrderDistancePct: 1,
		SafetyOrderStepScale:          1.5,
		SafetyOrderVolumeScale:        2,
		MaxSafetyOrdersCount:          3,
		CurrencyMode:                  ModeQuote,
	})

	var algo FibonacciMartingale
	actions, err := algo.Process(context.Background(), stubEnv{price: 100}, cfg, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Base + take-profit + three safety rungs.
	if len(actions) != 5 {
		t.Fatalf("got %d actions, expected 5", len(actions))
	}

	base := actions[0].Place
	if base == nil || base.Role != RoleBase {
		t.Fatalf("actions[0]=%+v, expected base place", actions[0])
	}
	if base.Req.Type != exchange.OrderTypeMarket || base.Req.Side != exchange.SideBuy {
		t.Fatalf("base order %+v, expected market buy", base.Req)
	}
	if !almostEqual(base.Req.Qty, 0.1) {
		t.Fatalf("base qty=%v, expected 0.1 (10 quote / 100)", base.Req.Qty)
	}

	tp := actions[1].Place
	if tp == nil || tp.Role != RoleTakeProfit {
		t.Fatalf("actions[1]=%+v, expected take-profit place", actions[1])
	}
	if tp.Req.Side != exchange.SideSell || !almostEqual(tp.Req.Price, 101) {
		t.Fatalf("take-profit %+v, expected sell at 101", tp.Req)
	}

	wantPrices := []float64{99, 97.5, 95.25}
	wantSizes := []float64{10, 20, 40}
	for i, a := range actions[2:] {
		p := a.Place
		if p == nil || p.Role != RoleSafety {
			t.Fatalf("actions[%d]=%+v, expected safety place", i+2, a)
		}
		if p.Req.Type != exchange.OrderTypeLimit || p.Req.Side != exchange.SideBuy {
			t.Fatalf("safety %d is %+v, expected limit buy", i, p.Req)
		}
		if !almostEqual(p.Req.Price, wantPrices[i]) {
			t.Fatalf("safety %d price=%v, expected %v", i, p.Req.Price, wantPrices[i])
		}
		if !almostEqual(p.Req.Qty, wantSizes[i]/wantPrices[i]) {
			t.Fatalf("safety %d qty=%v, expected %v", i, p.Req.Qty, wantSizes[i]/wantPrices[i])
		}
	}
}

// An engaged strategy (live orders or take-profit) must not open a second
// ladder on the tick path.
func TestTickSkipsEngagedStrategy(t *testing.T) {
	cfg := martingaleConfig(t, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
	cfg.TakeProfitOrderID = "tp1"

	var algo FibonacciMartingale
	actions, err := algo.Process(context.Background(), stubEnv{price: 100}, cfg, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("engaged strategy produced %d actions, expected 0", len(actions))
	}
}

func TestSafetyFillMovesTakeProfit(t *testing.T) {
	cfg := martingaleConfig(t, MartingaleOptions{
		BaseOrderSize: 10,
		TakeProfitPct: 1,
	})
	cfg.TakeProfitOrderID = "tp1"
	cfg.Fills = []Fill{
		{OrderID: "base", MarketID: "BTCUSDT", Side: exchange.SideBuy, Price: 100, Qty: 0.1},
		{OrderID: "s1", MarketID: "BTCUSDT", Side: exchange.SideBuy, Price: 99, Qty: 0.1},
	}
	fill := &cfg.Fills[1]

	var algo FibonacciMartingale
	actions, err := algo.Process(context.Background(), stubEnv{price: 99}, cfg, fill)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, expected cancel + place", len(actions))
	}

	cancel := actions[0].Cancel
	if cancel == nil || cancel.OrderID != "tp1" || !cancel.TolerateMissing {
		t.Fatalf("actions[0]=%+v, expected tolerant cancel of tp1", actions[0])
	}

	place := actions[1].Place
	if place == nil || place.Role != RoleTakeProfit {
		t.Fatalf("actions[1]=%+v, expected take-profit place", actions[1])
	}
	// Weighted average of 100 and 99 over equal qty is 99.5.
	if !almostEqual(place.Req.Price, 99.5*1.01) {
		t.Fatalf("take-profit price=%v, expected %v", place.Req.Price, 99.5*1.01)
	}
	if !almostEqual(place.Req.Qty, 0.2) {
		t.Fatalf("take-profit qty=%v, expected 0.2", place.Req.Qty)
	}
}

// An exit fill tears down whatever remains of the ladder so the next tick
// starts flat.
func TestSellFillCancelsRemainingSafeties(t *testing.T) {
	cfg := martingaleConfig(t, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
	cfg.Orders = []string{"s1", "s2"}
	fill := &Fill{OrderID: "tp1", Side: exchange.SideSell, Price: 101, Qty: 0.1}

	var algo FibonacciMartingale
	actions, err := algo.Process(context.Background(), stubEnv{price: 101}, cfg, fill)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, expected a cancel per safety order", len(actions))
	}
	for i, want := range []string{"s1", "s2"} {
		cancel := actions[i].Cancel
		if cancel == nil || cancel.OrderID != want || !cancel.TolerateMissing {
			t.Fatalf("actions[%d]=%+v, expected tolerant cancel of %s", i, actions[i], want)
		}
	}
}

// A config holding fills without a live exit gets its take-profit placed on
// the tick path instead of a second ladder.
func TestTickRepairsMissingTakeProfit(t *testing.T) {
	cfg := martingaleConfig(t, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
	cfg.Fills = []Fill{{OrderID: "base", MarketID: "BTCUSDT", Side: exchange.SideBuy, Price: 100, Qty: 0.1}}

	var algo FibonacciMartingale
	actions, err := algo.Process(context.Background(), stubEnv{price: 100}, cfg, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, expected only the take-profit place", len(actions))
	}
	place := actions[0].Place
	if place == nil || place.Role != RoleTakeProfit {
		t.Fatalf("actions[0]=%+v, expected take-profit place", actions[0])
	}
	if place.Req.Side != exchange.SideSell || !almostEqual(place.Req.Price, 101) || !almostEqual(place.Req.Qty, 0.1) {
		t.Fatalf("take-profit %+v, expected sell 0.1 at 101", place.Req)
	}
}

func TestSellFillProducesNoActions(t *testing.T) {
	cfg := martingaleConfig(t, MartingaleOptions{BaseOrderSize: 10, TakeProfitPct: 1})
	fill := &Fill{OrderID: "tp1", Side: exchange.SideSell, Price: 101, Qty: 0.1}

	var algo FibonacciMartingale
	actions, err := algo.Process(context.Background(), stubEnv{price: 101}, cfg, fill)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("sell fill produced %d actions, expected 0", len(actions))
	}
}
