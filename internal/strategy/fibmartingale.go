package strategy

import (
	"context"
	"encoding/json"

	"mirror-core/internal/errs"
	"mirror-core/pkg/exchange"
)

// MartingaleOptions parameterize the compounding safety-order ladder.
type MartingaleOptions struct {
	BaseOrderSize                 float64      `json:"baseOrderSize"`
	SafetyOrderSize               float64      `json:"safetyOrderSize"`
	TakeProfitPct                 float64      `json:"takeProfitPct"`
	InitialSafetyOrderDistancePct float64      `json:"initialSafetyOrderDistancePct"`
	SafetyOrderStepScale          float64      `json:"safetyOrderStepScale"`
	SafetyOrderVolumeScale        float64      `json:"safetyOrderVolumeScale"`
	MaxSafetyOrdersCount          int          `json:"maxSafetyOrdersCount"`
	CurrencyMode                  CurrencyMode `json:"currencyMode"`
}

// FibonacciMartingale places a market base order, a take-profit above it, and
// a ladder of safety buys below it with compounding distance and geometric
// size. A safety fill moves the take-profit to the new weighted average
// entry.
type FibonacciMartingale struct{}

func (FibonacciMartingale) Type() Type { return TypeFibonacciMartingale }

// Validate parses and range-checks the options before any order is placed.
func (FibonacciMartingale) Validate(cfg *Config) error {
	_, err := parseMartingaleOptions(cfg)
	return err
}

func parseMartingaleOptions(cfg *Config) (MartingaleOptions, error) {
	var opts MartingaleOptions
	if err := json.Unmarshal(cfg.Options, &opts); err != nil {
		return opts, errs.InvalidConfig("strategy %s: bad options: %v", cfg.ID, err)
	}
	if opts.BaseOrderSize <= 0 {
		return opts, errs.InvalidConfig("strategy %s: baseOrderSize must be positive", cfg.ID)
	}
	if opts.SafetyOrderSize <= 0 {
		opts.SafetyOrderSize = opts.BaseOrderSize
	}
	if opts.TakeProfitPct <= 0 {
		return opts, errs.InvalidConfig("strategy %s: takeProfitPct must be positive", cfg.ID)
	}
	if opts.MaxSafetyOrdersCount < 0 {
		return opts, errs.InvalidConfig("strategy %s: maxSafetyOrdersCount must not be negative", cfg.ID)
	}
	if opts.MaxSafetyOrdersCount > 0 {
		if opts.InitialSafetyOrderDistancePct <= 0 {
			return opts, errs.InvalidConfig("strategy %s: initialSafetyOrderDistancePct must be positive", cfg.ID)
		}
		if opts.SafetyOrderStepScale <= 0 {
			return opts, errs.InvalidConfig("strategy %s: safetyOrderStepScale must be positive", cfg.ID)
		}
		if opts.SafetyOrderVolumeScale <= 0 {
			return opts, errs.InvalidConfig("strategy %s: safetyOrderVolumeScale must be positive", cfg.ID)
		}
	}
	switch opts.CurrencyMode {
	case "":
		opts.CurrencyMode = ModeQuote
	case ModeQuote, ModeBase:
	default:
		return opts, errs.InvalidConfig("strategy %s: unknown currencyMode %q", cfg.ID, opts.CurrencyMode)
	}
	return opts, nil
}

// LadderDeviations returns the percentage distance below the base price for
// each safety rung. Distances compound: each rung's deviation is the previous
// one scaled by stepScale plus the initial distance again.
func LadderDeviations(initialPct, stepScale float64, count int) []float64 {
	devs := make([]float64, 0, count)
	dev := 0.0
	for i := 0; i < count; i++ {
		if i == 0 {
			dev = initialPct
		} else {
			dev = dev*stepScale + initialPct
		}
		devs = append(devs, dev)
	}
	return devs
}

// Process implements the ladder state machine.
func (a FibonacciMartingale) Process(ctx context.Context, env Env, cfg *Config, fill *Fill) ([]Action, error) {
	opts, err := parseMartingaleOptions(cfg)
	if err != nil {
		return nil, err
	}

	if fill != nil {
		return a.onFill(cfg, opts, fill)
	}

	// Tick path: a strategy with live orders or a working exit is engaged.
	if len(cfg.Orders) > 0 || cfg.TakeProfitOrderID != "" {
		return nil, nil
	}
	if len(cfg.Fills) > 0 {
		// Holding a position without an exit: the take-profit placement
		// failed after the base order filled. Repair the exit rather than
		// opening a second ladder on top of the live position.
		return a.replaceTakeProfit(cfg, opts), nil
	}
	return a.openLadder(ctx, env, cfg, opts)
}

func (a FibonacciMartingale) openLadder(ctx context.Context, env Env, cfg *Config, opts MartingaleOptions) ([]Action, error) {
	basePrice, err := env.Price(ctx, cfg.AccountID, cfg.MarketID)
	if err != nil {
		return nil, err
	}

	baseQty := opts.BaseOrderSize
	if opts.CurrencyMode == ModeQuote {
		baseQty = opts.BaseOrderSize / basePrice
	}

	actions := []Action{
		{Place: &PlaceAction{Role: RoleBase, Req: exchange.OrderRequest{
			MarketID: cfg.MarketID,
			Type:     exchange.OrderTypeMarket,
			Side:     exchange.SideBuy,
			Qty:      baseQty,
		}}},
		{Place: &PlaceAction{Role: RoleTakeProfit, Req: exchange.OrderRequest{
			MarketID: cfg.MarketID,
			Type:     exchange.OrderTypeLimit,
			Side:     exchange.SideSell,
			Qty:      baseQty,
			Price:    basePrice * (1 + opts.TakeProfitPct/100),
		}}},
	}

	devs := LadderDeviations(opts.InitialSafetyOrderDistancePct, opts.SafetyOrderStepScale, opts.MaxSafetyOrdersCount)
	size := opts.SafetyOrderSize
	for _, dev := range devs {
		price := basePrice * (1 - dev/100)
		qty := size
		if opts.CurrencyMode == ModeQuote {
			qty = size / price
		}
		actions = append(actions, Action{Place: &PlaceAction{Role: RoleSafety, Req: exchange.OrderRequest{
			MarketID: cfg.MarketID,
			Type:     exchange.OrderTypeLimit,
			Side:     exchange.SideBuy,
			Qty:      qty,
			Price:    price,
		}}})
		size *= opts.SafetyOrderVolumeScale
	}

	return actions, nil
}

// onFill runs after the engine has removed the filled id from the config. A
// take-profit or stop-loss fill ends the cycle, so the unfilled safety rungs
// are torn down; a base or safety buy moves the take-profit to the recomputed
// weighted average entry.
func (a FibonacciMartingale) onFill(cfg *Config, opts MartingaleOptions, fill *Fill) ([]Action, error) {
	if fill.Side != exchange.SideBuy {
		actions := make([]Action, 0, len(cfg.Orders))
		for _, id := range cfg.Orders {
			actions = append(actions, Action{Cancel: &CancelAction{
				OrderID:         id,
				Role:            RoleSafety,
				TolerateMissing: true,
			}})
		}
		return actions, nil
	}
	return a.replaceTakeProfit(cfg, opts), nil
}

// replaceTakeProfit moves the exit to the current weighted average entry:
// a tolerant cancel of the old take-profit when one is live, then a fresh
// limit sell for the full accumulated quantity.
func (a FibonacciMartingale) replaceTakeProfit(cfg *Config, opts MartingaleOptions) []Action {
	avg, totalQty := averageEntry(cfg.Fills)
	if totalQty <= 0 {
		return nil
	}
	target := avg * (1 + opts.TakeProfitPct/100)

	var actions []Action
	if cfg.TakeProfitOrderID != "" {
		actions = append(actions, Action{Cancel: &CancelAction{
			OrderID:         cfg.TakeProfitOrderID,
			Role:            RoleTakeProfit,
			TolerateMissing: true,
		}})
	}
	actions = append(actions, Action{Place: &PlaceAction{Role: RoleTakeProfit, Req: exchange.OrderRequest{
		MarketID: cfg.MarketID,
		Type:     exchange.OrderTypeLimit,
		Side:     exchange.SideSell,
		Qty:      totalQty,
		Price:    target,
	}}})
	return actions
}

// averageEntry returns the quantity-weighted average price over buy fills.
func averageEntry(fills []Fill) (avg, totalQty float64) {
	var notional float64
	for _, f := range fills {
		if f.Side != exchange.SideBuy {
			continue
		}
		notional += f.Price * f.Qty
		totalQty += f.Qty
	}
	if totalQty == 0 {
		return 0, 0
	}
	return notional / totalQty, totalQty
}
