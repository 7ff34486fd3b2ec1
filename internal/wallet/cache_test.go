package wallet

import (
	"context"
	"errors"
	"testing"

	"mirror-core/internal/errs"
	"mirror-core/internal/events"
	"mirror-core/pkg/exchange"
	"mirror-core/pkg/logutil"
)

type fakeGateway struct {
	exchange.Gateway
	getBalances func(ctx context.Context, accountID string) (exchange.WalletSnapshot, error)
}

func (f *fakeGateway) GetBalances(ctx context.Context, accountID string) (exchange.WalletSnapshot, error) {
	return f.getBalances(ctx, accountID)
}

func contractWallet(equity float64) exchange.WalletAccount {
	return exchange.WalletAccount{
		AccountType: "CONTRACT",
		Coins:       []exchange.WalletCoin{{Coin: "USDT", Equity: equity, WalletBalance: equity}},
	}
}

func drain(ch <-chan any) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func newTracked(t *testing.T, threshold, equity float64) (*Cache, <-chan any) {
	t.Helper()
	gw := &fakeGateway{getBalances: func(ctx context.Context, accountID string) (exchange.WalletSnapshot, error) {
		return exchange.WalletSnapshot{Accounts: []exchange.WalletAccount{contractWallet(equity)}}, nil
	}}
	bus := events.NewBus()
	updates, unsub := bus.Subscribe(events.TopicWalletBulkUpdated, 16)
	t.Cleanup(unsub)

	cache := NewCache(gw, bus, logutil.NewNop(), 0, 1, threshold)
	if err := cache.Track(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Track: %v", err)
	}
	drain(updates)
	return cache, updates
}

// Push updates apply only when equity moves by strictly more than the
// threshold; a change of exactly the threshold is noise.
func TestPushThresholdIsStrict(t *testing.T) {
	tests := []struct {
		name       string
		newEquity  float64
		wantApply  bool
		wantEquity float64
	}{
		{name: "below threshold", newEquity: 100.05, wantApply: false, wantEquity: 100},
		{name: "exactly threshold", newEquity: 100.10, wantApply: false, wantEquity: 100},
		{name: "above threshold", newEquity: 100.11, wantApply: true, wantEquity: 100.11},
		{name: "drop above threshold", newEquity: 99.80, wantApply: true, wantEquity: 99.80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, updates := newTracked(t, 0.10, 100)

			if err := cache.ProcessWalletData("acc-1", contractWallet(tt.newEquity)); err != nil {
				t.Fatalf("ProcessWalletData: %v", err)
			}

			wantEvents := 0
			if tt.wantApply {
				wantEvents = 1
			}
			if n := drain(updates); n != wantEvents {
				t.Fatalf("published %d events, expected %d", n, wantEvents)
			}
			equity, err := cache.Equity("acc-1")
			if err != nil {
				t.Fatalf("Equity: %v", err)
			}
			if equity != tt.wantEquity {
				t.Fatalf("equity=%v, expected %v", equity, tt.wantEquity)
			}
		})
	}
}

func TestPushForUntrackedAccount(t *testing.T) {
	cache := NewCache(&fakeGateway{}, events.NewBus(), logutil.NewNop(), 0, 1, 0.10)
	err := cache.ProcessWalletData("ghost", contractWallet(50))
	if !errors.Is(err, errs.ErrNotTracked) {
		t.Fatalf("ProcessWalletData err=%v, expected ErrNotTracked", err)
	}
}

// Updates for a different wallet account type are ignored without error.
func TestPushIgnoresOtherAccountTypes(t *testing.T) {
	cache, updates := newTracked(t, 0.10, 100)

	spot := exchange.WalletAccount{
		AccountType: "SPOT",
		Coins:       []exchange.WalletCoin{{Coin: "USDT", Equity: 5}},
	}
	if err := cache.ProcessWalletData("acc-1", spot); err != nil {
		t.Fatalf("ProcessWalletData: %v", err)
	}
	if n := drain(updates); n != 0 {
		t.Fatalf("published %d events for a SPOT update, expected 0", n)
	}
	equity, _ := cache.Equity("acc-1")
	if equity != 100 {
		t.Fatalf("equity=%v, expected unchanged 100", equity)
	}
}

// The poll path replaces the snapshot unconditionally, even for a sub-threshold
// move.
func TestSyncAlwaysReplaces(t *testing.T) {
	equity := 100.0
	gw := &fakeGateway{getBalances: func(ctx context.Context, accountID string) (exchange.WalletSnapshot, error) {
		return exchange.WalletSnapshot{Accounts: []exchange.WalletAccount{contractWallet(equity)}}, nil
	}}
	bus := events.NewBus()
	updates, unsub := bus.Subscribe(events.TopicWalletBulkUpdated, 16)
	defer unsub()
	cache := NewCache(gw, bus, logutil.NewNop(), 0, 1, 0.10)
	ctx := context.Background()

	if err := cache.Track(ctx, "acc-1"); err != nil {
		t.Fatalf("Track: %v", err)
	}
	drain(updates)

	equity = 100.01
	if err := cache.SyncAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}
	if n := drain(updates); n != 1 {
		t.Fatalf("published %d events, expected 1", n)
	}
	got, _ := cache.Equity("acc-1")
	if got != 100.01 {
		t.Fatalf("equity=%v, expected 100.01", got)
	}
}
