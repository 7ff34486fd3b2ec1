package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"mirror-core/internal/errs"
	"mirror-core/internal/gateway"
	"mirror-core/internal/strategy"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundtrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	creds := gateway.Credentials{AccountID: "acc-1", Venue: "paper", APIKey: "k", APISecret: "s"}
	if err := s.SaveAccount(ctx, creds); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	// Upsert with new venue.
	creds.Venue = "paper-2"
	if err := s.SaveAccount(ctx, creds); err != nil {
		t.Fatalf("SaveAccount upsert: %v", err)
	}

	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("got %d accounts, expected 1", len(accounts))
	}
	if accounts[0] != creds {
		t.Fatalf("got %+v, expected %+v", accounts[0], creds)
	}

	if err := s.DeleteAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := s.DeleteAccount(ctx, "acc-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second DeleteAccount err=%v, expected ErrNotFound", err)
	}
}

func TestSaveAccountRequiresID(t *testing.T) {
	s := openTemp(t)
	err := s.SaveAccount(context.Background(), gateway.Credentials{Venue: "paper"})
	if !errors.Is(err, errs.ErrInvalidConfig) {
		t.Fatalf("SaveAccount err=%v, expected ErrInvalidConfig", err)
	}
}

func TestStrategyRoundtrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	opts := json.RawMessage(`{"baseOrderSize":10,"takeProfitPct":1}`)
	cfg := &strategy.Config{
		ID:        "strat-1",
		AccountID: "acc-1",
		Type:      strategy.TypeFibonacciMartingale,
		MarketID:  "BTCUSDT",
		Options:   opts,
	}
	if err := s.SaveStrategy(ctx, cfg); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}

	configs, err := s.ListStrategies(ctx)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("got %d strategies, expected 1", len(configs))
	}
	got := configs[0]
	if got.ID != "strat-1" || got.AccountID != "acc-1" || got.Type != strategy.TypeFibonacciMartingale || got.MarketID != "BTCUSDT" {
		t.Fatalf("got %+v", got)
	}
	if string(got.Options) != string(opts) {
		t.Fatalf("options=%s, expected %s", got.Options, opts)
	}

	if err := s.DeleteStrategy(ctx, "strat-1"); err != nil {
		t.Fatalf("DeleteStrategy: %v", err)
	}
	if err := s.DeleteStrategy(ctx, "strat-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second DeleteStrategy err=%v, expected ErrNotFound", err)
	}
}

// Deleting an account removes its strategies too.
func TestDeleteAccountCascades(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.SaveAccount(ctx, gateway.Credentials{AccountID: "acc-1", Venue: "paper"}); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	cfg := &strategy.Config{
		ID:        "strat-1",
		AccountID: "acc-1",
		Type:      strategy.TypeFibonacciMartingale,
		MarketID:  "BTCUSDT",
		Options:   json.RawMessage(`{}`),
	}
	if err := s.SaveStrategy(ctx, cfg); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}

	if err := s.DeleteAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	configs, err := s.ListStrategies(ctx)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(configs) != 0 {
		t.Fatalf("strategies=%v after account delete, expected none", configs)
	}
}
