package ticker

import (
	"testing"
	"time"
)

func TestThrottleWindow(t *testing.T) {
	th := NewThrottle(50 * time.Millisecond)

	if !th.Allow("tickers.BTCUSDT", "acc-1") {
		t.Fatalf("first update was throttled")
	}
	if th.Allow("tickers.BTCUSDT", "acc-1") {
		t.Fatalf("second update inside the window was allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if !th.Allow("tickers.BTCUSDT", "acc-1") {
		t.Fatalf("update after the window was throttled")
	}
}

// Throttling is scoped per (topic, account); one pair never starves another.
func TestThrottleIsPerKey(t *testing.T) {
	th := NewThrottle(time.Minute)

	if !th.Allow("tickers.BTCUSDT", "acc-1") {
		t.Fatalf("acc-1 BTCUSDT throttled on first update")
	}
	if !th.Allow("tickers.ETHUSDT", "acc-1") {
		t.Fatalf("different topic shares the limiter")
	}
	if !th.Allow("tickers.BTCUSDT", "acc-2") {
		t.Fatalf("different account shares the limiter")
	}
}

func TestThrottleForget(t *testing.T) {
	th := NewThrottle(time.Minute)
	th.Allow("tickers.BTCUSDT", "acc-1")

	th.Forget("acc-1")
	if !th.Allow("tickers.BTCUSDT", "acc-1") {
		t.Fatalf("limiter survived Forget")
	}
}
