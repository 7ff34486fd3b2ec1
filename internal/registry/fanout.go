package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"mirror-core/internal/errs"
)

// FanOut runs fn concurrently for every account id, bounded by limit
// goroutines. One account's failure neither cancels nor blocks the others;
// failures are collected and returned as a single aggregate error after the
// whole batch completes.
func FanOut(ctx context.Context, op string, ids []string, limit int, fn func(ctx context.Context, accountID string) error) error {
	if limit <= 0 {
		limit = 8
	}

	var (
		mu       sync.Mutex
		failures []errs.AccountError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		accountID := id
		g.Go(func() error {
			if err := fn(gctx, accountID); err != nil {
				mu.Lock()
				failures = append(failures, errs.AccountError{AccountID: accountID, Err: err})
				mu.Unlock()
			}
			// Always nil: a failed account must not cancel the group.
			return nil
		})
	}
	_ = g.Wait()

	return errs.Aggregate(op, failures)
}
