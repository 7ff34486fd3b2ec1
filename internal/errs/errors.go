// Package errs defines the error taxonomy shared by the account caches and
// the strategy engine.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotTracked marks operations against an account no cache entry exists for.
	ErrNotTracked = errors.New("account not tracked")
	// ErrNotFound marks a missing entity inside a tracked account.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConfig marks an unusable strategy configuration.
	ErrInvalidConfig = errors.New("invalid strategy configuration")
)

// NotTracked reports that accountID has no entry in the calling cache.
func NotTracked(accountID string) error {
	return fmt.Errorf("%w: %s", ErrNotTracked, accountID)
}

// NotFound reports a missing entity (order, market, position) within a
// tracked account.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// InvalidConfig reports a strategy configuration problem.
func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// UpstreamError wraps a failed Exchange Gateway call.
type UpstreamError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed for account %s: %v", e.Op, e.AccountID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as a gateway failure, passing nil through.
func Upstream(accountID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{AccountID: accountID, Op: op, Err: err}
}

// AccountError pairs a fan-out failure with the account it belongs to.
type AccountError struct {
	AccountID string
	Err       error
}

// AggregateError collects per-account failures from a fan-out. The other
// accounts' work completed normally.
type AggregateError struct {
	Op     string
	Errors []AccountError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ae := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %v", ae.AccountID, ae.Err))
	}
	return fmt.Sprintf("%s failed for %d account(s): %s", e.Op, len(e.Errors), strings.Join(parts, "; "))
}

// Aggregate builds an AggregateError, or nil when no account failed.
func Aggregate(op string, errs []AccountError) error {
	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Op: op, Errors: errs}
}
