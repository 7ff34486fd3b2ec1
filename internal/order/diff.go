package order

import (
	"errors"
	"strings"

	"mirror-core/internal/errs"
	"mirror-core/pkg/exchange"
)

// sameOrders reports whether two open-order snapshots are equivalent: same
// length and every order's (id, updatedTime) pair matches. Pure function; the
// refresh path uses it to suppress no-op bulk_updated events.
func sameOrders(a, b []exchange.Order) bool {
	if len(a) != len(b) {
		return false
	}
	updated := make(map[string]int64, len(a))
	for _, o := range a {
		updated[o.ID] = o.UpdatedTime
	}
	for _, o := range b {
		ts, ok := updated[o.ID]
		if !ok || ts != o.UpdatedTime {
			return false
		}
	}
	return true
}

// isMissingOrder classifies a venue cancel failure as "order already gone".
func isMissingOrder(err error) bool {
	if errors.Is(err, errs.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order not exists") || strings.Contains(msg, "order not found") || strings.Contains(msg, "too late to cancel")
}
