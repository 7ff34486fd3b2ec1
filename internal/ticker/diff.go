package ticker

import "sort"

// diffSymbols computes the symmetric difference between the required symbol
// set and the currently subscribed one. Results are sorted so reconciliation
// is deterministic.
func diffSymbols(required map[string]struct{}, current map[string]struct{}) (toSubscribe, toUnsubscribe []string) {
	for s := range required {
		if _, ok := current[s]; !ok {
			toSubscribe = append(toSubscribe, s)
		}
	}
	for s := range current {
		if _, ok := required[s]; !ok {
			toUnsubscribe = append(toUnsubscribe, s)
		}
	}
	sort.Strings(toSubscribe)
	sort.Strings(toUnsubscribe)
	return toSubscribe, toUnsubscribe
}
