package strategy

import "mirror-core/internal/errs"

// NewAlgorithm returns the stateless algorithm for a strategy type. An
// unknown type is a configuration error, not retried.
func NewAlgorithm(t Type) (Algorithm, error) {
	switch t {
	case TypeFibonacciMartingale:
		return FibonacciMartingale{}, nil
	default:
		return nil, errs.InvalidConfig("unknown strategy type %q", t)
	}
}
