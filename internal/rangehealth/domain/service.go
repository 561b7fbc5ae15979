package domain

import "context"

type Service interface {
	// Status inspects the active range against the configured thresholds
	// and returns the current warnings. It never mutates range state.
	Status(ctx context.Context) (Report, error)
}
