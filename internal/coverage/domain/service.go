package domain

import (
	"context"
	"time"
)

type CreatePeriodRequest struct {
	StayID string    `json:"stay_id"`
	Start  time.Time `json:"start_date"`
	End    time.Time `json:"end_date"`

	// AmountCents overrides the computed charge. When nil the amount is
	// day count times the stay's effective daily rate.
	AmountCents *int64 `json:"amount_cents"`
}

type Service interface {
	// LastBilledDate returns the latest covered day across the stay's
	// active, non-cancelled periods, or nil when nothing was billed yet.
	LastBilledDate(ctx context.Context, stayID string) (*time.Time, error)

	// PendingRange computes the unbilled days of a stay up to the
	// reference date, inclusive.
	PendingRange(ctx context.Context, stayID string, reference time.Time) (PendingRange, error)

	// Overlaps reports whether [start, end] intersects any active,
	// non-cancelled billed period of the stay.
	Overlaps(ctx context.Context, stayID string, start, end time.Time) (bool, error)

	// CreatePeriod charges a date range: it creates the payment and the
	// billed period in one transaction, rejecting any overlap with
	// ErrPeriodOverlap.
	CreatePeriod(ctx context.Context, req CreatePeriodRequest) (BilledPeriod, error)

	ListPeriods(ctx context.Context, stayID string) ([]BilledPeriod, error)
}
