package domain

import (
	"context"

	"gorm.io/gorm"
)

type Service interface {
	// Import registers a parsed CAI authorization. The first range imported
	// while none is active becomes active immediately; otherwise the new
	// range stays inactive until operators retire the old one and activate
	// it.
	Import(ctx context.Context, auth ParsedAuthorization) (InvoiceRange, error)

	// Activate promotes an inactive range. Fails while another range is
	// active or when the range's deadline has already passed.
	Activate(ctx context.Context, id string) (InvoiceRange, error)

	// Retire demotes the active range to inactive so a successor can be
	// activated.
	Retire(ctx context.Context, id string) (InvoiceRange, error)

	// AllocateInTx issues the next correlative inside the caller's
	// transaction. The pointer advance commits or rolls back together with
	// whatever the caller persists, so a committed invoice and its number
	// are inseparable.
	AllocateInTx(ctx context.Context, tx *gorm.DB) (Allocation, error)

	// ActiveRange returns the currently active range without mutating
	// anything, or nil when none is active.
	ActiveRange(ctx context.Context) (*InvoiceRange, error)

	List(ctx context.Context) ([]InvoiceRange, error)
}
