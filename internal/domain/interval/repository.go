package interval

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the Interval Store.
type Repository interface {
	// FindConflicts returns intervals matching q ordered by start time.
	FindConflicts(ctx context.Context, q Query) ([]*Interval, error)

	// FindByID retrieves an interval by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Interval, error)

	// FindByBooking retrieves every interval materialized by a booking.
	FindByBooking(ctx context.Context, bookingID uuid.UUID) ([]*Interval, error)

	// Insert persists a new interval.
	Insert(ctx context.Context, i *Interval) error

	// SetStatus updates the status of an existing interval.
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Interval, error)

	// Delete removes an interval.
	Delete(ctx context.Context, id uuid.UUID) error
}
