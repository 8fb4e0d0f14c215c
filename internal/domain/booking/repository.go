package booking

import (
	"context"

	"github.com/google/uuid"
)

// BookingRepository defines the persistence contract for booking aggregates.
type BookingRepository interface {
	// FindByID retrieves a booking by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// LockByID retrieves a booking and holds an exclusive row lock on it
	// until the surrounding unit of work ends.
	LockByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindByNumber retrieves a booking by its human-readable booking number.
	FindByNumber(ctx context.Context, number string) (*Booking, error)

	// FindByRequester retrieves bookings submitted by a user with pagination.
	FindByRequester(ctx context.Context, requesterID uuid.UUID, page, limit int) ([]*Booking, int64, error)

	// ListAll retrieves all bookings with pagination (admin). An empty status lists every status.
	ListAll(ctx context.Context, status BookingStatus, page, limit int) ([]*Booking, int64, error)

	// CountByStatus returns booking counts grouped by status (admin).
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// Save persists a new booking with its items.
	Save(ctx context.Context, booking *Booking) error

	// Update persists changes to an existing booking with optimistic locking.
	Update(ctx context.Context, booking *Booking) error
}

// AssignmentRepository persists hand-out records.
type AssignmentRepository interface {
	FindByBooking(ctx context.Context, bookingID uuid.UUID) ([]*Assignment, error)
	Save(ctx context.Context, a *Assignment) error
	Update(ctx context.Context, a *Assignment) error
}
