// Package unitofwork defines the atomic boundary every booking-affecting
// operation runs in. Row locks taken through the repositories handed to fn
// are held until fn returns; returning an error rolls back every write.
package unitofwork

import (
	"context"

	"github.com/labreserve/service-booking/internal/domain/booking"
	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/stock"
)

// Repositories groups the repositories bound to one unit of work.
type Repositories struct {
	Labs           resource.LabRepository
	Resources      resource.Repository
	Intervals      interval.Repository
	Bookings       booking.BookingRepository
	Assignments    booking.AssignmentRepository
	Movements      stock.MovementRepository
	Certifications identity.CertificationRepository
}

// Store opens units of work.
type Store interface {
	// Repositories returns non-locking repositories for read paths.
	Repositories() Repositories

	// WithinTx runs fn atomically. Lock waits that exceed the storage lock
	// timeout surface as a retryable contention error with nothing committed.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
