package resource

import (
	"context"

	"github.com/google/uuid"
)

// LockMode selects the strength of a lab row lock.
type LockMode int

const (
	// LockShared is held by resource-level bookings so lab-level writers wait for them.
	LockShared LockMode = iota
	// LockExclusive is held by lab-level bookings and lab-wide blocks.
	LockExclusive
)

// Repository persists resources.
type Repository interface {
	// FindByID retrieves a resource by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Resource, error)

	// FindByIDs retrieves several resources; a missing ID is a NotFound error.
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Resource, error)

	// ListByLab retrieves every resource in a lab.
	ListByLab(ctx context.Context, labID uuid.UUID) ([]*Resource, error)

	// LockForUpdate takes exclusive row locks in ascending ID order and returns
	// the locked rows. Only meaningful inside a unit of work.
	LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*Resource, error)

	// Save persists a new resource.
	Save(ctx context.Context, r *Resource) error

	// Update persists status and quantity changes.
	Update(ctx context.Context, r *Resource) error
}

// LabRepository persists labs.
type LabRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Lab, error)
	List(ctx context.Context) ([]*Lab, error)
	Save(ctx context.Context, lab *Lab) error

	// Lock takes a shared or exclusive row lock on the lab.
	Lock(ctx context.Context, id uuid.UUID, mode LockMode) (*Lab, error)
}
