package stock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/pkg/domain"
)

// Reason explains why a quantity changed.
type Reason string

const (
	ReasonPickUp     Reason = "pick_up"
	ReasonReturn     Reason = "return"
	ReasonRestock    Reason = "restock"
	ReasonCorrection Reason = "correction"
	ReasonWriteOff   Reason = "write_off"
)

// IsValid returns true if the reason is recognized.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonPickUp, ReasonReturn, ReasonRestock, ReasonCorrection, ReasonWriteOff:
		return true
	}
	return false
}

// Apply computes current+delta under the ledger rules: the result is
// never negative and never exceeds total when a total is tracked.
func Apply(resourceID string, current, delta int, total *int) (int, error) {
	next := current + delta
	if next < 0 {
		return current, domain.NewInsufficientStockError(resourceID, -delta, current)
	}
	if total != nil && next > *total {
		return current, domain.NewValidationError("adjustment would exceed the tracked total quantity")
	}
	return next, nil
}

// Movement is an append-only record of one quantity change.
type Movement struct {
	ID            uuid.UUID
	ResourceID    uuid.UUID
	Delta         int
	QuantityAfter int
	Reason        Reason
	BookingID     *uuid.UUID
	ActorID       *uuid.UUID
	Note          string
	CreatedAt     time.Time
}

// NewMovement builds a movement stamped now.
func NewMovement(resourceID uuid.UUID, delta, quantityAfter int, reason Reason, bookingID, actorID *uuid.UUID, note string) *Movement {
	return &Movement{
		ID:            uuid.New(),
		ResourceID:    resourceID,
		Delta:         delta,
		QuantityAfter: quantityAfter,
		Reason:        reason,
		BookingID:     bookingID,
		ActorID:       actorID,
		Note:          note,
		CreatedAt:     time.Now().UTC(),
	}
}

// MovementRepository is append-only: there is no update or delete.
type MovementRepository interface {
	Append(ctx context.Context, m *Movement) error
	ListByResource(ctx context.Context, resourceID uuid.UUID, page, limit int) ([]*Movement, int64, error)
}
