package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/pkg/domain"
)

// AssignmentStatus is the hand-out record state.
type AssignmentStatus string

const (
	AssignmentAssigned AssignmentStatus = "ASSIGNED"
	AssignmentReturned AssignmentStatus = "RETURNED"
	AssignmentLost     AssignmentStatus = "LOST"
	AssignmentDamaged  AssignmentStatus = "DAMAGED"
)

// IsOpen reports whether the resource is still out.
func (s AssignmentStatus) IsOpen() bool { return s == AssignmentAssigned }

// Condition is reported by the technician at return.
type Condition string

const (
	ConditionOK      Condition = "OK"
	ConditionDamaged Condition = "DAMAGED"
	ConditionLost    Condition = "LOST"
)

// ParseCondition defaults an empty value to OK.
func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case "":
		return ConditionOK, nil
	case ConditionOK, ConditionDamaged, ConditionLost:
		return Condition(s), nil
	}
	return "", domain.NewValidationError(fmt.Sprintf("invalid return condition: %s", s))
}

// Assignment records the physical hand-out of one resource for a booking.
type Assignment struct {
	id         uuid.UUID
	bookingID  uuid.UUID
	resourceID uuid.UUID
	quantity   int
	status     AssignmentStatus
	assignedBy uuid.UUID
	assignedAt time.Time
	closedBy   *uuid.UUID
	closedAt   *time.Time
}

// NewAssignment creates an ASSIGNED record.
func NewAssignment(bookingID, resourceID uuid.UUID, quantity int, assignedBy uuid.UUID, now time.Time) *Assignment {
	return &Assignment{
		id:         uuid.New(),
		bookingID:  bookingID,
		resourceID: resourceID,
		quantity:   quantity,
		status:     AssignmentAssigned,
		assignedBy: assignedBy,
		assignedAt: now.UTC(),
	}
}

// ReconstructAssignment rebuilds an Assignment from persistence data.
func ReconstructAssignment(
	id, bookingID, resourceID uuid.UUID,
	quantity int,
	status AssignmentStatus,
	assignedBy uuid.UUID,
	assignedAt time.Time,
	closedBy *uuid.UUID,
	closedAt *time.Time,
) *Assignment {
	return &Assignment{
		id:         id,
		bookingID:  bookingID,
		resourceID: resourceID,
		quantity:   quantity,
		status:     status,
		assignedBy: assignedBy,
		assignedAt: assignedAt,
		closedBy:   closedBy,
		closedAt:   closedAt,
	}
}

func (a *Assignment) ID() uuid.UUID { return a.id }
func (a *Assignment) BookingID() uuid.UUID { return a.bookingID }
func (a *Assignment) ResourceID() uuid.UUID { return a.resourceID }
func (a *Assignment) Quantity() int { return a.quantity }
func (a *Assignment) Status() AssignmentStatus { return a.status }
func (a *Assignment) AssignedBy() uuid.UUID { return a.assignedBy }
func (a *Assignment) AssignedAt() time.Time { return a.assignedAt }
func (a *Assignment) ClosedBy() *uuid.UUID { return a.closedBy }
func (a *Assignment) ClosedAt() *time.Time { return a.closedAt }

// Close ends the assignment with the status matching the reported condition.
func (a *Assignment) Close(condition Condition, actorID uuid.UUID, now time.Time) error {
	if !a.status.IsOpen() {
		return domain.NewAlreadyProcessedError("assignment", "closed")
	}
	switch condition {
	case ConditionDamaged:
		a.status = AssignmentDamaged
	case ConditionLost:
		a.status = AssignmentLost
	default:
		a.status = AssignmentReturned
	}
	now = now.UTC()
	a.closedBy = &actorID
	a.closedAt = &now
	return nil
}
