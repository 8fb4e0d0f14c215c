package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/pkg/domain"
)

const bookingNumberChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Kind tags the booking variant. All kinds share one state machine.
type Kind string

const (
	KindReservation Kind = "reservation"
	KindLoan        Kind = "loan"
	KindRequest     Kind = "request"
)

// IsValid returns true if the kind is recognized.
func (k Kind) IsValid() bool {
	switch k {
	case KindReservation, KindLoan, KindRequest:
		return true
	}
	return false
}

// HoldsOnCreate reports whether intervals are inserted at creation. A request
// only claims its intervals once approved.
func (k Kind) HoldsOnCreate() bool {
	return k != KindRequest
}

// Item is one resource reference with the quantity claimed.
type Item struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Quantity   int       `json:"quantity"`
}

// Booking is the aggregate root for reservations, loans and requests.
type Booking struct {
	id            uuid.UUID
	bookingNumber string
	kind          Kind
	requesterID   uuid.UUID
	requesterRole string
	labID         uuid.UUID
	items         []Item
	window        interval.Window
	status        BookingStatus

	notes        string
	reviewerNote string
	reviewedBy   *uuid.UUID
	cancelNote   string

	approvedAt  *time.Time
	pickedUpAt  *time.Time
	returnedAt  *time.Time
	cancelledAt *time.Time

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// generateBookingNumber creates a booking number in the format "LB-XXXXXX".
func generateBookingNumber() (string, error) {
	result := make([]byte, 6)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(bookingNumberChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking number: %w", err)
		}
		result[i] = bookingNumberChars[n.Int64()]
	}
	return "LB-" + string(result), nil
}

// NewBooking creates a new Booking aggregate with status REQUESTED. Duplicate
// resource references are merged and items are kept in ascending resource order.
func NewBooking(
	kind Kind,
	requesterID uuid.UUID,
	requesterRole string,
	labID uuid.UUID,
	items []Item,
	window interval.Window,
	notes string,
	now time.Time,
) (*Booking, error) {
	if !kind.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid booking kind: %s", kind))
	}
	if requesterID == uuid.Nil {
		return nil, domain.NewValidationError("requester ID is required")
	}
	if requesterRole == "" {
		return nil, domain.NewValidationError("requester role is required")
	}
	if labID == uuid.Nil {
		return nil, domain.NewValidationError("lab ID is required")
	}
	if !window.Start.Before(window.End) {
		return nil, domain.NewValidationError("interval start must be before end")
	}
	if kind == KindLoan && len(items) == 0 {
		return nil, domain.NewValidationError("a loan must reference at least one resource")
	}

	merged, err := NormalizeItems(items)
	if err != nil {
		return nil, err
	}

	bookingNumber, err := generateBookingNumber()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Booking{
		id:            uuid.New(),
		bookingNumber: bookingNumber,
		kind:          kind,
		requesterID:   requesterID,
		requesterRole: requesterRole,
		labID:         labID,
		items:         merged,
		window:        window,
		status:        StatusRequested,
		notes:         notes,
		version:       1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// NormalizeItems validates quantities, merges duplicate references and sorts
// by resource ID so callers lock rows in a consistent order.
func NormalizeItems(items []Item) ([]Item, error) {
	byID := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		if it.ResourceID == uuid.Nil {
			return nil, domain.NewValidationError("resource ID is required")
		}
		if it.Quantity <= 0 {
			return nil, domain.NewValidationError("quantity must be positive")
		}
		byID[it.ResourceID] += it.Quantity
	}
	out := make([]Item, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Item{ResourceID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResourceID.String() < out[j].ResourceID.String()
	})
	return out, nil
}

// ReconstructBooking rebuilds a Booking from persistence data (no validation).
func ReconstructBooking(
	id uuid.UUID,
	bookingNumber string,
	kind Kind,
	requesterID uuid.UUID,
	requesterRole string,
	labID uuid.UUID,
	items []Item,
	window interval.Window,
	status BookingStatus,
	notes string,
	reviewerNote string,
	reviewedBy *uuid.UUID,
	cancelNote string,
	approvedAt *time.Time,
	pickedUpAt *time.Time,
	returnedAt *time.Time,
	cancelledAt *time.Time,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Booking {
	return &Booking{
		id:            id,
		bookingNumber: bookingNumber,
		kind:          kind,
		requesterID:   requesterID,
		requesterRole: requesterRole,
		labID:         labID,
		items:         items,
		window:        window,
		status:        status,
		notes:         notes,
		reviewerNote:  reviewerNote,
		reviewedBy:    reviewedBy,
		cancelNote:    cancelNote,
		approvedAt:    approvedAt,
		pickedUpAt:    pickedUpAt,
		returnedAt:    returnedAt,
		cancelledAt:   cancelledAt,
		version:       version,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// --- Getters ---

// ID returns the booking's unique identifier.
func (b *Booking) ID() uuid.UUID { return b.id }

// BookingNumber returns the human-readable booking number.
func (b *Booking) BookingNumber() string { return b.bookingNumber }

// Kind returns the booking variant.
func (b *Booking) Kind() Kind { return b.kind }

// RequesterID returns the user who submitted the booking.
func (b *Booking) RequesterID() uuid.UUID { return b.requesterID }

// RequesterRole returns the role the requester held at submission.
func (b *Booking) RequesterRole() string { return b.requesterRole }

// LabID returns the lab the booking is placed in.
func (b *Booking) LabID() uuid.UUID { return b.labID }

// Items returns a copy of the resource references.
func (b *Booking) Items() []Item {
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out
}

// ResourceIDs returns the referenced resource IDs in ascending order.
func (b *Booking) ResourceIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(b.items))
	for i, it := range b.items {
		ids[i] = it.ResourceID
	}
	return ids
}

// IsLabLevel reports whether the booking claims the whole lab.
func (b *Booking) IsLabLevel() bool { return len(b.items) == 0 }

// Window returns the booked time range.
func (b *Booking) Window() interval.Window { return b.window }

// Status returns the current booking status.
func (b *Booking) Status() BookingStatus { return b.status }

// Notes returns the requester's notes.
func (b *Booking) Notes() string { return b.notes }

// ReviewerNote returns the latest reviewer note.
func (b *Booking) ReviewerNote() string { return b.reviewerNote }

// ReviewedBy returns the reviewer, if reviewed.
func (b *Booking) ReviewedBy() *uuid.UUID { return b.reviewedBy }

// CancelNote returns the cancellation reason.
func (b *Booking) CancelNote() string { return b.cancelNote }

func (b *Booking) ApprovedAt() *time.Time { return b.approvedAt }
func (b *Booking) PickedUpAt() *time.Time { return b.pickedUpAt }
func (b *Booking) ReturnedAt() *time.Time { return b.returnedAt }
func (b *Booking) CancelledAt() *time.Time { return b.cancelledAt }

// Version returns the entity version for optimistic locking.
func (b *Booking) Version() int64 { return b.version }

// CreatedAt returns the creation timestamp.
func (b *Booking) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last-updated timestamp.
func (b *Booking) UpdatedAt() time.Time { return b.updatedAt }

// HasStarted reports whether the booked window has begun at now.
func (b *Booking) HasStarted(now time.Time) bool {
	return !now.Before(b.window.Start)
}

// --- Behavior ---

// Apply fires ev against the state machine and enforces the time-based
// policies. It only changes the aggregate; side effects belong to the caller.
func (b *Booking) Apply(ev Event, actorID uuid.UUID, note string, now time.Time) (BookingStatus, error) {
	from := b.status
	next, err := from.Next(ev)
	if err != nil {
		return from, err
	}

	switch ev {
	case EventCancel:
		if b.HasStarted(now) {
			return from, domain.NewPolicyError(string(from), string(next),
				"booking has already started and can no longer be cancelled")
		}
	case EventMarkOverdue:
		if now.Before(b.window.End) {
			return from, domain.NewPolicyError(string(from), string(next),
				"booking cannot be marked overdue before its window ends")
		}
	case EventComplete:
		if !b.HasStarted(now) {
			return from, domain.NewPolicyError(string(from), string(next),
				"booking cannot be completed before its window starts")
		}
	}

	now = now.UTC()
	switch ev {
	case EventApprove:
		b.approvedAt = &now
		b.reviewedBy = &actorID
		b.reviewerNote = note
	case EventReject, EventRequestInfo:
		b.reviewedBy = &actorID
		b.reviewerNote = note
	case EventResubmit:
		if note != "" {
			b.notes = note
		}
	case EventCancel:
		b.cancelNote = note
		b.cancelledAt = &now
	case EventPickUp:
		b.pickedUpAt = &now
	case EventReturn:
		b.returnedAt = &now
	}

	b.status = next
	b.IncrementVersion(now)
	return from, nil
}

// IncrementVersion bumps the version for optimistic locking.
func (b *Booking) IncrementVersion(now time.Time) {
	b.version++
	b.updatedAt = now.UTC()
}
