package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/internal/domain/booking"
	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/stock"
	"github.com/labreserve/service-booking/pkg/domain"
)

// ResourceRefDTO references a resource with the quantity claimed.
type ResourceRefDTO struct {
	ResourceID uuid.UUID `json:"resource_id" binding:"required"`
	Quantity   int       `json:"quantity"`
}

// CreateBookingRequest holds the data needed to create a new booking.
// With no resources the booking claims the whole lab named by LabID.
type CreateBookingRequest struct {
	Kind      string           `json:"kind"`
	LabID     *uuid.UUID       `json:"lab_id"`
	Resources []ResourceRefDTO `json:"resources"`
	StartsAt  time.Time        `json:"starts_at" binding:"required"`
	EndsAt    time.Time        `json:"ends_at" binding:"required"`
	Notes     string           `json:"notes"`
}

// TransitionRequest asks for a booking to move to TargetStatus.
type TransitionRequest struct {
	TargetStatus string `json:"target_status" binding:"required"`
	Note         string `json:"note"`
	// Condition applies to RETURNED: OK (default), DAMAGED or LOST.
	Condition string `json:"condition"`
}

// PreviewDTO is the read-only admission pre-flight.
type PreviewDTO struct {
	Admissible          bool                        `json:"admissible"`
	Conflicts           []interval.Summary          `json:"conflicts"`
	MissingRequirements []domain.MissingRequirement `json:"missing_requirements"`
	Shortfalls          []domain.StockShortfall     `json:"shortfalls"`
	Reasons             []string                    `json:"reasons"`
}

// BookingDTO is the response representation of a booking.
type BookingDTO struct {
	ID            uuid.UUID        `json:"id"`
	BookingNumber string           `json:"booking_number"`
	Kind          string           `json:"kind"`
	RequesterID   uuid.UUID        `json:"requester_id"`
	LabID         uuid.UUID        `json:"lab_id"`
	Resources     []ResourceRefDTO `json:"resources"`
	StartsAt      time.Time        `json:"starts_at"`
	EndsAt        time.Time        `json:"ends_at"`
	Status        string           `json:"status"`
	Notes         string           `json:"notes,omitempty"`
	ReviewerNote  string           `json:"reviewer_note,omitempty"`
	ReviewedBy    *uuid.UUID       `json:"reviewed_by,omitempty"`
	CancelNote    string           `json:"cancel_note,omitempty"`
	ApprovedAt    *time.Time       `json:"approved_at,omitempty"`
	PickedUpAt    *time.Time       `json:"picked_up_at,omitempty"`
	ReturnedAt    *time.Time       `json:"returned_at,omitempty"`
	CancelledAt   *time.Time       `json:"cancelled_at,omitempty"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// BookingStatsDTO holds booking statistics for the admin dashboard.
type BookingStatsDTO struct {
	TotalBookings int64            `json:"total_bookings"`
	ByStatus      map[string]int64 `json:"by_status"`
}

// LabDTO is the response representation of a lab.
type LabDTO struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ResourceDTO is the response representation of a resource.
type ResourceDTO struct {
	ID                uuid.UUID `json:"id"`
	LabID             uuid.UUID `json:"lab_id"`
	Name              string    `json:"name"`
	Kind              string    `json:"kind"`
	Status            string    `json:"status"`
	AllowedRoles      []string  `json:"allowed_roles"`
	RequiredCerts     []string  `json:"required_certifications"`
	AvailableQuantity int       `json:"available_quantity"`
	MinThreshold      int       `json:"min_threshold"`
	TotalQuantity     *int      `json:"total_quantity,omitempty"`
	LowStock          bool      `json:"low_stock"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateLabRequest creates a lab.
type CreateLabRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateResourceRequest creates a resource.
type CreateResourceRequest struct {
	LabID             uuid.UUID `json:"lab_id" binding:"required"`
	Name              string    `json:"name" binding:"required"`
	Kind              string    `json:"kind" binding:"required"`
	AllowedRoles      []string  `json:"allowed_roles"`
	RequiredCerts     []string  `json:"required_certifications"`
	AvailableQuantity int       `json:"available_quantity"`
	MinThreshold      int       `json:"min_threshold"`
	TotalQuantity     *int      `json:"total_quantity"`
}

// EligibilityDTO is the Resource Directory eligibility answer.
type EligibilityDTO struct {
	ResourceID          uuid.UUID                   `json:"resource_id"`
	UserID              uuid.UUID                   `json:"user_id"`
	OK                  bool                        `json:"ok"`
	MissingRequirements []domain.MissingRequirement `json:"missing_requirements"`
}

// GrantCertificationRequest grants a certification to a user.
type GrantCertificationRequest struct {
	UserID    uuid.UUID  `json:"user_id" binding:"required"`
	Code      string     `json:"code" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CertificationDTO is the response representation of a grant.
type CertificationDTO struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Code      string     `json:"code"`
	GrantedBy uuid.UUID  `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AdjustStockRequest is a manual stock ledger adjustment.
type AdjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
	Note   string `json:"note"`
}

// StockAdjustmentDTO reports the quantity after an adjustment.
type StockAdjustmentDTO struct {
	ResourceID  uuid.UUID `json:"resource_id"`
	NewQuantity int       `json:"new_quantity"`
	LowStock    bool      `json:"low_stock"`
}

// MovementDTO is one stock ledger entry.
type MovementDTO struct {
	ID            uuid.UUID  `json:"id"`
	ResourceID    uuid.UUID  `json:"resource_id"`
	Delta         int        `json:"delta"`
	QuantityAfter int        `json:"quantity_after"`
	Reason        string     `json:"reason"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty"`
	ActorID       *uuid.UUID `json:"actor_id,omitempty"`
	Note          string     `json:"note,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AvailabilityQuery selects intervals overlapping [From, To) for a resource or a lab.
type AvailabilityQuery struct {
	ResourceID *uuid.UUID
	LabID      *uuid.UUID
	From       time.Time
	To         time.Time
	Statuses   []string
}

// AvailabilityDTO lists the intervals overlapping the requested window.
type AvailabilityDTO struct {
	LabID      uuid.UUID          `json:"lab_id"`
	ResourceID *uuid.UUID         `json:"resource_id,omitempty"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Busy       bool               `json:"busy"`
	Intervals  []interval.Summary `json:"intervals"`
}

// BlockRequest creates a blocking interval on a lab or one of its resources.
type BlockRequest struct {
	LabID      uuid.UUID  `json:"lab_id" binding:"required"`
	ResourceID *uuid.UUID `json:"resource_id"`
	StartsAt   time.Time  `json:"starts_at" binding:"required"`
	EndsAt     time.Time  `json:"ends_at" binding:"required"`
	Status     string     `json:"status" binding:"required"`
	Note       string     `json:"note"`
	Force      bool       `json:"force"`
}

// --- Helpers ---

func toBookingDTO(bk *booking.Booking) BookingDTO {
	items := bk.Items()
	refs := make([]ResourceRefDTO, len(items))
	for i, it := range items {
		refs[i] = ResourceRefDTO{ResourceID: it.ResourceID, Quantity: it.Quantity}
	}
	return BookingDTO{
		ID:            bk.ID(),
		BookingNumber: bk.BookingNumber(),
		Kind:          string(bk.Kind()),
		RequesterID:   bk.RequesterID(),
		LabID:         bk.LabID(),
		Resources:     refs,
		StartsAt:      bk.Window().Start,
		EndsAt:        bk.Window().End,
		Status:        string(bk.Status()),
		Notes:         bk.Notes(),
		ReviewerNote:  bk.ReviewerNote(),
		ReviewedBy:    bk.ReviewedBy(),
		CancelNote:    bk.CancelNote(),
		ApprovedAt:    bk.ApprovedAt(),
		PickedUpAt:    bk.PickedUpAt(),
		ReturnedAt:    bk.ReturnedAt(),
		CancelledAt:   bk.CancelledAt(),
		Version:       bk.Version(),
		CreatedAt:     bk.CreatedAt(),
		UpdatedAt:     bk.UpdatedAt(),
	}
}

func toPreviewDTO(d *Decision) PreviewDTO {
	return PreviewDTO{
		Admissible:          d.Admissible,
		Conflicts:           orEmpty(d.Conflicts),
		MissingRequirements: orEmpty(d.Missing),
		Shortfalls:          orEmpty(d.Shortfalls),
		Reasons:             orEmpty(d.Reasons),
	}
}

func toLabDTO(l *resource.Lab) LabDTO {
	return LabDTO{ID: l.ID(), Name: l.Name(), CreatedAt: l.CreatedAt()}
}

func toResourceDTO(r *resource.Resource) ResourceDTO {
	return ResourceDTO{
		ID:                r.ID(),
		LabID:             r.LabID(),
		Name:              r.Name(),
		Kind:              string(r.Kind()),
		Status:            string(r.Status()),
		AllowedRoles:      orEmpty(r.AllowedRoles()),
		RequiredCerts:     orEmpty(r.RequiredCerts()),
		AvailableQuantity: r.AvailableQuantity(),
		MinThreshold:      r.MinThreshold(),
		TotalQuantity:     r.TotalQuantity(),
		LowStock:          r.IsBelowThreshold(),
		UpdatedAt:         r.UpdatedAt(),
	}
}

func toCertificationDTO(g identity.CertificationGrant) CertificationDTO {
	return CertificationDTO{
		ID:        g.ID,
		UserID:    g.UserID,
		Code:      g.Code,
		GrantedBy: g.GrantedBy,
		GrantedAt: g.GrantedAt,
		ExpiresAt: g.ExpiresAt,
	}
}

func toMovementDTO(m *stock.Movement) MovementDTO {
	return MovementDTO{
		ID:            m.ID,
		ResourceID:    m.ResourceID,
		Delta:         m.Delta,
		QuantityAfter: m.QuantityAfter,
		Reason:        string(m.Reason),
		BookingID:     m.BookingID,
		ActorID:       m.ActorID,
		Note:          m.Note,
		CreatedAt:     m.CreatedAt,
	}
}

func orEmpty[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
