package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/internal/domain/booking"
	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/stock"
)

// LabModel is the GORM model for the labs table.
type LabModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null;size:200"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (LabModel) TableName() string { return "labs" }

// ResourceModel is the GORM model for the resources table.
type ResourceModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	LabID             uuid.UUID       `gorm:"type:uuid;index;not null"`
	Name              string          `gorm:"not null;size:200"`
	Kind              string          `gorm:"not null;size:20"`
	Status            string          `gorm:"not null;size:20"`
	AllowedRoles      json.RawMessage `gorm:"type:jsonb;not null"`
	RequiredCerts     json.RawMessage `gorm:"type:jsonb;not null"`
	AvailableQuantity int             `gorm:"not null;default:0"`
	MinThreshold      int             `gorm:"not null;default:0"`
	TotalQuantity     *int            `gorm:""`
	Version           int64           `gorm:"not null;default:1"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (ResourceModel) TableName() string { return "resources" }

// IntervalModel is the GORM model for the intervals table.
type IntervalModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	LabID      uuid.UUID  `gorm:"type:uuid;index;not null"`
	ResourceID *uuid.UUID `gorm:"type:uuid"`
	BookingID  *uuid.UUID `gorm:"type:uuid;index"`
	StartsAt   time.Time  `gorm:"not null"`
	EndsAt     time.Time  `gorm:"not null"`
	Status     string     `gorm:"not null;size:20"`
	Note       string     `gorm:"size:500"`
	CreatedAt  time.Time  `gorm:"not null"`
	UpdatedAt  time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (IntervalModel) TableName() string { return "intervals" }

// BookingModel is the GORM model for the bookings table.
type BookingModel struct {
	ID            uuid.UUID          `gorm:"type:uuid;primaryKey"`
	BookingNumber string             `gorm:"uniqueIndex;not null;size:20"`
	Kind          string             `gorm:"not null;size:20"`
	RequesterID   uuid.UUID          `gorm:"type:uuid;index;not null"`
	RequesterRole string             `gorm:"not null;size:30"`
	LabID         uuid.UUID          `gorm:"type:uuid;index;not null"`
	StartsAt      time.Time          `gorm:"not null"`
	EndsAt        time.Time          `gorm:"not null"`
	Status        string             `gorm:"not null;size:30;index"`
	Notes         string             `gorm:"size:1000"`
	ReviewerNote  string             `gorm:"size:1000"`
	ReviewedBy    *uuid.UUID         `gorm:"type:uuid"`
	CancelNote    string             `gorm:"size:500"`
	ApprovedAt    *time.Time         `gorm:""`
	PickedUpAt    *time.Time         `gorm:""`
	ReturnedAt    *time.Time         `gorm:""`
	CancelledAt   *time.Time         `gorm:""`
	Version       int64              `gorm:"not null;default:1"`
	CreatedAt     time.Time          `gorm:"not null"`
	UpdatedAt     time.Time          `gorm:"not null"`
	Items         []BookingItemModel `gorm:"foreignKey:BookingID"`
}

// TableName returns the table name for the GORM model.
func (BookingModel) TableName() string { return "bookings" }

// BookingItemModel is one resource reference of a booking.
type BookingItemModel struct {
	BookingID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	ResourceID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Quantity   int       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingItemModel) TableName() string { return "booking_items" }

// AssignmentModel is the GORM model for the assignments table.
type AssignmentModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	BookingID  uuid.UUID  `gorm:"type:uuid;index;not null"`
	ResourceID uuid.UUID  `gorm:"type:uuid;not null"`
	Quantity   int        `gorm:"not null"`
	Status     string     `gorm:"not null;size:20"`
	AssignedBy uuid.UUID  `gorm:"type:uuid;not null"`
	AssignedAt time.Time  `gorm:"not null"`
	ClosedBy   *uuid.UUID `gorm:"type:uuid"`
	ClosedAt   *time.Time `gorm:""`
}

// TableName returns the table name for the GORM model.
func (AssignmentModel) TableName() string { return "assignments" }

// StockMovementModel is the GORM model for the append-only stock_movements table.
type StockMovementModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ResourceID    uuid.UUID  `gorm:"type:uuid;index;not null"`
	Delta         int        `gorm:"not null"`
	QuantityAfter int        `gorm:"not null"`
	Reason        string     `gorm:"not null;size:20"`
	BookingID     *uuid.UUID `gorm:"type:uuid"`
	ActorID       *uuid.UUID `gorm:"type:uuid"`
	Note          string     `gorm:"size:500"`
	CreatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (StockMovementModel) TableName() string { return "stock_movements" }

// CertificationModel is the GORM model for the certification_grants table.
type CertificationModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null"`
	Code      string     `gorm:"not null;size:50"`
	GrantedBy uuid.UUID  `gorm:"type:uuid;not null"`
	GrantedAt time.Time  `gorm:"not null"`
	ExpiresAt *time.Time `gorm:""`
}

// TableName returns the table name for the GORM model.
func (CertificationModel) TableName() string { return "certification_grants" }

// --- Conversion Helpers ---

func toLabModel(l *resource.Lab) *LabModel {
	return &LabModel{ID: l.ID(), Name: l.Name(), CreatedAt: l.CreatedAt()}
}

func toDomainLab(m *LabModel) *resource.Lab {
	return resource.ReconstructLab(m.ID, m.Name, m.CreatedAt)
}

func toResourceModel(r *resource.Resource) (*ResourceModel, error) {
	roles, err := json.Marshal(nonNil(r.AllowedRoles()))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allowed roles: %w", err)
	}
	certs, err := json.Marshal(nonNil(r.RequiredCerts()))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal required certifications: %w", err)
	}
	return &ResourceModel{
		ID:                r.ID(),
		LabID:             r.LabID(),
		Name:              r.Name(),
		Kind:              string(r.Kind()),
		Status:            string(r.Status()),
		AllowedRoles:      roles,
		RequiredCerts:     certs,
		AvailableQuantity: r.AvailableQuantity(),
		MinThreshold:      r.MinThreshold(),
		TotalQuantity:     r.TotalQuantity(),
		Version:           r.Version(),
		CreatedAt:         r.CreatedAt(),
		UpdatedAt:         r.UpdatedAt(),
	}, nil
}

func toDomainResource(m *ResourceModel) (*resource.Resource, error) {
	var roles, certs []string
	if err := json.Unmarshal(m.AllowedRoles, &roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed roles: %w", err)
	}
	if err := json.Unmarshal(m.RequiredCerts, &certs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal required certifications: %w", err)
	}
	return resource.Reconstruct(
		m.ID,
		m.LabID,
		m.Name,
		resource.Kind(m.Kind),
		resource.Status(m.Status),
		roles,
		certs,
		m.AvailableQuantity,
		m.MinThreshold,
		m.TotalQuantity,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}

func toIntervalModel(i *interval.Interval) *IntervalModel {
	return &IntervalModel{
		ID:         i.ID(),
		LabID:      i.LabID(),
		ResourceID: i.ResourceID(),
		BookingID:  i.BookingID(),
		StartsAt:   i.Window().Start,
		EndsAt:     i.Window().End,
		Status:     string(i.Status()),
		Note:       i.Note(),
		CreatedAt:  i.CreatedAt(),
		UpdatedAt:  i.UpdatedAt(),
	}
}

func toDomainInterval(m *IntervalModel) *interval.Interval {
	return interval.Reconstruct(
		m.ID,
		m.LabID,
		m.ResourceID,
		m.BookingID,
		interval.Window{Start: m.StartsAt.UTC(), End: m.EndsAt.UTC()},
		interval.Status(m.Status),
		m.Note,
		m.CreatedAt,
		m.UpdatedAt,
	)
}

func toBookingModel(bk *booking.Booking) *BookingModel {
	items := make([]BookingItemModel, 0, len(bk.Items()))
	for _, it := range bk.Items() {
		items = append(items, BookingItemModel{BookingID: bk.ID(), ResourceID: it.ResourceID, Quantity: it.Quantity})
	}
	return &BookingModel{
		ID:            bk.ID(),
		BookingNumber: bk.BookingNumber(),
		Kind:          string(bk.Kind()),
		RequesterID:   bk.RequesterID(),
		RequesterRole: bk.RequesterRole(),
		LabID:         bk.LabID(),
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
		Items:         items,
	}
}

func toDomainBooking(m *BookingModel) (*booking.Booking, error) {
	status, err := booking.ParseBookingStatus(m.Status)
	if err != nil {
		return nil, err
	}
	items := make([]booking.Item, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, booking.Item{ResourceID: it.ResourceID, Quantity: it.Quantity})
	}
	items, err = booking.NormalizeItems(items)
	if err != nil {
		return nil, err
	}

	return booking.ReconstructBooking(
		m.ID,
		m.BookingNumber,
		booking.Kind(m.Kind),
		m.RequesterID,
		m.RequesterRole,
		m.LabID,
		items,
		interval.Window{Start: m.StartsAt.UTC(), End: m.EndsAt.UTC()},
		status,
		m.Notes,
		m.ReviewerNote,
		m.ReviewedBy,
		m.CancelNote,
		m.ApprovedAt,
		m.PickedUpAt,
		m.ReturnedAt,
		m.CancelledAt,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}

func toAssignmentModel(a *booking.Assignment) *AssignmentModel {
	return &AssignmentModel{
		ID:         a.ID(),
		BookingID:  a.BookingID(),
		ResourceID: a.ResourceID(),
		Quantity:   a.Quantity(),
		Status:     string(a.Status()),
		AssignedBy: a.AssignedBy(),
		AssignedAt: a.AssignedAt(),
		ClosedBy:   a.ClosedBy(),
		ClosedAt:   a.ClosedAt(),
	}
}

func toDomainAssignment(m *AssignmentModel) *booking.Assignment {
	return booking.ReconstructAssignment(
		m.ID,
		m.BookingID,
		m.ResourceID,
		m.Quantity,
		booking.AssignmentStatus(m.Status),
		m.AssignedBy,
		m.AssignedAt,
		m.ClosedBy,
		m.ClosedAt,
	)
}

func toMovementModel(mv *stock.Movement) *StockMovementModel {
	return &StockMovementModel{
		ID:            mv.ID,
		ResourceID:    mv.ResourceID,
		Delta:         mv.Delta,
		QuantityAfter: mv.QuantityAfter,
		Reason:        string(mv.Reason),
		BookingID:     mv.BookingID,
		ActorID:       mv.ActorID,
		Note:          mv.Note,
		CreatedAt:     mv.CreatedAt,
	}
}

func toDomainMovement(m *StockMovementModel) *stock.Movement {
	return &stock.Movement{
		ID:            m.ID,
		ResourceID:    m.ResourceID,
		Delta:         m.Delta,
		QuantityAfter: m.QuantityAfter,
		Reason:        stock.Reason(m.Reason),
		BookingID:     m.BookingID,
		ActorID:       m.ActorID,
		Note:          m.Note,
		CreatedAt:     m.CreatedAt,
	}
}

func toCertificationModel(g *identity.CertificationGrant) *CertificationModel {
	return &CertificationModel{
		ID:        g.ID,
		UserID:    g.UserID,
		Code:      g.Code,
		GrantedBy: g.GrantedBy,
		GrantedAt: g.GrantedAt,
		ExpiresAt: g.ExpiresAt,
	}
}

func toDomainCertification(m *CertificationModel) identity.CertificationGrant {
	return identity.CertificationGrant{
		ID:        m.ID,
		UserID:    m.UserID,
		Code:      m.Code,
		GrantedBy: m.GrantedBy,
		GrantedAt: m.GrantedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
