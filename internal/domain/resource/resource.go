package resource

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/stock"
	"github.com/labreserve/service-booking/pkg/domain"
)

// Kind is the bookable shape of a resource.
type Kind string

const (
	KindFixed     Kind = "fixed"
	KindCountable Kind = "countable"
	KindSpace     Kind = "space"
)

// IsValid returns true if the kind is recognized.
func (k Kind) IsValid() bool {
	switch k {
	case KindFixed, KindCountable, KindSpace:
		return true
	}
	return false
}

// IsHandedOut reports whether bookings of this kind produce an Assignment at pick-up.
func (k Kind) IsHandedOut() bool {
	return k == KindFixed || k == KindCountable
}

// Status is the current physical state of a resource.
type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusReserved    Status = "RESERVED"
	StatusMaintenance Status = "MAINTENANCE"
	StatusInactive    Status = "INACTIVE"
)

// IsValid returns true if the status is recognized.
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusMaintenance, StatusInactive:
		return true
	}
	return false
}

// Resource is a bookable room, fixed instrument or countable material.
type Resource struct {
	id            uuid.UUID
	labID         uuid.UUID
	name          string
	kind          Kind
	status        Status
	allowedRoles  []string
	requiredCerts []string
	availableQty  int
	minThreshold  int
	totalQty      *int
	version       int64
	createdAt     time.Time
	updatedAt     time.Time
}

// NewResource validates and creates an AVAILABLE resource. Quantities are only
// meaningful for countable resources and are zeroed otherwise.
func NewResource(
	labID uuid.UUID,
	name string,
	kind Kind,
	allowedRoles []string,
	requiredCerts []string,
	availableQty int,
	minThreshold int,
	totalQty *int,
) (*Resource, error) {
	if labID == uuid.Nil {
		return nil, domain.NewValidationError("lab ID is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, domain.NewValidationError("resource name is required")
	}
	if !kind.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid resource kind: %s", kind))
	}

	if kind == KindCountable {
		if availableQty < 0 || minThreshold < 0 {
			return nil, domain.NewValidationError("quantities must not be negative")
		}
		if totalQty != nil && (*totalQty < availableQty) {
			return nil, domain.NewValidationError("available quantity exceeds total quantity")
		}
	} else {
		availableQty, minThreshold, totalQty = 0, 0, nil
	}

	certs := make([]string, 0, len(requiredCerts))
	for _, c := range requiredCerts {
		if code := identity.NormalizeCode(c); code != "" {
			certs = append(certs, code)
		}
	}

	now := time.Now().UTC()
	return &Resource{
		id:            uuid.New(),
		labID:         labID,
		name:          strings.TrimSpace(name),
		kind:          kind,
		status:        StatusAvailable,
		allowedRoles:  allowedRoles,
		requiredCerts: certs,
		availableQty:  availableQty,
		minThreshold:  minThreshold,
		totalQty:      totalQty,
		version:       1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// Reconstruct rebuilds a Resource from persistence data (no validation).
func Reconstruct(
	id, labID uuid.UUID,
	name string,
	kind Kind,
	status Status,
	allowedRoles, requiredCerts []string,
	availableQty, minThreshold int,
	totalQty *int,
	version int64,
	createdAt, updatedAt time.Time,
) *Resource {
	return &Resource{
		id:            id,
		labID:         labID,
		name:          name,
		kind:          kind,
		status:        status,
		allowedRoles:  allowedRoles,
		requiredCerts: requiredCerts,
		availableQty:  availableQty,
		minThreshold:  minThreshold,
		totalQty:      totalQty,
		version:       version,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// --- Getters ---

func (r *Resource) ID() uuid.UUID { return r.id }
func (r *Resource) LabID() uuid.UUID { return r.labID }
func (r *Resource) Name() string { return r.name }
func (r *Resource) Kind() Kind { return r.kind }
func (r *Resource) Status() Status { return r.status }
func (r *Resource) AllowedRoles() []string { return r.allowedRoles }
func (r *Resource) RequiredCerts() []string { return r.requiredCerts }
func (r *Resource) AvailableQuantity() int { return r.availableQty }
func (r *Resource) MinThreshold() int { return r.minThreshold }
func (r *Resource) TotalQuantity() *int { return r.totalQty }
func (r *Resource) Version() int64 { return r.version }
func (r *Resource) CreatedAt() time.Time { return r.createdAt }
func (r *Resource) UpdatedAt() time.Time { return r.updatedAt }
func (r *Resource) IsCountable() bool { return r.kind == KindCountable }
func (r *Resource) IsBookable() bool { return r.status != StatusInactive }
func (r *Resource) IsBelowThreshold() bool { return r.IsCountable() && r.availableQty < r.minThreshold }

// --- Behavior ---

// AdjustQuantity applies a stock delta, keeping available quantity within [0, total].
func (r *Resource) AdjustQuantity(delta int) (int, error) {
	if !r.IsCountable() {
		return 0, domain.NewValidationError(fmt.Sprintf("resource %s is not countable", r.id))
	}
	next, err := stock.Apply(r.id.String(), r.availableQty, delta, r.totalQty)
	if err != nil {
		return r.availableQty, err
	}
	r.availableQty = next
	r.touch()
	return next, nil
}

// MarkInUse flips a fixed resource to RESERVED at hand-out.
func (r *Resource) MarkInUse() error {
	if r.kind != KindFixed {
		return nil
	}
	if r.status != StatusAvailable {
		return domain.NewConflictError(fmt.Sprintf("resource %s is %s and cannot be handed out", r.id, r.status))
	}
	r.status = StatusReserved
	r.touch()
	return nil
}

// MarkAvailable returns the resource to service.
func (r *Resource) MarkAvailable() {
	r.status = StatusAvailable
	r.touch()
}

// MarkMaintenance takes the resource out of service for repair.
func (r *Resource) MarkMaintenance() {
	r.status = StatusMaintenance
	r.touch()
}

// MarkInactive retires the resource (lost or decommissioned).
func (r *Resource) MarkInactive() {
	r.status = StatusInactive
	r.touch()
}

func (r *Resource) touch() {
	r.version++
	r.updatedAt = time.Now().UTC()
}
