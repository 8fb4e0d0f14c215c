package interval

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/pkg/domain"
)

// Status is the availability state carried by an interval.
type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusReserved    Status = "RESERVED"
	StatusMaintenance Status = "MAINTENANCE"
	StatusInactive    Status = "INACTIVE"
	StatusBlocked     Status = "BLOCKED"
	StatusExclusive   Status = "EXCLUSIVE"
)

var allStatuses = []Status{
	StatusAvailable,
	StatusReserved,
	StatusMaintenance,
	StatusInactive,
	StatusBlocked,
	StatusExclusive,
}

// IsValid returns true if the status is recognized.
func (s Status) IsValid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsBlocking reports whether the status prevents admission of an overlapping booking.
func (s Status) IsBlocking() bool {
	return s.IsValid() && s != StatusAvailable
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", domain.NewValidationError(fmt.Sprintf("invalid interval status: %s", s))
	}
	return status, nil
}

// BlockingStatuses is the set booking validation checks against.
func BlockingStatuses() []Status {
	return []Status{StatusReserved, StatusMaintenance, StatusInactive, StatusBlocked, StatusExclusive}
}

// AllStatuses returns every status, for free/busy reads.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"starts_at"`
	End   time.Time `json:"ends_at"`
}

// NewWindow validates start < end.
func NewWindow(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, domain.NewValidationError("interval start and end are required")
	}
	if !start.Before(end) {
		return Window{}, domain.NewValidationError("interval start must be before end")
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// Overlaps is the strict half-open overlap: back-to-back windows do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Interval is a time range with a status, attached to a lab and optionally
// to one resource. It is the unit of conflict detection.
type Interval struct {
	id         uuid.UUID
	labID      uuid.UUID
	resourceID *uuid.UUID
	bookingID  *uuid.UUID
	window     Window
	status     Status
	note       string
	createdAt  time.Time
	updatedAt  time.Time
}

// NewInterval validates and creates an interval. A nil resourceID makes it lab-level.
func NewInterval(labID uuid.UUID, resourceID, bookingID *uuid.UUID, window Window, status Status, note string) (*Interval, error) {
	if labID == uuid.Nil {
		return nil, domain.NewValidationError("lab ID is required")
	}
	if !window.Start.Before(window.End) {
		return nil, domain.NewValidationError("interval start must be before end")
	}
	if !status.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid interval status: %s", status))
	}
	now := time.Now().UTC()
	return &Interval{
		id:         uuid.New(),
		labID:      labID,
		resourceID: resourceID,
		bookingID:  bookingID,
		window:     window,
		status:     status,
		note:       note,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// Reconstruct rebuilds an Interval from persistence data (no validation).
func Reconstruct(
	id, labID uuid.UUID,
	resourceID, bookingID *uuid.UUID,
	window Window,
	status Status,
	note string,
	createdAt, updatedAt time.Time,
) *Interval {
	return &Interval{
		id:         id,
		labID:      labID,
		resourceID: resourceID,
		bookingID:  bookingID,
		window:     window,
		status:     status,
		note:       note,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

// ID returns the interval's unique identifier.
func (i *Interval) ID() uuid.UUID { return i.id }

// LabID returns the owning lab.
func (i *Interval) LabID() uuid.UUID { return i.labID }

// ResourceID returns the resource, or nil for a lab-level interval.
func (i *Interval) ResourceID() *uuid.UUID { return i.resourceID }

// BookingID returns the booking that materialized the interval, if any.
func (i *Interval) BookingID() *uuid.UUID { return i.bookingID }

func (i *Interval) Window() Window { return i.window }
func (i *Interval) Status() Status { return i.status }
func (i *Interval) Note() string { return i.note }
func (i *Interval) CreatedAt() time.Time { return i.createdAt }
func (i *Interval) UpdatedAt() time.Time { return i.updatedAt }

// IsLabLevel reports whether the interval blocks the whole lab.
func (i *Interval) IsLabLevel() bool { return i.resourceID == nil }

// SetStatus changes the interval status.
func (i *Interval) SetStatus(status Status) error {
	if !status.IsValid() {
		return domain.NewValidationError(fmt.Sprintf("invalid interval status: %s", status))
	}
	i.status = status
	i.updatedAt = time.Now().UTC()
	return nil
}

// Summary is the serializable view carried in conflict errors and availability reads.
type Summary struct {
	ID         uuid.UUID  `json:"id"`
	LabID      uuid.UUID  `json:"lab_id"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	BookingID  *uuid.UUID `json:"booking_id,omitempty"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	Status     Status     `json:"status"`
	Note       string     `json:"note,omitempty"`
}

// Summarize converts intervals into their serializable view.
func Summarize(intervals []*Interval) []Summary {
	out := make([]Summary, 0, len(intervals))
	for _, i := range intervals {
		out = append(out, Summary{
			ID:         i.id,
			LabID:      i.labID,
			ResourceID: i.resourceID,
			BookingID:  i.bookingID,
			StartsAt:   i.window.Start,
			EndsAt:     i.window.End,
			Status:     i.status,
			Note:       i.note,
		})
	}
	return out
}
