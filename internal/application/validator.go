package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/internal/domain/booking"
	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
	"github.com/labreserve/service-booking/pkg/domain"
)

// Candidate is a booking claim awaiting admission.
type Candidate struct {
	Requester identity.Requester
	LabID     uuid.UUID
	Items     []booking.Item
	Window    interval.Window

	// ExcludeBookingID ignores the intervals a booking already holds when it
	// is re-validated on approval or resubmission.
	ExcludeBookingID *uuid.UUID
}

// Decision is the all-or-nothing admission outcome for a candidate.
type Decision struct {
	Admissible  bool                        `json:"admissible"`
	Conflicts   []interval.Summary          `json:"conflicts"`
	Missing     []domain.MissingRequirement `json:"missing_requirements"`
	Shortfalls  []domain.StockShortfall     `json:"shortfalls"`
	Unavailable []string                    `json:"unavailable"`
	Reasons     []string                    `json:"reasons"`
}

// Err converts a rejection into its structured error. Eligibility failures
// win over conflicts, which win over stock and availability.
func (d *Decision) Err() error {
	switch {
	case d.Admissible:
		return nil
	case len(d.Missing) > 0:
		return domain.NewEligibilityError(d.Missing)
	case len(d.Conflicts) > 0:
		return domain.NewIntervalConflictError(d.Conflicts)
	case len(d.Shortfalls) > 0:
		s := d.Shortfalls[0]
		return domain.NewInsufficientStockError(s.ResourceID, s.Requested, s.Available)
	case len(d.Unavailable) > 0:
		return domain.NewConflictError(d.Unavailable[0])
	}
	return domain.NewConflictError("booking is not admissible")
}

// Validator is the Booking Validator. It reads through whatever repositories
// it is handed: inside a unit of work with locks held for create, approve and
// resubmit, or the committed snapshot for preview.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate evaluates every check before returning; nothing is written.
// resources may carry rows already locked by the caller, keyed by ID.
func (v *Validator) Validate(
	ctx context.Context,
	repos unitofwork.Repositories,
	c Candidate,
	resources map[uuid.UUID]*resource.Resource,
	now time.Time,
) (*Decision, error) {
	if resources == nil {
		loaded, err := repos.Resources.FindByIDs(ctx, itemIDs(c.Items))
		if err != nil {
			return nil, err
		}
		resources = indexResources(loaded)
	}

	if err := checkShape(c, resources); err != nil {
		return nil, err
	}

	d := &Decision{}

	if err := v.checkEligibility(ctx, repos, c, resources, now, d); err != nil {
		return nil, err
	}
	if err := v.checkConflicts(ctx, repos, c, resources, d); err != nil {
		return nil, err
	}
	v.checkQuantities(c, resources, d)

	d.Admissible = len(d.Missing) == 0 && len(d.Conflicts) == 0 &&
		len(d.Shortfalls) == 0 && len(d.Unavailable) == 0
	return d, nil
}

func (v *Validator) checkEligibility(
	ctx context.Context,
	repos unitofwork.Repositories,
	c Candidate,
	resources map[uuid.UUID]*resource.Resource,
	now time.Time,
	d *Decision,
) error {
	if len(c.Items) == 0 {
		return nil
	}
	grants, err := repos.Certifications.FindByUser(ctx, c.Requester.UserID)
	if err != nil {
		return fmt.Errorf("failed to load certifications: %w", err)
	}
	for _, it := range c.Items {
		e := resources[it.ResourceID].CheckEligibility(c.Requester.Role, grants, now)
		if !e.OK {
			d.Missing = append(d.Missing, e.Missing...)
			for _, m := range e.Missing {
				d.Reasons = append(d.Reasons, fmt.Sprintf("missing %s %s for resource %s", m.Type, m.Code, m.ResourceID))
			}
		}
	}
	return nil
}

func (v *Validator) checkConflicts(
	ctx context.Context,
	repos unitofwork.Repositories,
	c Candidate,
	resources map[uuid.UUID]*resource.Resource,
	d *Decision,
) error {
	blocking := interval.BlockingStatuses()

	// A lab-level claim collides with anything held anywhere in the lab.
	if len(c.Items) == 0 {
		found, err := repos.Intervals.FindConflicts(ctx, interval.Query{
			LabID:            c.LabID,
			Scope:            interval.ScopeLab,
			Window:           c.Window,
			Statuses:         blocking,
			ExcludeBookingID: c.ExcludeBookingID,
		})
		if err != nil {
			return fmt.Errorf("failed to search lab conflicts: %w", err)
		}
		d.addConflicts(found)
		return nil
	}

	labLevel, err := repos.Intervals.FindConflicts(ctx, interval.Query{
		LabID:            c.LabID,
		Scope:            interval.ScopeLabLevel,
		Window:           c.Window,
		Statuses:         blocking,
		ExcludeBookingID: c.ExcludeBookingID,
	})
	if err != nil {
		return fmt.Errorf("failed to search lab conflicts: %w", err)
	}
	d.addConflicts(labLevel)

	for _, it := range c.Items {
		res := resources[it.ResourceID]
		id := res.ID()
		found, err := repos.Intervals.FindConflicts(ctx, interval.Query{
			LabID:            c.LabID,
			ResourceID:       &id,
			Scope:            interval.ScopeResource,
			Window:           c.Window,
			Statuses:         resourceBlockingStatuses(res),
			ExcludeBookingID: c.ExcludeBookingID,
		})
		if err != nil {
			return fmt.Errorf("failed to search resource conflicts: %w", err)
		}
		d.addConflicts(found)
	}
	return nil
}

// resourceBlockingStatuses lets countable resources share a window: other
// reservations do not block them, only quantity does.
func resourceBlockingStatuses(res *resource.Resource) []interval.Status {
	if !res.IsCountable() {
		return interval.BlockingStatuses()
	}
	var out []interval.Status
	for _, s := range interval.BlockingStatuses() {
		if s != interval.StatusReserved {
			out = append(out, s)
		}
	}
	return out
}

// checkShape rejects malformed references before any policy is evaluated.
func checkShape(c Candidate, resources map[uuid.UUID]*resource.Resource) error {
	for _, it := range c.Items {
		res, ok := resources[it.ResourceID]
		if !ok {
			return domain.NewNotFoundError("Resource", it.ResourceID.String())
		}
		if res.LabID() != c.LabID {
			return domain.NewValidationError(fmt.Sprintf("resource %s does not belong to lab %s", res.ID(), c.LabID))
		}
		if !res.IsCountable() && it.Quantity != 1 {
			return domain.NewValidationError(fmt.Sprintf("resource %s is %s and can only be booked with quantity 1", res.ID(), res.Kind()))
		}
	}
	return nil
}

func (v *Validator) checkQuantities(c Candidate, resources map[uuid.UUID]*resource.Resource, d *Decision) {
	for _, it := range c.Items {
		res := resources[it.ResourceID]
		if !res.IsBookable() {
			reason := fmt.Sprintf("resource %s is %s", res.ID(), res.Status())
			d.Unavailable = append(d.Unavailable, reason)
			d.Reasons = append(d.Reasons, reason)
			continue
		}
		if res.IsCountable() && res.AvailableQuantity() < it.Quantity {
			d.Shortfalls = append(d.Shortfalls, domain.StockShortfall{
				ResourceID: res.ID().String(),
				Requested:  it.Quantity,
				Available:  res.AvailableQuantity(),
			})
			d.Reasons = append(d.Reasons, fmt.Sprintf("resource %s has %d available, %d requested",
				res.ID(), res.AvailableQuantity(), it.Quantity))
		}
	}
}

func (d *Decision) addConflicts(found []*interval.Interval) {
	for _, s := range interval.Summarize(found) {
		if d.hasConflict(s.ID) {
			continue
		}
		d.Conflicts = append(d.Conflicts, s)
		d.Reasons = append(d.Reasons, fmt.Sprintf("overlaps %s interval %s", s.Status, s.ID))
	}
}

func (d *Decision) hasConflict(id uuid.UUID) bool {
	for _, c := range d.Conflicts {
		if c.ID == id {
			return true
		}
	}
	return false
}

func itemIDs(items []booking.Item) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.ResourceID
	}
	return ids
}

func indexResources(list []*resource.Resource) map[uuid.UUID]*resource.Resource {
	out := make(map[uuid.UUID]*resource.Resource, len(list))
	for _, r := range list {
		out[r.ID()] = r
	}
	return out
}
