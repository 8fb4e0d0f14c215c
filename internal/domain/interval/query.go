package interval

import (
	"github.com/google/uuid"
)

// Scope selects which intervals a query considers relative to its target.
type Scope int

const (
	// ScopeResource matches intervals attached to ResourceID only.
	ScopeResource Scope = iota
	// ScopeLabLevel matches lab-level intervals (no resource) of LabID only.
	ScopeLabLevel
	// ScopeResourceAndLab matches ResourceID intervals plus lab-level intervals of LabID.
	ScopeResourceAndLab
	// ScopeLab matches every interval of LabID, resource-level included.
	ScopeLab
)

// Query is the single conflict-search primitive: every interval in scope,
// overlapping Window, whose status is one of Statuses.
type Query struct {
	LabID            uuid.UUID
	ResourceID       *uuid.UUID
	Scope            Scope
	Window           Window
	Statuses         []Status
	ExcludeBookingID *uuid.UUID
}

// Matches evaluates the query against one interval. Storage backends that
// cannot push the predicate down use this directly.
func (q Query) Matches(i *Interval) bool {
	if i.labID != q.LabID {
		return false
	}
	switch q.Scope {
	case ScopeResource:
		if i.resourceID == nil || q.ResourceID == nil || *i.resourceID != *q.ResourceID {
			return false
		}
	case ScopeLabLevel:
		if i.resourceID != nil {
			return false
		}
	case ScopeResourceAndLab:
		if i.resourceID != nil && (q.ResourceID == nil || *i.resourceID != *q.ResourceID) {
			return false
		}
	}
	if q.ExcludeBookingID != nil && i.bookingID != nil && *i.bookingID == *q.ExcludeBookingID {
		return false
	}
	if len(q.Statuses) > 0 && !hasStatus(q.Statuses, i.status) {
		return false
	}
	return i.window.Overlaps(q.Window)
}

// StatusStrings returns the statuses as plain strings for SQL IN clauses.
func (q Query) StatusStrings() []string {
	out := make([]string, len(q.Statuses))
	for n, s := range q.Statuses {
		out[n] = string(s)
	}
	return out
}

func hasStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
