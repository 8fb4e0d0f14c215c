package booking

import (
	"fmt"

	"github.com/labreserve/service-booking/pkg/domain"
)

// BookingStatus represents the current state of a booking in its lifecycle.
type BookingStatus string

const (
	StatusRequested BookingStatus = "REQUESTED"
	StatusNeedsInfo BookingStatus = "NEEDS_INFO"
	StatusApproved  BookingStatus = "APPROVED"
	StatusRejected  BookingStatus = "REJECTED"
	StatusPickedUp  BookingStatus = "PICKED_UP"
	StatusOverdue   BookingStatus = "OVERDUE"
	StatusReturned  BookingStatus = "RETURNED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusCompleted BookingStatus = "COMPLETED"
)

// Event is a lifecycle trigger.
type Event string

const (
	EventApprove     Event = "approve"
	EventReject      Event = "reject"
	EventRequestInfo Event = "request_info"
	EventResubmit    Event = "resubmit"
	EventCancel      Event = "cancel"
	EventPickUp      Event = "pick_up"
	EventMarkOverdue Event = "mark_overdue"
	EventReturn      Event = "return"
	EventComplete    Event = "complete"
)

// transitions is the single state machine shared by every booking kind.
var transitions = map[BookingStatus]map[Event]BookingStatus{
	StatusRequested: {
		EventApprove:     StatusApproved,
		EventReject:      StatusRejected,
		EventRequestInfo: StatusNeedsInfo,
		EventCancel:      StatusCancelled,
	},
	StatusNeedsInfo: {
		EventResubmit: StatusRequested,
		EventReject:   StatusRejected,
		EventCancel:   StatusCancelled,
	},
	StatusApproved: {
		EventPickUp:   StatusPickedUp,
		EventCancel:   StatusCancelled,
		EventComplete: StatusCompleted,
	},
	StatusPickedUp: {
		EventMarkOverdue: StatusOverdue,
		EventReturn:      StatusReturned,
	},
	StatusOverdue: {
		EventReturn: StatusReturned,
	},
	StatusRejected:  {},
	StatusCancelled: {},
	StatusReturned:  {},
	StatusCompleted: {},
}

// IsValid returns true if the status is a recognized booking status.
func (s BookingStatus) IsValid() bool {
	_, exists := transitions[s]
	return exists
}

// Next returns the status reached by firing ev, or an IllegalTransition error.
func (s BookingStatus) Next(ev Event) (BookingStatus, error) {
	next, ok := transitions[s][ev]
	if !ok {
		return "", domain.NewInvalidStateError(string(s), string(ev.Target()))
	}
	return next, nil
}

// CanTransitionTo returns true if some event leads from this status to target.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	_, err := EventFor(s, target)
	return err == nil
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s BookingStatus) IsTerminal() bool {
	events, exists := transitions[s]
	if !exists {
		return true
	}
	return len(events) == 0
}

// HoldsInterval reports whether a booking in this status keeps its intervals blocking.
func (s BookingStatus) HoldsInterval() bool {
	switch s {
	case StatusRequested, StatusNeedsInfo, StatusApproved, StatusPickedUp, StatusOverdue:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s BookingStatus) String() string {
	return string(s)
}

// ParseBookingStatus converts a string to a BookingStatus, returning an error if invalid.
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}

// EventFor resolves the event that moves from to target. Each (from, target)
// pair is reached by at most one event.
func EventFor(from, target BookingStatus) (Event, error) {
	for ev, to := range transitions[from] {
		if to == target {
			return ev, nil
		}
	}
	return "", domain.NewInvalidStateError(string(from), string(target))
}

// IsValid returns true if the event is recognized.
func (e Event) IsValid() bool {
	switch e {
	case EventApprove, EventReject, EventRequestInfo, EventResubmit, EventCancel,
		EventPickUp, EventMarkOverdue, EventReturn, EventComplete:
		return true
	}
	return false
}

// Target returns the status an event leads to. Every event has exactly one target.
func (e Event) Target() BookingStatus {
	switch e {
	case EventApprove:
		return StatusApproved
	case EventReject:
		return StatusRejected
	case EventRequestInfo:
		return StatusNeedsInfo
	case EventResubmit:
		return StatusRequested
	case EventCancel:
		return StatusCancelled
	case EventPickUp:
		return StatusPickedUp
	case EventMarkOverdue:
		return StatusOverdue
	case EventReturn:
		return StatusReturned
	case EventComplete:
		return StatusCompleted
	}
	return ""
}

// ParseEvent converts a string to an Event.
func ParseEvent(s string) (Event, error) {
	ev := Event(s)
	if !ev.IsValid() {
		return "", domain.NewValidationError(fmt.Sprintf("invalid booking event: %s", s))
	}
	return ev, nil
}
