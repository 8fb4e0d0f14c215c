package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/domain/booking"
	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/stock"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/domain"
	"github.com/labreserve/service-booking/pkg/metrics"
)

// BookingService is the Booking Lifecycle Manager. Every booking-affecting
// operation is one unit of work that locks, in order, the booking row, the
// lab row and the resource rows (ascending ID), validates under those locks
// and writes.
type BookingService struct {
	store     unitofwork.Store
	validator *Validator
	ledger    *StockLedger
	notifier  *Notifier
	metrics   *metrics.BookingMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	store unitofwork.Store,
	validator *Validator,
	ledger *StockLedger,
	notifier *Notifier,
	m *metrics.BookingMetrics,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		store:     store,
		validator: validator,
		ledger:    ledger,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

// Preview runs the validator against the committed snapshot. It never locks
// or writes, so its answer may be stale by the time Create runs.
func (s *BookingService) Preview(ctx context.Context, requester identity.Requester, req CreateBookingRequest) (*PreviewDTO, error) {
	_, labID, items, window, err := s.parseRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	d, err := s.validator.Validate(ctx, s.store.Repositories(), Candidate{
		Requester: requester,
		LabID:     labID,
		Items:     items,
		Window:    window,
	}, nil, s.now())
	if err != nil {
		return nil, err
	}

	result := toPreviewDTO(d)
	return &result, nil
}

// Create validates and persists a booking atomically. Reservations and loans
// hold RESERVED intervals from creation; requests only once approved.
func (s *BookingService) Create(ctx context.Context, requester identity.Requester, req CreateBookingRequest) (*BookingDTO, error) {
	kind, labID, items, window, err := s.parseRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	bk, err := booking.NewBooking(kind, requester.UserID, requester.Role, labID, items, window, req.Notes, now)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer s.metrics.ObserveDuration("create", started)

	fx := newEffects()
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos unitofwork.Repositories) error {
		resources, err := s.lockScope(ctx, repos, bk)
		if err != nil {
			return err
		}

		d, err := s.validator.Validate(ctx, repos, Candidate{
			Requester: requester,
			LabID:     labID,
			Items:     bk.Items(),
			Window:    window,
		}, resources, now)
		if err != nil {
			return err
		}
		if !d.Admissible {
			return d.Err()
		}

		if err := repos.Bookings.Save(ctx, bk); err != nil {
			return err
		}
		if kind.HoldsOnCreate() {
			if err := s.holdIntervals(ctx, repos, bk); err != nil {
				return err
			}
			fx.touch(labID)
		}

		fx.emit(TopicBookingEvents, BookingCreated, bk.ID().String(), s.bookingEvent(bk, "create", "", requester.UserID, req.Notes, now))
		fx.audit("booking", bk.ID().String(), requester.UserID, "create", map[string]any{
			"kind":   string(kind),
			"status": string(bk.Status()),
		}, now)
		return nil
	})
	if err != nil {
		s.metrics.ObserveAdmission(admissionResult(err))
		return nil, err
	}
	s.metrics.ObserveAdmission("admitted")

	s.logger.Info("booking created",
		zap.String("booking_id", bk.ID().String()),
		zap.String("booking_number", bk.BookingNumber()),
		zap.String("kind", string(kind)),
		zap.String("requester_id", requester.UserID.String()),
	)
	s.notifier.flush(ctx, fx)

	result := toBookingDTO(bk)
	return &result, nil
}

// Transition is the only way to change a booking's status. The event is
// resolved from (current, target); its side effects commit with the status
// write or not at all.
func (s *BookingService) Transition(ctx context.Context, actor identity.Requester, bookingID uuid.UUID, req TransitionRequest) (*BookingDTO, error) {
	target, err := booking.ParseBookingStatus(req.TargetStatus)
	if err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	condition, err := booking.ParseCondition(req.Condition)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer s.metrics.ObserveDuration("transition", started)

	fx := newEffects()
	var (
		bk   *booking.Booking
		from booking.BookingStatus
		ev   booking.Event
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos unitofwork.Repositories) error {
		var err error
		bk, err = repos.Bookings.LockByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := s.checkAlreadyProcessed(ctx, repos, bk, target); err != nil {
			return err
		}

		ev, err = booking.EventFor(bk.Status(), target)
		if err != nil {
			return err
		}
		if err := authorize(actor, bk, ev); err != nil {
			return err
		}

		resources, err := s.lockScope(ctx, repos, bk)
		if err != nil {
			return err
		}

		now := s.now()
		from, err = bk.Apply(ev, actor.UserID, req.Note, now)
		if err != nil {
			return err
		}
		if err := s.applySideEffects(ctx, repos, bk, ev, actor, condition, resources, now, fx); err != nil {
			return err
		}
		if err := repos.Bookings.Update(ctx, bk); err != nil {
			return err
		}

		fx.emit(TopicBookingEvents, eventTypeFor(ev), bk.ID().String(), s.bookingEvent(bk, string(ev), string(from), actor.UserID, req.Note, now))
		detail := map[string]any{"from": string(from), "to": string(bk.Status())}
		if ev == booking.EventReturn {
			detail["condition"] = string(condition)
		}
		fx.audit("booking", bk.ID().String(), actor.UserID, string(ev), detail, now)
		return nil
	})
	s.metrics.ObserveTransition(string(ev), err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking transitioned",
		zap.String("booking_id", bk.ID().String()),
		zap.String("event", string(ev)),
		zap.String("from", string(from)),
		zap.String("to", string(bk.Status())),
		zap.String("actor_id", actor.UserID.String()),
	)
	s.notifier.flush(ctx, fx)

	result := toBookingDTO(bk)
	return &result, nil
}

// checkAlreadyProcessed detects duplicate hand-out and return requests so
// they are reported instead of executed twice.
func (s *BookingService) checkAlreadyProcessed(ctx context.Context, repos unitofwork.Repositories, bk *booking.Booking, target booking.BookingStatus) error {
	switch target {
	case booking.StatusPickedUp:
		assignments, err := repos.Assignments.FindByBooking(ctx, bk.ID())
		if err != nil {
			return err
		}
		if len(assignments) > 0 || bk.Status() == booking.StatusPickedUp || bk.Status() == booking.StatusOverdue {
			return domain.NewAlreadyProcessedError("booking", "delivered")
		}
	case booking.StatusReturned:
		if bk.Status() == booking.StatusReturned {
			return domain.NewAlreadyProcessedError("booking", "returned")
		}
	}
	return nil
}

// lockScope takes the lab row lock (exclusive for lab-level bookings) and
// then every referenced resource row in ascending ID order.
func (s *BookingService) lockScope(ctx context.Context, repos unitofwork.Repositories, bk *booking.Booking) (map[uuid.UUID]*resource.Resource, error) {
	mode := resource.LockShared
	if bk.IsLabLevel() {
		mode = resource.LockExclusive
	}
	if _, err := repos.Labs.Lock(ctx, bk.LabID(), mode); err != nil {
		return nil, err
	}
	if bk.IsLabLevel() {
		return map[uuid.UUID]*resource.Resource{}, nil
	}
	locked, err := repos.Resources.LockForUpdate(ctx, bk.ResourceIDs())
	if err != nil {
		return nil, err
	}
	return indexResources(locked), nil
}

func (s *BookingService) applySideEffects(
	ctx context.Context,
	repos unitofwork.Repositories,
	bk *booking.Booking,
	ev booking.Event,
	actor identity.Requester,
	condition booking.Condition,
	resources map[uuid.UUID]*resource.Resource,
	now time.Time,
	fx *effects,
) error {
	switch ev {
	case booking.EventApprove:
		if err := s.revalidate(ctx, repos, bk, resources, now); err != nil {
			return err
		}
		return s.confirmIntervals(ctx, repos, bk, fx)

	case booking.EventResubmit:
		return s.revalidate(ctx, repos, bk, resources, now)

	case booking.EventPickUp:
		return s.handOut(ctx, repos, bk, actor, resources, now, fx)

	case booking.EventReturn:
		if err := s.takeBack(ctx, repos, bk, actor, condition, resources, now, fx); err != nil {
			return err
		}
		return s.freeIntervals(ctx, repos, bk, fx)

	case booking.EventComplete:
		for _, it := range bk.Items() {
			if resources[it.ResourceID].Kind().IsHandedOut() {
				return domain.NewPolicyError(string(booking.StatusApproved), string(booking.StatusCompleted),
					"bookings with fixed or countable resources must be picked up and returned")
			}
		}
		return s.freeIntervals(ctx, repos, bk, fx)

	case booking.EventReject, booking.EventCancel:
		return s.freeIntervals(ctx, repos, bk, fx)
	}
	return nil
}

// revalidate re-runs admission under the held locks, ignoring the booking's own intervals.
func (s *BookingService) revalidate(ctx context.Context, repos unitofwork.Repositories, bk *booking.Booking, resources map[uuid.UUID]*resource.Resource, now time.Time) error {
	id := bk.ID()
	d, err := s.validator.Validate(ctx, repos, Candidate{
		Requester:        identity.Requester{UserID: bk.RequesterID(), Role: bk.RequesterRole()},
		LabID:            bk.LabID(),
		Items:            bk.Items(),
		Window:           bk.Window(),
		ExcludeBookingID: &id,
	}, resources, now)
	if err != nil {
		return err
	}
	return d.Err()
}

// holdIntervals inserts one RESERVED interval per resource, or one lab-level interval.
func (s *BookingService) holdIntervals(ctx context.Context, repos unitofwork.Repositories, bk *booking.Booking) error {
	id := bk.ID()
	if bk.IsLabLevel() {
		iv, err := interval.NewInterval(bk.LabID(), nil, &id, bk.Window(), interval.StatusReserved, bk.BookingNumber())
		if err != nil {
			return err
		}
		return repos.Intervals.Insert(ctx, iv)
	}
	for _, resourceID := range bk.ResourceIDs() {
		rid := resourceID
		iv, err := interval.NewInterval(bk.LabID(), &rid, &id, bk.Window(), interval.StatusReserved, bk.BookingNumber())
		if err != nil {
			return err
		}
		if err := repos.Intervals.Insert(ctx, iv); err != nil {
			return err
		}
	}
	return nil
}

// confirmIntervals makes sure the booking holds RESERVED intervals after approval.
func (s *BookingService) confirmIntervals(ctx context.Context, repos unitofwork.Repositories, bk *booking.Booking, fx *effects) error {
	held, err := repos.Intervals.FindByBooking(ctx, bk.ID())
	if err != nil {
		return err
	}
	reserved := 0
	for _, iv := range held {
		if iv.Status() == interval.StatusReserved {
			reserved++
		}
	}
	if reserved > 0 {
		return nil
	}
	fx.touch(bk.LabID())
	return s.holdIntervals(ctx, repos, bk)
}

// freeIntervals releases every interval the booking still holds back to AVAILABLE.
func (s *BookingService) freeIntervals(ctx context.Context, repos unitofwork.Repositories, bk *booking.Booking, fx *effects) error {
	held, err := repos.Intervals.FindByBooking(ctx, bk.ID())
	if err != nil {
		return err
	}
	for _, iv := range held {
		if iv.Status() == interval.StatusAvailable {
			continue
		}
		if _, err := repos.Intervals.SetStatus(ctx, iv.ID(), interval.StatusAvailable); err != nil {
			return err
		}
		fx.touch(bk.LabID())
	}
	return nil
}

// handOut re-checks eligibility, takes stock, flips fixed resources in use
// and records one Assignment per handed-out resource.
func (s *BookingService) handOut(
	ctx context.Context,
	repos unitofwork.Repositories,
	bk *booking.Booking,
	actor identity.Requester,
	resources map[uuid.UUID]*resource.Resource,
	now time.Time,
	fx *effects,
) error {
	grants, err := repos.Certifications.FindByUser(ctx, bk.RequesterID())
	if err != nil {
		return fmt.Errorf("failed to load certifications: %w", err)
	}
	var missing []domain.MissingRequirement
	for _, it := range bk.Items() {
		e := resources[it.ResourceID].CheckEligibility(bk.RequesterRole(), grants, now)
		missing = append(missing, e.Missing...)
	}
	if len(missing) > 0 {
		return domain.NewEligibilityError(missing)
	}

	bookingID := bk.ID()
	actorID := actor.UserID
	handed := 0
	for _, it := range bk.Items() {
		res := resources[it.ResourceID]
		switch res.Kind() {
		case resource.KindCountable:
			if _, err := s.ledger.adjustLocked(ctx, repos, res, -it.Quantity, stock.ReasonPickUp, &bookingID, &actorID, bk.BookingNumber(), fx); err != nil {
				return err
			}
		case resource.KindFixed:
			if err := res.MarkInUse(); err != nil {
				return err
			}
			if err := repos.Resources.Update(ctx, res); err != nil {
				return err
			}
		default:
			continue
		}
		if err := repos.Assignments.Save(ctx, booking.NewAssignment(bookingID, res.ID(), it.Quantity, actorID, now)); err != nil {
			return err
		}
		handed++
	}
	if handed == 0 {
		return domain.NewValidationError("booking has nothing to hand out; complete it instead")
	}
	return nil
}

// takeBack closes every open Assignment. OK restocks countable resources and
// frees fixed ones; DAMAGED sends fixed resources to maintenance; LOST retires
// them. Damaged or lost countable quantities are not restocked.
func (s *BookingService) takeBack(
	ctx context.Context,
	repos unitofwork.Repositories,
	bk *booking.Booking,
	actor identity.Requester,
	condition booking.Condition,
	resources map[uuid.UUID]*resource.Resource,
	now time.Time,
	fx *effects,
) error {
	assignments, err := repos.Assignments.FindByBooking(ctx, bk.ID())
	if err != nil {
		return err
	}

	bookingID := bk.ID()
	actorID := actor.UserID
	closed := 0
	for _, a := range assignments {
		if !a.Status().IsOpen() {
			continue
		}
		res, ok := resources[a.ResourceID()]
		if !ok {
			return domain.NewNotFoundError("Resource", a.ResourceID().String())
		}

		switch {
		case res.IsCountable() && condition == booking.ConditionOK:
			if _, err := s.ledger.adjustLocked(ctx, repos, res, a.Quantity(), stock.ReasonReturn, &bookingID, &actorID, bk.BookingNumber(), fx); err != nil {
				return err
			}
		case res.Kind() == resource.KindFixed:
			switch condition {
			case booking.ConditionDamaged:
				res.MarkMaintenance()
			case booking.ConditionLost:
				res.MarkInactive()
			default:
				res.MarkAvailable()
			}
			if err := repos.Resources.Update(ctx, res); err != nil {
				return err
			}
			fx.touch(res.LabID())
		}

		if err := a.Close(condition, actorID, now); err != nil {
			return err
		}
		if err := repos.Assignments.Update(ctx, a); err != nil {
			return err
		}
		closed++
	}
	if closed == 0 {
		return domain.NewAlreadyProcessedError("booking", "returned")
	}
	return nil
}

// authorize lets managers fire any event, technicians run the hand-out desk
// and requesters withdraw or resubmit their own bookings.
func authorize(actor identity.Requester, bk *booking.Booking, ev booking.Event) error {
	if actor.HasAnyRole(auth.RoleLabManager, auth.RoleAdmin) {
		return nil
	}
	switch ev {
	case booking.EventPickUp, booking.EventReturn, booking.EventMarkOverdue:
		if actor.HasAnyRole(auth.RoleTechnician) {
			return nil
		}
	case booking.EventCancel, booking.EventResubmit:
		if actor.UserID == bk.RequesterID() {
			return nil
		}
	}
	return domain.NewForbiddenError(fmt.Sprintf("not allowed to %s this booking", ev))
}

// Get retrieves a single booking. Requesters only see their own bookings.
func (s *BookingService) Get(ctx context.Context, viewer identity.Requester, bookingID uuid.UUID) (*BookingDTO, error) {
	bk, err := s.store.Repositories().Bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if bk.RequesterID() != viewer.UserID && !viewer.HasAnyRole(auth.RoleLabManager, auth.RoleAdmin, auth.RoleTechnician) {
		return nil, domain.NewForbiddenError("booking does not belong to this user")
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// ListMine retrieves paginated bookings submitted by the requester.
func (s *BookingService) ListMine(ctx context.Context, requesterID uuid.UUID, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.store.Repositories().Bookings.FindByRequester(ctx, requesterID, page, limit)
	if err != nil {
		return nil, err
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}

	result := domain.NewPaginatedResult(dtos, total, page, limit)
	return &result, nil
}

// --- Admin methods ---

// ListAll returns a paginated list of all bookings, optionally filtered by status (admin).
func (s *BookingService) ListAll(ctx context.Context, status string, page, limit int) ([]BookingDTO, int64, error) {
	var filter booking.BookingStatus
	if status != "" {
		parsed, err := booking.ParseBookingStatus(status)
		if err != nil {
			return nil, 0, domain.NewValidationError(err.Error())
		}
		filter = parsed
	}

	bookings, total, err := s.store.Repositories().Bookings.ListAll(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}
	return dtos, total, nil
}

// Stats returns aggregate booking statistics (admin).
func (s *BookingService) Stats(ctx context.Context) (*BookingStatsDTO, error) {
	counts, err := s.store.Repositories().Bookings.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	return &BookingStatsDTO{
		TotalBookings: total,
		ByStatus:      counts,
	}, nil
}

// --- Helpers ---

// parseRequest rejects malformed input before any lock is taken and resolves
// the lab from the referenced resources when it is not given.
func (s *BookingService) parseRequest(ctx context.Context, req CreateBookingRequest) (booking.Kind, uuid.UUID, []booking.Item, interval.Window, error) {
	window, err := interval.NewWindow(req.StartsAt, req.EndsAt)
	if err != nil {
		return "", uuid.Nil, nil, interval.Window{}, err
	}

	kind := booking.Kind(req.Kind)
	if req.Kind == "" {
		kind = booking.KindReservation
	}
	if !kind.IsValid() {
		return "", uuid.Nil, nil, interval.Window{}, domain.NewValidationError(fmt.Sprintf("invalid booking kind: %s", req.Kind))
	}

	refs := make([]booking.Item, len(req.Resources))
	for i, r := range req.Resources {
		qty := r.Quantity
		if qty == 0 {
			qty = 1
		}
		refs[i] = booking.Item{ResourceID: r.ResourceID, Quantity: qty}
	}
	items, err := booking.NormalizeItems(refs)
	if err != nil {
		return "", uuid.Nil, nil, interval.Window{}, err
	}

	var labID uuid.UUID
	if req.LabID != nil {
		labID = *req.LabID
	}
	if len(items) == 0 {
		if labID == uuid.Nil {
			return "", uuid.Nil, nil, interval.Window{}, domain.NewValidationError("lab ID is required when no resources are referenced")
		}
		if _, err := s.store.Repositories().Labs.FindByID(ctx, labID); err != nil {
			return "", uuid.Nil, nil, interval.Window{}, err
		}
		return kind, labID, items, window, nil
	}

	resources, err := s.store.Repositories().Resources.FindByIDs(ctx, itemIDs(items))
	if err != nil {
		return "", uuid.Nil, nil, interval.Window{}, err
	}
	for _, res := range resources {
		if labID == uuid.Nil {
			labID = res.LabID()
		}
		if res.LabID() != labID {
			return "", uuid.Nil, nil, interval.Window{}, domain.NewValidationError("all resources of a booking must belong to one lab")
		}
	}
	return kind, labID, items, window, nil
}

func (s *BookingService) bookingEvent(bk *booking.Booking, ev, from string, actorID uuid.UUID, note string, now time.Time) BookingEvent {
	return BookingEvent{
		BookingID:     bk.ID(),
		BookingNumber: bk.BookingNumber(),
		Kind:          string(bk.Kind()),
		RequesterID:   bk.RequesterID(),
		LabID:         bk.LabID(),
		Event:         ev,
		From:          from,
		To:            string(bk.Status()),
		ActorID:       actorID,
		Note:          note,
		StartsAt:      bk.Window().Start,
		EndsAt:        bk.Window().End,
		OccurredAt:    now,
	}
}

func eventTypeFor(ev booking.Event) string {
	switch ev {
	case booking.EventApprove:
		return BookingApproved
	case booking.EventReject:
		return BookingRejected
	case booking.EventRequestInfo:
		return BookingInfoRequested
	case booking.EventResubmit:
		return BookingResubmitted
	case booking.EventCancel:
		return BookingCancelled
	case booking.EventPickUp:
		return BookingPickedUp
	case booking.EventMarkOverdue:
		return BookingOverdue
	case booking.EventReturn:
		return BookingReturned
	case booking.EventComplete:
		return BookingCompleted
	}
	return "booking." + string(ev)
}

func admissionResult(err error) string {
	if de, ok := domain.AsDomainError(err); ok {
		return string(de.Code)
	}
	return "error"
}
