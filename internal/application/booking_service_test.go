package application

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labreserve/service-booking/internal/domain/booking"
	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/domain"
)

func TestCreate_CountableSharesWindowUpToQuantity(t *testing.T) {
	env := newTestEnv(t)
	r1 := env.addCountable(t, 2, 0, "SAFETY-1")
	u1 := env.user(t, "SAFETY-1")
	u2 := env.user(t)

	first, err := env.book(u1, "loan", at(9, 0), at(10, 0), ref(r1, 1))
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusRequested), first.Status)

	_, err = env.book(u2, "loan", at(9, 0), at(10, 0), ref(r1, 1))
	require.Error(t, err)
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeEligibility, de.Code)
	missing, ok := de.Details.([]domain.MissingRequirement)
	require.True(t, ok)
	require.Len(t, missing, 1)
	assert.Equal(t, "SAFETY-1", missing[0].Code)
	assert.Equal(t, resource.RequirementCertification, missing[0].Type)

	_, err = env.book(u1, "loan", at(9, 30), at(10, 30), ref(r1, 2))
	require.NoError(t, err)

	_, err = env.book(u1, "loan", at(9, 30), at(10, 30), ref(r1, 3))
	assert.True(t, domain.HasCode(err, domain.CodeInsufficientStock))
}

func TestCreate_FixedResourceRejectsOverlap(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	held, err := env.book(u, "reservation", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)

	_, err = env.book(u, "reservation", at(9, 30), at(10, 30), ref(fixed, 1))
	require.Error(t, err)
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeConflict, de.Code)
	conflicts, ok := de.Details.([]interval.Summary)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	require.NotNil(t, conflicts[0].BookingID)
	assert.Equal(t, held.ID, *conflicts[0].BookingID)

	// back-to-back windows do not overlap
	_, err = env.book(u, "reservation", at(10, 0), at(11, 0), ref(fixed, 1))
	assert.NoError(t, err)
	_, err = env.book(u, "reservation", at(8, 0), at(9, 0), ref(fixed, 1))
	assert.NoError(t, err)
}

func TestCreate_RejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	_, err := env.book(u, "reservation", at(10, 0), at(9, 0), ref(fixed, 1))
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = env.book(u, "reservation", at(9, 0), at(10, 0), ref(fixed, 2))
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = env.book(u, "reservation", at(9, 0), at(10, 0), ResourceRefDTO{ResourceID: uuid.New(), Quantity: 1})
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))

	_, err = env.book(u, "holiday", at(9, 0), at(10, 0), ref(fixed, 1))
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestCreate_LabLevelBookingBlocksResources(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	_, err := env.book(u, "reservation", at(13, 0), at(17, 0))
	require.NoError(t, err)

	_, err = env.book(u, "reservation", at(14, 0), at(15, 0), ref(fixed, 1))
	assert.True(t, domain.HasCode(err, domain.CodeConflict))

	_, err = env.book(u, "reservation", at(16, 0), at(18, 0))
	assert.True(t, domain.HasCode(err, domain.CodeConflict))
}

func TestCreate_RoleGate(t *testing.T) {
	env := newTestEnv(t)
	scope := env.addResource(t, CreateResourceRequest{
		Name:          "Confocal microscope",
		Kind:          string(resource.KindFixed),
		AllowedRoles:  []string{auth.RoleResearcher},
		RequiredCerts: []string{"LASER-2"},
	})
	student := identity.Requester{UserID: uuid.New(), Role: auth.RoleStudent}

	_, err := env.book(student, "reservation", at(9, 0), at(10, 0), ref(scope, 1))
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeEligibility, de.Code)
	missing := de.Details.([]domain.MissingRequirement)
	require.Len(t, missing, 1)
	assert.Equal(t, resource.RequirementRole, missing[0].Type)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	preview, err := env.bookings.Preview(env.ctx, u, CreateBookingRequest{
		Resources: []ResourceRefDTO{ref(fixed, 1)},
		StartsAt:  at(9, 0),
		EndsAt:    at(10, 0),
	})
	require.NoError(t, err)
	assert.True(t, preview.Admissible)

	mine, err := env.bookings.ListMine(env.ctx, u.UserID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), mine.Total)

	_, err = env.book(u, "reservation", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)

	preview, err = env.bookings.Preview(env.ctx, u, CreateBookingRequest{
		Resources: []ResourceRefDTO{ref(fixed, 1)},
		StartsAt:  at(9, 30),
		EndsAt:    at(10, 30),
	})
	require.NoError(t, err)
	assert.False(t, preview.Admissible)
	assert.Len(t, preview.Conflicts, 1)
	assert.NotEmpty(t, preview.Reasons)
}

func TestCancel_FreesIntervalOnlyBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	bk, err := env.book(u, "reservation", at(14, 0), at(16, 0), ref(fixed, 1))
	require.NoError(t, err)

	env.clock.Set(at(15, 0))
	_, err = env.move(u, bk.ID, string(booking.StatusCancelled), "")
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidState, de.Code)

	env.clock.Set(at(13, 0))
	cancelled, err := env.move(u, bk.ID, string(booking.StatusCancelled), "")
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusCancelled), cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	avail, err := env.availability.Query(env.ctx, AvailabilityQuery{ResourceID: &fixed.ID, From: at(14, 0), To: at(16, 0)})
	require.NoError(t, err)
	assert.False(t, avail.Busy)
	require.Len(t, avail.Intervals, 1)
	assert.Equal(t, interval.StatusAvailable, avail.Intervals[0].Status)

	_, err = env.book(u, "reservation", at(14, 0), at(16, 0), ref(fixed, 1))
	assert.NoError(t, err)

	_, err = env.move(u, bk.ID, string(booking.StatusApproved), "")
	assert.True(t, domain.HasCode(err, domain.CodeInvalidState))
}

func TestTransition_Authorization(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	owner := env.user(t)
	other := env.user(t)
	tech := identity.Requester{UserID: uuid.New(), Role: auth.RoleTechnician}

	bk, err := env.book(owner, "reservation", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)

	_, err = env.move(owner, bk.ID, string(booking.StatusApproved), "")
	assert.True(t, domain.HasCode(err, domain.CodeForbidden))
	_, err = env.move(tech, bk.ID, string(booking.StatusApproved), "")
	assert.True(t, domain.HasCode(err, domain.CodeForbidden))
	_, err = env.move(other, bk.ID, string(booking.StatusCancelled), "")
	assert.True(t, domain.HasCode(err, domain.CodeForbidden))

	_, err = env.bookings.Get(env.ctx, other, bk.ID)
	assert.True(t, domain.HasCode(err, domain.CodeForbidden))
	got, err := env.bookings.Get(env.ctx, tech, bk.ID)
	require.NoError(t, err)
	assert.Equal(t, bk.BookingNumber, got.BookingNumber)

	_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)
	picked, err := env.move(tech, bk.ID, string(booking.StatusPickedUp), "")
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusPickedUp), picked.Status)
}

func TestLoan_PickUpAndReturnRoundTripsStock(t *testing.T) {
	env := newTestEnv(t)
	pipettes := env.addCountable(t, 5, 2)
	u := env.user(t)

	bk, err := env.book(u, "loan", at(9, 0), at(12, 0), ref(pipettes, 4))
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "ok")
	require.NoError(t, err)

	env.clock.Set(at(9, 5))
	picked, err := env.move(env.manager, bk.ID, string(booking.StatusPickedUp), "")
	require.NoError(t, err)
	assert.NotNil(t, picked.PickedUpAt)

	res, err := env.directory.GetResource(env.ctx, pipettes.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AvailableQuantity)
	assert.True(t, res.LowStock)
	assert.Contains(t, env.publisher.types(TopicResourceEvents), ResourceLowStock)

	_, err = env.move(env.manager, bk.ID, string(booking.StatusPickedUp), "")
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeAlreadyProcessed, de.Code)
	assert.Equal(t, "booking already delivered", de.Message)

	env.clock.Set(at(11, 0))
	returned, err := env.move(env.manager, bk.ID, string(booking.StatusReturned), "")
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusReturned), returned.Status)

	res, err = env.directory.GetResource(env.ctx, pipettes.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.AvailableQuantity)

	_, err = env.move(env.manager, bk.ID, string(booking.StatusReturned), "")
	de, ok = domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeAlreadyProcessed, de.Code)
	assert.Equal(t, "booking already returned", de.Message)

	movements, err := env.ledger.Movements(env.ctx, pipettes.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, movements.Items, 2)
	assert.Equal(t, int64(2), movements.Total)

	assert.Equal(t, []string{
		BookingCreated, BookingApproved, BookingPickedUp, BookingReturned,
	}, env.publisher.types(TopicBookingEvents))
	assert.NotEmpty(t, env.publisher.types(TopicAuditEvents))
}

func TestLoan_ReturnConditions(t *testing.T) {
	tests := []struct {
		name       string
		condition  string
		wantStatus string
	}{
		{name: "ok", condition: "OK", wantStatus: string(resource.StatusAvailable)},
		{name: "damaged", condition: "DAMAGED", wantStatus: string(resource.StatusMaintenance)},
		{name: "lost", condition: "LOST", wantStatus: string(resource.StatusInactive)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			fixed := env.addFixed(t)
			u := env.user(t)

			bk, err := env.book(u, "loan", at(9, 0), at(10, 0), ref(fixed, 1))
			require.NoError(t, err)
			_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
			require.NoError(t, err)
			_, err = env.move(env.manager, bk.ID, string(booking.StatusPickedUp), "")
			require.NoError(t, err)

			res, err := env.directory.GetResource(env.ctx, fixed.ID)
			require.NoError(t, err)
			assert.Equal(t, string(resource.StatusReserved), res.Status)

			_, err = env.move(env.manager, bk.ID, string(booking.StatusReturned), tt.condition)
			require.NoError(t, err)

			res, err = env.directory.GetResource(env.ctx, fixed.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
		})
	}
}

func TestLoan_DamagedCountableIsNotRestocked(t *testing.T) {
	env := newTestEnv(t)
	flasks := env.addCountable(t, 3, 0)
	u := env.user(t)

	bk, err := env.book(u, "loan", at(9, 0), at(10, 0), ref(flasks, 2))
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusPickedUp), "")
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusReturned), "DAMAGED")
	require.NoError(t, err)

	res, err := env.directory.GetResource(env.ctx, flasks.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AvailableQuantity)
}

func TestPickUp_EligibilityRegression(t *testing.T) {
	env := newTestEnv(t)
	laser := env.addResource(t, CreateResourceRequest{
		Name:          "Laser cutter",
		Kind:          string(resource.KindFixed),
		RequiredCerts: []string{"LASER-1"},
	})
	u := env.user(t, "LASER-1")

	bk, err := env.book(u, "loan", at(9, 0), at(10, 0), ref(laser, 1))
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)

	grants, err := env.directory.ListCertifications(env.ctx, u.UserID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.NoError(t, env.directory.RevokeCertification(env.ctx, env.manager, grants[0].ID))

	_, err = env.move(env.manager, bk.ID, string(booking.StatusPickedUp), "")
	assert.True(t, domain.HasCode(err, domain.CodeEligibility))

	got, err := env.bookings.Get(env.ctx, u, bk.ID)
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusApproved), got.Status)

	res, err := env.directory.GetResource(env.ctx, laser.ID)
	require.NoError(t, err)
	assert.Equal(t, string(resource.StatusAvailable), res.Status)
}

func TestRequest_HoldsIntervalOnlyOnceApproved(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	req, err := env.book(u, "request", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)

	info, err := env.bookings.Transition(env.ctx, env.manager, req.ID, TransitionRequest{
		TargetStatus: string(booking.StatusNeedsInfo),
		Note:         "which rotor?",
	})
	require.NoError(t, err)
	assert.Equal(t, "which rotor?", info.ReviewerNote)

	resubmitted, err := env.bookings.Transition(env.ctx, u, req.ID, TransitionRequest{
		TargetStatus: string(booking.StatusRequested),
		Note:         "TLA-100",
	})
	require.NoError(t, err)
	assert.Equal(t, "TLA-100", resubmitted.Notes)

	competing, err := env.book(u, "reservation", at(9, 30), at(10, 30), ref(fixed, 1))
	require.NoError(t, err)

	_, err = env.move(env.manager, req.ID, string(booking.StatusApproved), "")
	assert.True(t, domain.HasCode(err, domain.CodeConflict))

	_, err = env.move(env.manager, competing.ID, string(booking.StatusRejected), "")
	require.NoError(t, err)

	approved, err := env.move(env.manager, req.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)
	assert.NotNil(t, approved.ApprovedAt)

	avail, err := env.availability.Query(env.ctx, AvailabilityQuery{ResourceID: &fixed.ID, From: at(9, 0), To: at(10, 0)})
	require.NoError(t, err)
	assert.True(t, avail.Busy)
}

func TestComplete_SpaceReservation(t *testing.T) {
	env := newTestEnv(t)
	room := env.addResource(t, CreateResourceRequest{Name: "Seminar room", Kind: string(resource.KindSpace)})
	u := env.user(t)

	bk, err := env.book(u, "reservation", at(9, 0), at(10, 0), ref(room, 1))
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)

	_, err = env.move(env.manager, bk.ID, string(booking.StatusCompleted), "")
	assert.True(t, domain.HasCode(err, domain.CodeInvalidState))

	env.clock.Set(at(10, 0))
	done, err := env.move(env.manager, bk.ID, string(booking.StatusCompleted), "")
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusCompleted), done.Status)

	_, err = env.move(env.manager, bk.ID, string(booking.StatusPickedUp), "")
	assert.True(t, domain.HasCode(err, domain.CodeInvalidState))
}

func TestComplete_RefusedForHandedOutResources(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	bk, err := env.book(u, "loan", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)

	env.clock.Set(at(9, 30))
	_, err = env.move(env.manager, bk.ID, string(booking.StatusCompleted), "")
	assert.True(t, domain.HasCode(err, domain.CodeInvalidState))
}

func TestMarkOverdue(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	bk, err := env.book(u, "loan", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)
	_, err = env.move(env.manager, bk.ID, string(booking.StatusPickedUp), "")
	require.NoError(t, err)

	env.clock.Set(at(9, 59))
	_, err = env.move(env.manager, bk.ID, string(booking.StatusOverdue), "")
	assert.True(t, domain.HasCode(err, domain.CodeInvalidState))

	env.clock.Set(at(10, 0))
	overdue, err := env.move(env.manager, bk.ID, string(booking.StatusOverdue), "")
	require.NoError(t, err)
	assert.Equal(t, string(booking.StatusOverdue), overdue.Status)

	_, err = env.move(env.manager, bk.ID, string(booking.StatusReturned), "")
	require.NoError(t, err)
}

func TestCreate_ConcurrentDoubleBookingAdmitsOne(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		admitted  int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := identity.Requester{UserID: uuid.New(), Role: auth.RoleResearcher}
			// staggered windows that all overlap [9:30, 10:00)
			from := at(9, i%4*5)
			_, err := env.book(u, "reservation", from, at(10, 0), ref(fixed, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case domain.HasCode(err, domain.CodeConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, attempts-1, conflicts)

	avail, err := env.availability.Query(env.ctx, AvailabilityQuery{
		ResourceID: &fixed.ID,
		From:       at(9, 0),
		To:         at(10, 0),
		Statuses:   []string{string(interval.StatusReserved)},
	})
	require.NoError(t, err)
	assert.Len(t, avail.Intervals, 1)
}

func TestCreate_ConcurrentStockNeverOversubscribesPickUp(t *testing.T) {
	env := newTestEnv(t)
	tips := env.addCountable(t, 3, 0)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		bk, err := env.book(env.user(t), "loan", at(9, 0), at(10, 0), ref(tips, 1))
		require.NoError(t, err)
		_, err = env.move(env.manager, bk.ID, string(booking.StatusApproved), "")
		require.NoError(t, err)
		ids = append(ids, bk.ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		pickedUp int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := env.move(env.manager, id, string(booking.StatusPickedUp), "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				pickedUp++
				return
			}
			assert.True(t, domain.HasCode(err, domain.CodeInsufficientStock), "unexpected error: %v", err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, pickedUp)
	res, err := env.directory.GetResource(env.ctx, tips.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.AvailableQuantity)
}

func TestListAndStats(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)

	first, err := env.book(u, "reservation", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)
	_, err = env.book(u, "reservation", at(11, 0), at(12, 0), ref(fixed, 1))
	require.NoError(t, err)
	_, err = env.move(env.manager, first.ID, string(booking.StatusApproved), "")
	require.NoError(t, err)

	mine, err := env.bookings.ListMine(env.ctx, u.UserID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Total)
	assert.Len(t, mine.Items, 1)

	approved, total, err := env.bookings.ListAll(env.ctx, string(booking.StatusApproved), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, first.ID, approved[0].ID)

	_, _, err = env.bookings.ListAll(env.ctx, "SHIPPED", 1, 10)
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	stats, err := env.bookings.Stats(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalBookings)
	assert.Equal(t, int64(1), stats.ByStatus[string(booking.StatusApproved)])
	assert.Equal(t, int64(1), stats.ByStatus[string(booking.StatusRequested)])
}
