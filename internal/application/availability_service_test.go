package application

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/pkg/domain"
)

func TestAvailability_ResourceQueryIncludesLabLevel(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	other := env.addFixed(t)
	u := env.user(t)

	_, err := env.book(u, "reservation", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)
	_, err = env.book(u, "reservation", at(9, 0), at(10, 0), ref(other, 1))
	require.NoError(t, err)
	_, err = env.intervals.Block(env.ctx, env.manager, BlockRequest{
		LabID:    env.lab.ID,
		StartsAt: at(10, 0),
		EndsAt:   at(11, 0),
		Status:   string(interval.StatusBlocked),
	})
	require.NoError(t, err)

	byResource, err := env.availability.Query(env.ctx, AvailabilityQuery{ResourceID: &fixed.ID, From: at(8, 0), To: at(12, 0)})
	require.NoError(t, err)
	assert.True(t, byResource.Busy)
	assert.Len(t, byResource.Intervals, 2)

	byLab, err := env.availability.Query(env.ctx, AvailabilityQuery{LabID: &env.lab.ID, From: at(8, 0), To: at(12, 0)})
	require.NoError(t, err)
	assert.Len(t, byLab.Intervals, 3)

	// [10:00, 11:00) does not touch the bookings ending at 10:00
	late, err := env.availability.Query(env.ctx, AvailabilityQuery{
		ResourceID: &fixed.ID,
		From:       at(10, 0),
		To:         at(11, 0),
		Statuses:   []string{"reserved"},
	})
	require.NoError(t, err)
	assert.False(t, late.Busy)
	assert.Empty(t, late.Intervals)
}

func TestAvailability_CacheIsInvalidatedByWrites(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)
	q := AvailabilityQuery{ResourceID: &fixed.ID, From: at(9, 0), To: at(10, 0)}

	first, err := env.availability.Query(env.ctx, q)
	require.NoError(t, err)
	assert.False(t, first.Busy)

	before := env.cache.invalidated[env.lab.ID]
	_, err = env.book(u, "reservation", at(9, 0), at(10, 0), ref(fixed, 1))
	require.NoError(t, err)
	assert.Greater(t, env.cache.invalidated[env.lab.ID], before)

	second, err := env.availability.Query(env.ctx, q)
	require.NoError(t, err)
	assert.True(t, second.Busy)
}

// interleavedCache runs beforeSet once, between a reader's store load and
// its cache write, to stand in for a writer committing in that gap.
type interleavedCache struct {
	*memoryCache
	beforeSet func()
}

func (c *interleavedCache) Set(ctx context.Context, labID uuid.UUID, gen int64, key string, value []byte) error {
	if f := c.beforeSet; f != nil {
		c.beforeSet = nil
		f()
	}
	return c.memoryCache.Set(ctx, labID, gen, key, value)
}

func TestAvailability_SetAfterInvalidateIsNotServed(t *testing.T) {
	env := newTestEnv(t)
	lab := env.lab.ID

	_, gen, ok, err := env.cache.Get(env.ctx, lab, "q")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, env.cache.Invalidate(env.ctx, lab))
	require.NoError(t, env.cache.Set(env.ctx, lab, gen, "q", []byte(`{"busy":false}`)))

	_, _, ok, err = env.cache.Get(env.ctx, lab, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAvailability_WriteBetweenLoadAndCacheFillIsVisible(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	u := env.user(t)
	q := AvailabilityQuery{ResourceID: &fixed.ID, From: at(9, 0), To: at(10, 0)}

	racing := &interleavedCache{memoryCache: env.cache}
	racing.beforeSet = func() {
		_, err := env.book(u, "reservation", at(9, 0), at(10, 0), ref(fixed, 1))
		require.NoError(t, err)
	}
	svc := NewAvailabilityService(env.store, racing, zap.NewNop())

	// the snapshot was taken before the booking committed
	first, err := svc.Query(env.ctx, q)
	require.NoError(t, err)
	assert.False(t, first.Busy)

	second, err := svc.Query(env.ctx, q)
	require.NoError(t, err)
	assert.True(t, second.Busy)
}

func TestAvailability_Validation(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.addFixed(t)
	otherLab := uuid.New()

	_, err := env.availability.Query(env.ctx, AvailabilityQuery{From: at(9, 0), To: at(10, 0)})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = env.availability.Query(env.ctx, AvailabilityQuery{ResourceID: &fixed.ID, From: at(10, 0), To: at(10, 0)})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = env.availability.Query(env.ctx, AvailabilityQuery{ResourceID: &fixed.ID, LabID: &otherLab, From: at(9, 0), To: at(10, 0)})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = env.availability.Query(env.ctx, AvailabilityQuery{LabID: &otherLab, From: at(9, 0), To: at(10, 0)})
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))

	_, err = env.availability.Query(env.ctx, AvailabilityQuery{LabID: &env.lab.ID, From: at(9, 0), To: at(10, 0), Statuses: []string{"SOON"}})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestDirectory_Eligibility(t *testing.T) {
	env := newTestEnv(t)
	hood := env.addCountable(t, 1, 0, "chem-hood", "SAFETY-1")
	u := env.user(t, "SAFETY-1")

	got, err := env.directory.Eligibility(env.ctx, u, hood.ID)
	require.NoError(t, err)
	assert.False(t, got.OK)
	require.Len(t, got.MissingRequirements, 1)
	assert.Equal(t, "CHEM-HOOD", got.MissingRequirements[0].Code)

	_, err = env.directory.GrantCertification(env.ctx, env.manager, GrantCertificationRequest{UserID: u.UserID, Code: "Chem-Hood"})
	require.NoError(t, err)

	got, err = env.directory.Eligibility(env.ctx, u, hood.ID)
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Empty(t, got.MissingRequirements)

	labs, err := env.directory.ListLabs(env.ctx)
	require.NoError(t, err)
	require.Len(t, labs, 1)
	resources, err := env.directory.ListResources(env.ctx, labs[0].ID)
	require.NoError(t, err)
	assert.Len(t, resources, 1)
}

func TestDirectory_GrantCertificationRejectsBlankCode(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t)

	_, err := env.directory.GrantCertification(env.ctx, env.manager, GrantCertificationRequest{UserID: u.UserID, Code: "  "})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}
