package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	bookingDomain "github.com/labreserve/service-booking/internal/domain/booking"
	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/stock"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
	"github.com/labreserve/service-booking/pkg/domain"
)

// MemoryStore is an in-process unit of work with the same observable
// semantics as GormStore. Units of work are serialized by a single writer
// slot; each one works on a copy of the committed rows and swaps it in on
// success, so a failed unit leaves nothing behind.
type MemoryStore struct {
	mu          sync.RWMutex
	data        *memoryData
	writer      chan struct{}
	lockTimeout time.Duration
}

type memoryData struct {
	labs        map[uuid.UUID]LabModel
	resources   map[uuid.UUID]ResourceModel
	intervals   map[uuid.UUID]IntervalModel
	bookings    map[uuid.UUID]BookingModel
	assignments map[uuid.UUID]AssignmentModel
	movements   []StockMovementModel
	certs       map[uuid.UUID]CertificationModel
}

// NewMemoryStore creates an empty MemoryStore. A waiting unit of work gives
// up with a ContentionError after lockTimeout (zero waits for ctx only).
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		data: &memoryData{
			labs:        map[uuid.UUID]LabModel{},
			resources:   map[uuid.UUID]ResourceModel{},
			intervals:   map[uuid.UUID]IntervalModel{},
			bookings:    map[uuid.UUID]BookingModel{},
			assignments: map[uuid.UUID]AssignmentModel{},
			certs:       map[uuid.UUID]CertificationModel{},
		},
		writer:      make(chan struct{}, 1),
		lockTimeout: lockTimeout,
	}
}

// Repositories returns repositories over the committed snapshot. Writes made
// through them run as their own single-statement unit of work.
func (s *MemoryStore) Repositories() unitofwork.Repositories {
	return s.bindView(memView{store: s})
}

// WithinTx runs fn against a private copy of the data and commits it on success.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos unitofwork.Repositories) error) error {
	return s.apply(ctx, func(working *memoryData) error {
		return fn(ctx, s.bindView(memView{store: s, tx: working}))
	})
}

func (s *MemoryStore) apply(ctx context.Context, fn func(working *memoryData) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.writer }()

	working := s.snapshot().clone()
	if err := fn(working); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-timeout:
		return domain.NewContentionError(context.DeadlineExceeded)
	case <-ctx.Done():
		return domain.NewContentionError(ctx.Err())
	}
}

func (s *MemoryStore) snapshot() *memoryData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *MemoryStore) bindView(v memView) unitofwork.Repositories {
	return unitofwork.Repositories{
		Labs:           &memoryLabRepository{v},
		Resources:      &memoryResourceRepository{v},
		Intervals:      &memoryIntervalRepository{v},
		Bookings:       &memoryBookingRepository{v},
		Assignments:    &memoryAssignmentRepository{v},
		Movements:      &memoryMovementRepository{v},
		Certifications: &memoryCertificationRepository{v},
	}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		labs:        make(map[uuid.UUID]LabModel, len(d.labs)),
		resources:   make(map[uuid.UUID]ResourceModel, len(d.resources)),
		intervals:   make(map[uuid.UUID]IntervalModel, len(d.intervals)),
		bookings:    make(map[uuid.UUID]BookingModel, len(d.bookings)),
		assignments: make(map[uuid.UUID]AssignmentModel, len(d.assignments)),
		movements:   make([]StockMovementModel, len(d.movements)),
		certs:       make(map[uuid.UUID]CertificationModel, len(d.certs)),
	}
	for k, v := range d.labs {
		c.labs[k] = v
	}
	for k, v := range d.resources {
		c.resources[k] = v
	}
	for k, v := range d.intervals {
		c.intervals[k] = v
	}
	for k, v := range d.bookings {
		v.Items = append([]BookingItemModel(nil), v.Items...)
		c.bookings[k] = v
	}
	for k, v := range d.assignments {
		c.assignments[k] = v
	}
	copy(c.movements, d.movements)
	for k, v := range d.certs {
		c.certs[k] = v
	}
	return c
}

// memView routes reads to the unit of work's copy when inside one, and to
// the committed snapshot otherwise.
type memView struct {
	store *MemoryStore
	tx    *memoryData
}

func (v memView) read() *memoryData {
	if v.tx != nil {
		return v.tx
	}
	return v.store.snapshot()
}

func (v memView) write(ctx context.Context, fn func(d *memoryData) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	return v.store.apply(ctx, fn)
}

// --- Labs ---

type memoryLabRepository struct{ v memView }

func (r *memoryLabRepository) FindByID(_ context.Context, id uuid.UUID) (*resource.Lab, error) {
	m, ok := r.v.read().labs[id]
	if !ok {
		return nil, domain.NewNotFoundError("Lab", id.String())
	}
	return toDomainLab(&m), nil
}

func (r *memoryLabRepository) List(_ context.Context) ([]*resource.Lab, error) {
	d := r.v.read()
	out := make([]*resource.Lab, 0, len(d.labs))
	for _, m := range d.labs {
		m := m
		out = append(out, toDomainLab(&m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (r *memoryLabRepository) Save(ctx context.Context, lab *resource.Lab) error {
	return r.v.write(ctx, func(d *memoryData) error {
		d.labs[lab.ID()] = *toLabModel(lab)
		return nil
	})
}

// Lock is a read: the writer slot already serializes units of work.
func (r *memoryLabRepository) Lock(ctx context.Context, id uuid.UUID, _ resource.LockMode) (*resource.Lab, error) {
	return r.FindByID(ctx, id)
}

// --- Resources ---

type memoryResourceRepository struct{ v memView }

func (r *memoryResourceRepository) FindByID(_ context.Context, id uuid.UUID) (*resource.Resource, error) {
	m, ok := r.v.read().resources[id]
	if !ok {
		return nil, domain.NewNotFoundError("Resource", id.String())
	}
	return toDomainResource(&m)
}

func (r *memoryResourceRepository) FindByIDs(_ context.Context, ids []uuid.UUID) ([]*resource.Resource, error) {
	d := r.v.read()
	models := make([]ResourceModel, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		if m, ok := d.resources[id]; ok {
			models = append(models, m)
		}
	}
	return collectResources(ids, models)
}

func (r *memoryResourceRepository) ListByLab(_ context.Context, labID uuid.UUID) ([]*resource.Resource, error) {
	var out []*resource.Resource
	for _, m := range r.v.read().resources {
		if m.LabID != labID {
			continue
		}
		m := m
		res, err := toDomainResource(&m)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (r *memoryResourceRepository) LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*resource.Resource, error) {
	return r.FindByIDs(ctx, ids)
}

func (r *memoryResourceRepository) Save(ctx context.Context, res *resource.Resource) error {
	model, err := toResourceModel(res)
	if err != nil {
		return err
	}
	return r.v.write(ctx, func(d *memoryData) error {
		d.resources[model.ID] = *model
		return nil
	})
}

func (r *memoryResourceRepository) Update(ctx context.Context, res *resource.Resource) error {
	model, err := toResourceModel(res)
	if err != nil {
		return err
	}
	return r.v.write(ctx, func(d *memoryData) error {
		current, ok := d.resources[model.ID]
		if !ok || current.Version >= model.Version {
			return domain.NewConflictError("resource was modified by another transaction")
		}
		current.Status = model.Status
		current.AvailableQuantity = model.AvailableQuantity
		current.Version = model.Version
		current.UpdatedAt = model.UpdatedAt
		d.resources[model.ID] = current
		return nil
	})
}

// --- Intervals ---

type memoryIntervalRepository struct{ v memView }

func (r *memoryIntervalRepository) FindConflicts(_ context.Context, q interval.Query) ([]*interval.Interval, error) {
	var out []*interval.Interval
	for _, m := range r.v.read().intervals {
		m := m
		i := toDomainInterval(&m)
		if q.Matches(i) {
			out = append(out, i)
		}
	}
	sortIntervals(out)
	return out, nil
}

func (r *memoryIntervalRepository) FindByID(_ context.Context, id uuid.UUID) (*interval.Interval, error) {
	m, ok := r.v.read().intervals[id]
	if !ok {
		return nil, domain.NewNotFoundError("Interval", id.String())
	}
	return toDomainInterval(&m), nil
}

func (r *memoryIntervalRepository) FindByBooking(_ context.Context, bookingID uuid.UUID) ([]*interval.Interval, error) {
	var out []*interval.Interval
	for _, m := range r.v.read().intervals {
		if m.BookingID == nil || *m.BookingID != bookingID {
			continue
		}
		m := m
		out = append(out, toDomainInterval(&m))
	}
	sortIntervals(out)
	return out, nil
}

func (r *memoryIntervalRepository) Insert(ctx context.Context, i *interval.Interval) error {
	return r.v.write(ctx, func(d *memoryData) error {
		d.intervals[i.ID()] = *toIntervalModel(i)
		return nil
	})
}

func (r *memoryIntervalRepository) SetStatus(ctx context.Context, id uuid.UUID, status interval.Status) (*interval.Interval, error) {
	var updated IntervalModel
	err := r.v.write(ctx, func(d *memoryData) error {
		m, ok := d.intervals[id]
		if !ok {
			return domain.NewNotFoundError("Interval", id.String())
		}
		m.Status = string(status)
		m.UpdatedAt = time.Now().UTC()
		d.intervals[id] = m
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toDomainInterval(&updated), nil
}

func (r *memoryIntervalRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.v.write(ctx, func(d *memoryData) error {
		if _, ok := d.intervals[id]; !ok {
			return domain.NewNotFoundError("Interval", id.String())
		}
		delete(d.intervals, id)
		return nil
	})
}

func sortIntervals(out []*interval.Interval) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Window().Start, out[j].Window().Start
		if a.Equal(b) {
			return out[i].ID().String() < out[j].ID().String()
		}
		return a.Before(b)
	})
}

// --- Bookings ---

type memoryBookingRepository struct{ v memView }

func (r *memoryBookingRepository) FindByID(_ context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	m, ok := r.v.read().bookings[id]
	if !ok {
		return nil, domain.NewNotFoundError("Booking", id.String())
	}
	return toDomainBooking(&m)
}

func (r *memoryBookingRepository) LockByID(ctx context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	return r.FindByID(ctx, id)
}

func (r *memoryBookingRepository) FindByNumber(_ context.Context, number string) (*bookingDomain.Booking, error) {
	for _, m := range r.v.read().bookings {
		if strings.EqualFold(m.BookingNumber, number) {
			m := m
			return toDomainBooking(&m)
		}
	}
	return nil, domain.NewNotFoundError("Booking", number)
}

func (r *memoryBookingRepository) FindByRequester(_ context.Context, requesterID uuid.UUID, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.page(func(m BookingModel) bool { return m.RequesterID == requesterID }, page, limit)
}

func (r *memoryBookingRepository) ListAll(_ context.Context, status bookingDomain.BookingStatus, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	return r.page(func(m BookingModel) bool { return status == "" || m.Status == string(status) }, page, limit)
}

func (r *memoryBookingRepository) page(keep func(BookingModel) bool, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	var models []BookingModel
	for _, m := range r.v.read().bookings {
		if keep(m) {
			models = append(models, m)
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].CreatedAt.After(models[j].CreatedAt) })

	total := int64(len(models))
	offset := (page - 1) * limit
	if offset >= len(models) {
		return []*bookingDomain.Booking{}, total, nil
	}
	end := offset + limit
	if end > len(models) {
		end = len(models)
	}
	bookings, err := toDomainBookings(models[offset:end])
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (r *memoryBookingRepository) CountByStatus(_ context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, m := range r.v.read().bookings {
		counts[m.Status]++
	}
	return counts, nil
}

func (r *memoryBookingRepository) Save(ctx context.Context, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)
	return r.v.write(ctx, func(d *memoryData) error {
		if _, exists := d.bookings[model.ID]; exists {
			return domain.NewConflictError("booking already exists")
		}
		d.bookings[model.ID] = *model
		return nil
	})
}

func (r *memoryBookingRepository) Update(ctx context.Context, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)
	return r.v.write(ctx, func(d *memoryData) error {
		current, ok := d.bookings[model.ID]
		if !ok || current.Version != model.Version-1 {
			return domain.NewConflictError("booking was modified by another transaction")
		}
		model.Items = current.Items
		d.bookings[model.ID] = *model
		return nil
	})
}

// --- Assignments ---

type memoryAssignmentRepository struct{ v memView }

func (r *memoryAssignmentRepository) FindByBooking(_ context.Context, bookingID uuid.UUID) ([]*bookingDomain.Assignment, error) {
	var out []*bookingDomain.Assignment
	for _, m := range r.v.read().assignments {
		if m.BookingID == bookingID {
			m := m
			out = append(out, toDomainAssignment(&m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID().String() < out[j].ResourceID().String() })
	return out, nil
}

func (r *memoryAssignmentRepository) Save(ctx context.Context, a *bookingDomain.Assignment) error {
	model := toAssignmentModel(a)
	return r.v.write(ctx, func(d *memoryData) error {
		for _, existing := range d.assignments {
			if existing.BookingID == model.BookingID && existing.ResourceID == model.ResourceID {
				return domain.NewAlreadyProcessedError("booking", "delivered")
			}
		}
		d.assignments[model.ID] = *model
		return nil
	})
}

func (r *memoryAssignmentRepository) Update(ctx context.Context, a *bookingDomain.Assignment) error {
	model := toAssignmentModel(a)
	return r.v.write(ctx, func(d *memoryData) error {
		if _, ok := d.assignments[model.ID]; !ok {
			return domain.NewNotFoundError("Assignment", model.ID.String())
		}
		d.assignments[model.ID] = *model
		return nil
	})
}

// --- Stock movements ---

type memoryMovementRepository struct{ v memView }

func (r *memoryMovementRepository) Append(ctx context.Context, mv *stock.Movement) error {
	model := toMovementModel(mv)
	return r.v.write(ctx, func(d *memoryData) error {
		d.movements = append(d.movements, *model)
		return nil
	})
}

func (r *memoryMovementRepository) ListByResource(_ context.Context, resourceID uuid.UUID, page, limit int) ([]*stock.Movement, int64, error) {
	var matched []*stock.Movement
	movements := r.v.read().movements
	for i := len(movements) - 1; i >= 0; i-- {
		if movements[i].ResourceID == resourceID {
			m := movements[i]
			matched = append(matched, toDomainMovement(&m))
		}
	}

	total := int64(len(matched))
	offset := (page - 1) * limit
	if offset >= len(matched) {
		return []*stock.Movement{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// --- Certifications ---

type memoryCertificationRepository struct{ v memView }

func (r *memoryCertificationRepository) FindByUser(_ context.Context, userID uuid.UUID) (identity.Grants, error) {
	var grants identity.Grants
	for _, m := range r.v.read().certs {
		if m.UserID == userID {
			m := m
			grants = append(grants, toDomainCertification(&m))
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].GrantedAt.Before(grants[j].GrantedAt) })
	return grants, nil
}

func (r *memoryCertificationRepository) Save(ctx context.Context, g *identity.CertificationGrant) error {
	model := toCertificationModel(g)
	return r.v.write(ctx, func(d *memoryData) error {
		d.certs[model.ID] = *model
		return nil
	})
}

func (r *memoryCertificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.v.write(ctx, func(d *memoryData) error {
		if _, ok := d.certs[id]; !ok {
			return domain.NewNotFoundError("Certification", id.String())
		}
		delete(d.certs, id)
		return nil
	})
}
