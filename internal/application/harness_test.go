package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/repository"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/kafka"
	"github.com/labreserve/service-booking/pkg/metrics"
)

// day is the calendar day every scenario is played on.
var day = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type publishedEvent struct {
	topic string
	event kafka.CloudEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, topic string, event kafka.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, event: event})
	return nil
}

func (p *recordingPublisher) types(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e.event.Type)
		}
	}
	return out
}

// memoryCache mirrors the Redis cache: entries live under a per-lab
// generation and Invalidate bumps it.
type memoryCache struct {
	mu          sync.Mutex
	gens        map[uuid.UUID]int64
	entries     map[string][]byte
	invalidated map[uuid.UUID]int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		gens:        map[uuid.UUID]int64{},
		entries:     map[string][]byte{},
		invalidated: map[uuid.UUID]int{},
	}
}

func memoryCacheKey(labID uuid.UUID, gen int64, key string) string {
	return fmt.Sprintf("%s/%d/%s", labID, gen, key)
}

func (c *memoryCache) Get(_ context.Context, labID uuid.UUID, key string) ([]byte, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[labID]
	v, ok := c.entries[memoryCacheKey(labID, gen, key)]
	return v, gen, ok, nil
}

func (c *memoryCache) Set(_ context.Context, labID uuid.UUID, gen int64, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[memoryCacheKey(labID, gen, key)] = value
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, labID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[labID]++
	c.invalidated[labID]++
	return nil
}

type testEnv struct {
	ctx          context.Context
	store        *repository.MemoryStore
	clock        *testClock
	publisher    *recordingPublisher
	cache        *memoryCache
	bookings     *BookingService
	ledger       *StockLedger
	intervals    *IntervalService
	directory    *DirectoryService
	availability *AvailabilityService

	manager identity.Requester
	lab     *LabDTO
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithTimeout(t, 5*time.Second)
}

func newTestEnvWithTimeout(t *testing.T, lockTimeout time.Duration) *testEnv {
	t.Helper()

	log := zap.NewNop()
	store := repository.NewMemoryStore(lockTimeout)
	clock := &testClock{now: at(8, 0)}
	publisher := &recordingPublisher{}
	cache := newMemoryCache()
	m := metrics.NewBookingMetrics(prometheus.NewRegistry())
	notifier := NewNotifier(publisher, cache, m, log)

	ledger := NewStockLedger(store, notifier, m, log).WithClock(clock.Now)
	env := &testEnv{
		ctx:          context.Background(),
		store:        store,
		clock:        clock,
		publisher:    publisher,
		cache:        cache,
		ledger:       ledger,
		bookings:     NewBookingService(store, NewValidator(), ledger, notifier, m, log).WithClock(clock.Now),
		intervals:    NewIntervalService(store, notifier, log).WithClock(clock.Now),
		directory:    NewDirectoryService(store, notifier, log).WithClock(clock.Now),
		availability: NewAvailabilityService(store, cache, log),
		manager:      identity.Requester{UserID: uuid.New(), Role: auth.RoleLabManager},
	}

	lab, err := env.directory.CreateLab(env.ctx, env.manager, CreateLabRequest{Name: "Wet Lab 2"})
	require.NoError(t, err)
	env.lab = lab
	return env
}

func (e *testEnv) addResource(t *testing.T, req CreateResourceRequest) *ResourceDTO {
	t.Helper()
	req.LabID = e.lab.ID
	if req.Name == "" {
		req.Name = "resource-" + uuid.NewString()[:8]
	}
	res, err := e.directory.CreateResource(e.ctx, e.manager, req)
	require.NoError(t, err)
	return res
}

func (e *testEnv) addFixed(t *testing.T) *ResourceDTO {
	t.Helper()
	return e.addResource(t, CreateResourceRequest{Name: "Centrifuge", Kind: string(resource.KindFixed)})
}

func (e *testEnv) addCountable(t *testing.T, qty, threshold int, certs ...string) *ResourceDTO {
	t.Helper()
	return e.addResource(t, CreateResourceRequest{
		Name:              "Pipettes",
		Kind:              string(resource.KindCountable),
		RequiredCerts:     certs,
		AvailableQuantity: qty,
		MinThreshold:      threshold,
	})
}

func (e *testEnv) user(t *testing.T, certs ...string) identity.Requester {
	t.Helper()
	u := identity.Requester{UserID: uuid.New(), Role: auth.RoleResearcher}
	for _, c := range certs {
		_, err := e.directory.GrantCertification(e.ctx, e.manager, GrantCertificationRequest{UserID: u.UserID, Code: c})
		require.NoError(t, err)
	}
	return u
}

func (e *testEnv) book(who identity.Requester, kind string, from, to time.Time, refs ...ResourceRefDTO) (*BookingDTO, error) {
	req := CreateBookingRequest{Kind: kind, Resources: refs, StartsAt: from, EndsAt: to}
	if len(refs) == 0 {
		req.LabID = &e.lab.ID
	}
	return e.bookings.Create(e.ctx, who, req)
}

func (e *testEnv) move(actor identity.Requester, id uuid.UUID, target, condition string) (*BookingDTO, error) {
	return e.bookings.Transition(e.ctx, actor, id, TransitionRequest{TargetStatus: target, Condition: condition})
}

func ref(r *ResourceDTO, qty int) ResourceRefDTO {
	return ResourceRefDTO{ResourceID: r.ID, Quantity: qty}
}
