package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/pkg/kafka"
	"github.com/labreserve/service-booking/pkg/metrics"
)

const eventSource = "service-booking"

// Kafka topics.
const (
	TopicBookingEvents     = "booking.events"
	TopicResourceEvents    = "resource.events"
	TopicAuditEvents       = "audit.events"
	TopicMaintenanceEvents = "maintenance.events"
)

// CloudEvent types.
const (
	BookingCreated       = "booking.created"
	BookingApproved      = "booking.approved"
	BookingRejected      = "booking.rejected"
	BookingInfoRequested = "booking.info_requested"
	BookingResubmitted   = "booking.resubmitted"
	BookingCancelled     = "booking.cancelled"
	BookingPickedUp      = "booking.picked_up"
	BookingOverdue       = "booking.overdue"
	BookingReturned      = "booking.returned"
	BookingCompleted     = "booking.completed"

	ResourceLowStock             = "resource.low_stock"
	ResourceAvailabilityRestored = "resource.availability_restored"

	AuditRecorded = "audit.recorded"

	MaintenanceScheduled = "maintenance.scheduled"
	MaintenanceCompleted = "maintenance.completed"
)

// BookingEvent is the notification payload for every lifecycle transition.
type BookingEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	Kind          string    `json:"kind"`
	RequesterID   uuid.UUID `json:"requester_id"`
	LabID         uuid.UUID `json:"lab_id"`
	Event         string    `json:"event"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	ActorID       uuid.UUID `json:"actor_id"`
	Note          string    `json:"note,omitempty"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AuditRecord is the (entityType, entityId, actorId, action, detail) tuple sent to the audit sink.
type AuditRecord struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    uuid.UUID      `json:"actor_id"`
	Action     string         `json:"action"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// LowStockEvent is emitted when available quantity drops below the threshold.
type LowStockEvent struct {
	ResourceID   uuid.UUID `json:"resource_id"`
	LabID        uuid.UUID `json:"lab_id"`
	Name         string    `json:"name"`
	Available    int       `json:"available"`
	MinThreshold int       `json:"min_threshold"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AvailabilityRestoredEvent is emitted when a blocking interval is lifted.
type AvailabilityRestoredEvent struct {
	LabID      uuid.UUID  `json:"lab_id"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// MaintenanceEvent is the payload published by the maintenance workflow.
type MaintenanceEvent struct {
	LabID      uuid.UUID  `json:"lab_id"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	Note       string     `json:"note,omitempty"`
}

// EventPublisher is the outbound bus; *kafka.Producer satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error
}

// AvailabilityCache stores serialized availability reads per lab. Get reports
// the lab generation it read under; Set must be handed that generation so a
// result computed before an Invalidate is never served after it.
type AvailabilityCache interface {
	Get(ctx context.Context, labID uuid.UUID, key string) (value []byte, gen int64, ok bool, err error)
	Set(ctx context.Context, labID uuid.UUID, gen int64, key string, value []byte) error
	Invalidate(ctx context.Context, labID uuid.UUID) error
}

type pendingEvent struct {
	topic     string
	eventType string
	subject   string
	data      any
}

// effects collects what a unit of work wants to announce. Nothing is sent
// until the unit commits; a rolled-back unit's effects are dropped.
type effects struct {
	events []pendingEvent
	labs   map[uuid.UUID]struct{}
	stock  []string
}

func newEffects() *effects {
	return &effects{labs: make(map[uuid.UUID]struct{})}
}

func (e *effects) emit(topic, eventType, subject string, data any) {
	e.events = append(e.events, pendingEvent{topic: topic, eventType: eventType, subject: subject, data: data})
}

func (e *effects) audit(entityType, entityID string, actorID uuid.UUID, action string, detail map[string]any, now time.Time) {
	e.emit(TopicAuditEvents, AuditRecorded, entityID, AuditRecord{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		Detail:     detail,
		OccurredAt: now,
	})
}

func (e *effects) touch(labID uuid.UUID) {
	e.labs[labID] = struct{}{}
}

// Notifier delivers committed effects: audit and notification events go to
// the bus and touched labs are invalidated in the availability cache. Every
// failure here is logged and swallowed.
type Notifier struct {
	publisher EventPublisher
	cache     AvailabilityCache
	metrics   *metrics.BookingMetrics
	logger    *zap.Logger
}

// NewNotifier creates a Notifier. publisher and cache may be nil.
func NewNotifier(publisher EventPublisher, cache AvailabilityCache, m *metrics.BookingMetrics, logger *zap.Logger) *Notifier {
	return &Notifier{publisher: publisher, cache: cache, metrics: m, logger: logger}
}

// flushTimeout bounds post-commit delivery once it is detached from the
// caller's context.
const flushTimeout = 5 * time.Second

// flush runs after commit, so it must not be cut short when the caller's
// request is cancelled.
func (n *Notifier) flush(ctx context.Context, fx *effects) {
	if n == nil || fx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	for _, reason := range fx.stock {
		n.metrics.ObserveStock(reason)
	}
	if n.cache != nil {
		for labID := range fx.labs {
			if err := n.cache.Invalidate(ctx, labID); err != nil {
				n.logger.Warn("failed to invalidate availability cache",
					zap.String("lab_id", labID.String()),
					zap.Error(err),
				)
			}
		}
	}
	for _, ev := range fx.events {
		n.publishEvent(ctx, ev)
	}
}

func (n *Notifier) publishEvent(ctx context.Context, ev pendingEvent) {
	if n.publisher == nil {
		return
	}
	cloudEvent, err := kafka.NewCloudEvent(eventSource, ev.eventType, ev.data)
	if err != nil {
		n.logger.Error("failed to create cloud event",
			zap.String("event_type", ev.eventType),
			zap.Error(err),
		)
		return
	}
	cloudEvent.Subject = ev.subject

	if err := n.publisher.PublishEvent(ctx, ev.topic, cloudEvent); err != nil {
		n.logger.Error("failed to publish event",
			zap.String("topic", ev.topic),
			zap.String("event_type", ev.eventType),
			zap.Error(err),
		)
	}
}
