package events

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/application"
	"github.com/labreserve/service-booking/pkg/domain"
	"github.com/labreserve/service-booking/pkg/kafka"
)

// MaintenanceEventConsumer listens to the maintenance workflow and mirrors
// its windows into the interval store.
type MaintenanceEventConsumer struct {
	consumer *kafka.Consumer
	service  *application.IntervalService
	logger   *zap.Logger
}

// NewMaintenanceEventConsumer creates a new MaintenanceEventConsumer.
func NewMaintenanceEventConsumer(
	brokers []string,
	groupID string,
	service *application.IntervalService,
	logger *zap.Logger,
) *MaintenanceEventConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, application.TopicMaintenanceEvents, logger)
	return &MaintenanceEventConsumer{
		consumer: consumer,
		service:  service,
		logger:   logger,
	}
}

// Start begins consuming maintenance events. This blocks until the context is cancelled.
func (c *MaintenanceEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *MaintenanceEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *MaintenanceEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from maintenance topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case application.MaintenanceScheduled:
		return c.handleScheduled(ctx, cloudEvent)
	case application.MaintenanceCompleted:
		return c.handleCompleted(ctx, cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled maintenance event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

func (c *MaintenanceEventConsumer) handleScheduled(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt application.MaintenanceEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse MaintenanceEvent data", zap.Error(err))
		return nil // Don't retry malformed data
	}

	c.logger.Info("processing maintenance scheduled event",
		zap.String("lab_id", evt.LabID.String()),
		zap.Time("starts_at", evt.StartsAt),
		zap.Time("ends_at", evt.EndsAt),
	)

	created, err := c.service.StartMaintenance(ctx, evt)
	if err != nil {
		return c.settle("failed to schedule maintenance", evt, err)
	}

	c.logger.Info("maintenance window recorded",
		zap.String("interval_id", created.ID.String()),
		zap.String("lab_id", evt.LabID.String()),
	)
	return nil
}

func (c *MaintenanceEventConsumer) handleCompleted(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt application.MaintenanceEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse MaintenanceEvent data", zap.Error(err))
		return nil // Don't retry malformed data
	}

	freed, err := c.service.CompleteMaintenance(ctx, evt)
	if err != nil {
		return c.settle("failed to complete maintenance", evt, err)
	}

	c.logger.Info("maintenance completed",
		zap.String("lab_id", evt.LabID.String()),
		zap.Int("freed", freed),
	)
	return nil
}

// settle logs a failed event. Only contention is handed back, and the
// consumer retries the same message with backoff; anything else would fail
// again and is dropped.
func (c *MaintenanceEventConsumer) settle(msg string, evt application.MaintenanceEvent, err error) error {
	c.logger.Error(msg,
		zap.String("lab_id", evt.LabID.String()),
		zap.Error(err),
	)
	if domain.IsRetryable(err) {
		return err
	}
	return nil
}
