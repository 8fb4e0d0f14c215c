//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/labreserve/service-booking/internal/application"
	"github.com/labreserve/service-booking/internal/cache"
	"github.com/labreserve/service-booking/internal/domain/identity"
	bookingEvents "github.com/labreserve/service-booking/internal/events"
	"github.com/labreserve/service-booking/internal/repository"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/database"
	"github.com/labreserve/service-booking/pkg/kafka"
	"github.com/labreserve/service-booking/pkg/metrics"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	RedisAddr    string
	Cleanup      func()
}

// bookingStack holds wired-up booking service components.
type bookingStack struct {
	Bookings        *application.BookingService
	Intervals       *application.IntervalService
	Directory       *application.DirectoryService
	Availability    *application.AvailabilityService
	Consumer        *bookingEvents.MaintenanceEventConsumer
	Manager         identity.Requester
	CleanupProducer func()
}

// setupContainers starts PostgreSQL, Redis and Kafka testcontainers, applies
// the SQL migrations and returns a connected GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	// Start PostgreSQL container with log-based wait strategy.
	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_labbook",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pgConfig := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Port(),
		User:     "test",
		Password: "test",
		DBName:   "test_labbook",
		SSLMode:  "disable",
	}

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(pgConfig, logger)
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(pgConfig.DatabaseURL(), "migrations", logger))

	// Start Redis container for the availability cache.
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Redis container")

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers,
		application.TopicBookingEvents,
		application.TopicResourceEvents,
		application.TopicAuditEvents,
		application.TopicMaintenanceEvents,
	)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		RedisAddr:    net.JoinHostPort(redisHost, redisPort.Port()),
		Cleanup:      cleanup,
	}
}

// setupBookingStack wires up the full booking service stack over Postgres.
func setupBookingStack(t *testing.T, infra *testInfra) *bookingStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	store := repository.NewGormStore(infra.DB, 2*time.Second, logger)
	rdb := redis.NewClient(&redis.Options{Addr: infra.RedisAddr})
	availabilityCache := cache.NewAvailabilityCache(rdb, time.Minute)
	require.NoError(t, availabilityCache.Ping(context.Background()))

	producer := kafka.NewProducer(infra.KafkaBrokers, logger)
	m := metrics.NewBookingMetrics(prometheus.NewRegistry())
	notifier := application.NewNotifier(producer, availabilityCache, m, logger)
	ledger := application.NewStockLedger(store, notifier, m, logger)

	intervals := application.NewIntervalService(store, notifier, logger)
	groupID := fmt.Sprintf("test-booking-%s", uuid.New().String()[:8])

	cleanup := func() {
		_ = producer.Close()
		_ = rdb.Close()
	}

	return &bookingStack{
		Bookings:        application.NewBookingService(store, application.NewValidator(), ledger, notifier, m, logger),
		Intervals:       intervals,
		Directory:       application.NewDirectoryService(store, notifier, logger),
		Availability:    application.NewAvailabilityService(store, availabilityCache, logger),
		Consumer:        bookingEvents.NewMaintenanceEventConsumer(infra.KafkaBrokers, groupID, intervals, logger),
		Manager:         identity.Requester{UserID: uuid.New(), Role: auth.RoleLabManager},
		CleanupProducer: cleanup,
	}
}

// seedLab creates a lab with one fixed resource.
func seedLab(t *testing.T, stack *bookingStack) (*application.LabDTO, *application.ResourceDTO) {
	t.Helper()
	ctx := context.Background()
	lab, err := stack.Directory.CreateLab(ctx, stack.Manager, application.CreateLabRequest{Name: "Imaging Core"})
	require.NoError(t, err)
	res, err := stack.Directory.CreateResource(ctx, stack.Manager, application.CreateResourceRequest{
		LabID: lab.ID,
		Name:  "Confocal Microscope",
		Kind:  "fixed",
	})
	require.NoError(t, err)
	return lab, res
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// waitForResourceStatus polls the resources table until the status matches.
func waitForResourceStatus(t *testing.T, db *gorm.DB, resourceID uuid.UUID, expectedStatus string, timeout time.Duration) repository.ResourceModel {
	t.Helper()
	var result repository.ResourceModel
	require.Eventually(t, func() bool {
		var model repository.ResourceModel
		err := db.Where("id = ?", resourceID).First(&model).Error
		if err != nil {
			return false
		}
		if model.Status == expectedStatus {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "resource did not transition to %s", expectedStatus)
	return result
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
