package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/labreserve/service-booking/internal/domain/unitofwork"
)

// GormStore runs units of work as Postgres transactions. Every transaction
// sets a local lock_timeout so a blocked row lock fails fast with 55P03,
// which classifyError turns into a retryable ContentionError.
type GormStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewGormStore creates a new GormStore.
func NewGormStore(db *gorm.DB, lockTimeout time.Duration, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, lockTimeout: lockTimeout, logger: logger}
}

// Repositories returns repositories bound to the pool, for read paths.
func (s *GormStore) Repositories() unitofwork.Repositories {
	return bind(s.db)
}

// WithinTx runs fn in one transaction; any error rolls everything back.
func (s *GormStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos unitofwork.Repositories) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to set lock timeout: %w", err)
			}
		}
		return fn(ctx, bind(tx))
	})

	classified := classifyError(ctx, err)
	if classified != nil && classified != err {
		s.logger.Warn("unit of work hit lock contention", zap.Error(err))
	}
	return classified
}

func bind(db *gorm.DB) unitofwork.Repositories {
	return unitofwork.Repositories{
		Labs:           NewGormLabRepository(db),
		Resources:      NewGormResourceRepository(db),
		Intervals:      NewGormIntervalRepository(db),
		Bookings:       NewGormBookingRepository(db),
		Assignments:    NewGormAssignmentRepository(db),
		Movements:      NewGormMovementRepository(db),
		Certifications: NewGormCertificationRepository(db),
	}
}
