package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/pkg/domain"
)

// GormIntervalRepository is the GORM-based Interval Store.
type GormIntervalRepository struct {
	db *gorm.DB
}

// NewGormIntervalRepository creates a new GormIntervalRepository.
func NewGormIntervalRepository(db *gorm.DB) *GormIntervalRepository {
	return &GormIntervalRepository{db: db}
}

// FindConflicts pushes the half-open overlap predicate down to SQL:
// starts_at < q.End AND ends_at > q.Start.
func (r *GormIntervalRepository) FindConflicts(ctx context.Context, q interval.Query) ([]*interval.Interval, error) {
	tx := r.db.WithContext(ctx).
		Model(&IntervalModel{}).
		Where("lab_id = ?", q.LabID).
		Where("starts_at < ? AND ends_at > ?", q.Window.End, q.Window.Start)

	switch q.Scope {
	case interval.ScopeResource:
		if q.ResourceID == nil {
			return nil, nil
		}
		tx = tx.Where("resource_id = ?", *q.ResourceID)
	case interval.ScopeLabLevel:
		tx = tx.Where("resource_id IS NULL")
	case interval.ScopeResourceAndLab:
		if q.ResourceID == nil {
			tx = tx.Where("resource_id IS NULL")
		} else {
			tx = tx.Where("(resource_id = ? OR resource_id IS NULL)", *q.ResourceID)
		}
	}
	if q.ExcludeBookingID != nil {
		tx = tx.Where("(booking_id IS NULL OR booking_id <> ?)", *q.ExcludeBookingID)
	}
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.StatusStrings())
	}

	var models []IntervalModel
	if err := tx.Order("starts_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to search intervals: %w", err)
	}
	out := make([]*interval.Interval, len(models))
	for i := range models {
		out[i] = toDomainInterval(&models[i])
	}
	return out, nil
}

// FindByID retrieves an interval by its unique identifier.
func (r *GormIntervalRepository) FindByID(ctx context.Context, id uuid.UUID) (*interval.Interval, error) {
	var model IntervalModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Interval", id.String())
		}
		return nil, fmt.Errorf("failed to find interval by ID: %w", err)
	}
	return toDomainInterval(&model), nil
}

// FindByBooking retrieves every interval materialized by a booking.
func (r *GormIntervalRepository) FindByBooking(ctx context.Context, bookingID uuid.UUID) ([]*interval.Interval, error) {
	var models []IntervalModel
	if err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("starts_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find booking intervals: %w", err)
	}
	out := make([]*interval.Interval, len(models))
	for i := range models {
		out[i] = toDomainInterval(&models[i])
	}
	return out, nil
}

// Insert persists a new interval.
func (r *GormIntervalRepository) Insert(ctx context.Context, i *interval.Interval) error {
	if err := r.db.WithContext(ctx).Create(toIntervalModel(i)).Error; err != nil {
		return fmt.Errorf("failed to insert interval: %w", err)
	}
	return nil
}

// SetStatus updates the status of an existing interval.
func (r *GormIntervalRepository) SetStatus(ctx context.Context, id uuid.UUID, status interval.Status) (*interval.Interval, error) {
	result := r.db.WithContext(ctx).
		Model(&IntervalModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update interval status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.NewNotFoundError("Interval", id.String())
	}
	return r.FindByID(ctx, id)
}

// Delete removes an interval.
func (r *GormIntervalRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&IntervalModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete interval: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Interval", id.String())
	}
	return nil
}
