package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/stock"
	"github.com/labreserve/service-booking/pkg/domain"
)

// GormMovementRepository appends stock movements.
type GormMovementRepository struct {
	db *gorm.DB
}

// NewGormMovementRepository creates a new GormMovementRepository.
func NewGormMovementRepository(db *gorm.DB) *GormMovementRepository {
	return &GormMovementRepository{db: db}
}

// Append persists a movement record.
func (r *GormMovementRepository) Append(ctx context.Context, m *stock.Movement) error {
	if err := r.db.WithContext(ctx).Create(toMovementModel(m)).Error; err != nil {
		return fmt.Errorf("failed to append stock movement: %w", err)
	}
	return nil
}

// ListByResource retrieves movements for a resource, newest first.
func (r *GormMovementRepository) ListByResource(ctx context.Context, resourceID uuid.UUID, page, limit int) ([]*stock.Movement, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&StockMovementModel{}).Where("resource_id = ?", resourceID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count stock movements: %w", err)
	}

	var models []StockMovementModel
	if err := r.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list stock movements: %w", err)
	}

	out := make([]*stock.Movement, len(models))
	for i := range models {
		out[i] = toDomainMovement(&models[i])
	}
	return out, total, nil
}

// GormCertificationRepository stores certification grants.
type GormCertificationRepository struct {
	db *gorm.DB
}

// NewGormCertificationRepository creates a new GormCertificationRepository.
func NewGormCertificationRepository(db *gorm.DB) *GormCertificationRepository {
	return &GormCertificationRepository{db: db}
}

// FindByUser returns every grant held by a user, expired ones included.
func (r *GormCertificationRepository) FindByUser(ctx context.Context, userID uuid.UUID) (identity.Grants, error) {
	var models []CertificationModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("granted_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find certifications: %w", err)
	}
	grants := make(identity.Grants, len(models))
	for i := range models {
		grants[i] = toDomainCertification(&models[i])
	}
	return grants, nil
}

// Save persists a new grant.
func (r *GormCertificationRepository) Save(ctx context.Context, g *identity.CertificationGrant) error {
	if err := r.db.WithContext(ctx).Create(toCertificationModel(g)).Error; err != nil {
		return fmt.Errorf("failed to save certification: %w", err)
	}
	return nil
}

// Delete revokes a grant.
func (r *GormCertificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&CertificationModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete certification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Certification", id.String())
	}
	return nil
}

