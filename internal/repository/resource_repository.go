package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/pkg/domain"
)

// GormLabRepository is the GORM-based implementation of resource.LabRepository.
type GormLabRepository struct {
	db *gorm.DB
}

// NewGormLabRepository creates a new GormLabRepository.
func NewGormLabRepository(db *gorm.DB) *GormLabRepository {
	return &GormLabRepository{db: db}
}

// FindByID retrieves a lab by its unique identifier.
func (r *GormLabRepository) FindByID(ctx context.Context, id uuid.UUID) (*resource.Lab, error) {
	var model LabModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Lab", id.String())
		}
		return nil, fmt.Errorf("failed to find lab by ID: %w", err)
	}
	return toDomainLab(&model), nil
}

// List retrieves every lab ordered by name.
func (r *GormLabRepository) List(ctx context.Context) ([]*resource.Lab, error) {
	var models []LabModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	labs := make([]*resource.Lab, len(models))
	for i := range models {
		labs[i] = toDomainLab(&models[i])
	}
	return labs, nil
}

// Save persists a new lab.
func (r *GormLabRepository) Save(ctx context.Context, lab *resource.Lab) error {
	if err := r.db.WithContext(ctx).Create(toLabModel(lab)).Error; err != nil {
		return fmt.Errorf("failed to save lab: %w", err)
	}
	return nil
}

// Lock takes FOR SHARE or FOR UPDATE on the lab row.
func (r *GormLabRepository) Lock(ctx context.Context, id uuid.UUID, mode resource.LockMode) (*resource.Lab, error) {
	strength := "SHARE"
	if mode == resource.LockExclusive {
		strength = "UPDATE"
	}

	var model LabModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: strength}).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Lab", id.String())
		}
		return nil, fmt.Errorf("failed to lock lab: %w", err)
	}
	return toDomainLab(&model), nil
}

// GormResourceRepository is the GORM-based implementation of resource.Repository.
type GormResourceRepository struct {
	db *gorm.DB
}

// NewGormResourceRepository creates a new GormResourceRepository.
func NewGormResourceRepository(db *gorm.DB) *GormResourceRepository {
	return &GormResourceRepository{db: db}
}

// FindByID retrieves a resource by its unique identifier.
func (r *GormResourceRepository) FindByID(ctx context.Context, id uuid.UUID) (*resource.Resource, error) {
	var model ResourceModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Resource", id.String())
		}
		return nil, fmt.Errorf("failed to find resource by ID: %w", err)
	}
	return toDomainResource(&model)
}

// FindByIDs retrieves several resources in ascending ID order.
func (r *GormResourceRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*resource.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []ResourceModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find resources: %w", err)
	}
	return collectResources(ids, models)
}

// ListByLab retrieves every resource in a lab.
func (r *GormResourceRepository) ListByLab(ctx context.Context, labID uuid.UUID) ([]*resource.Resource, error) {
	var models []ResourceModel
	if err := r.db.WithContext(ctx).Where("lab_id = ?", labID).Order("name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list lab resources: %w", err)
	}
	out := make([]*resource.Resource, 0, len(models))
	for i := range models {
		res, err := toDomainResource(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// LockForUpdate locks resource rows one at a time in ascending ID order so
// concurrent units of work never wait on each other in a cycle.
func (r *GormResourceRepository) LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*resource.Resource, error) {
	ordered := sortedIDs(ids)
	out := make([]*resource.Resource, 0, len(ordered))
	for _, id := range ordered {
		var model ResourceModel
		if err := r.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, domain.NewNotFoundError("Resource", id.String())
			}
			return nil, fmt.Errorf("failed to lock resource: %w", err)
		}
		res, err := toDomainResource(&model)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Save persists a new resource.
func (r *GormResourceRepository) Save(ctx context.Context, res *resource.Resource) error {
	model, err := toResourceModel(res)
	if err != nil {
		return fmt.Errorf("failed to convert resource to model: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

// Update persists status and quantity changes. The row is expected to be
// locked by the caller, so the version check only guards stale reads.
func (r *GormResourceRepository) Update(ctx context.Context, res *resource.Resource) error {
	model, err := toResourceModel(res)
	if err != nil {
		return fmt.Errorf("failed to convert resource to model: %w", err)
	}

	result := r.db.WithContext(ctx).
		Model(&ResourceModel{}).
		Where("id = ? AND version < ?", model.ID, model.Version).
		Updates(map[string]interface{}{
			"status":             model.Status,
			"available_quantity": model.AvailableQuantity,
			"version":            model.Version,
			"updated_at":         model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update resource: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("resource was modified by another transaction")
	}
	return nil
}

func collectResources(ids []uuid.UUID, models []ResourceModel) ([]*resource.Resource, error) {
	found := make(map[uuid.UUID]struct{}, len(models))
	out := make([]*resource.Resource, 0, len(models))
	for i := range models {
		res, err := toDomainResource(&models[i])
		if err != nil {
			return nil, err
		}
		found[res.ID()] = struct{}{}
		out = append(out, res)
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, domain.NewNotFoundError("Resource", id.String())
		}
	}
	return out, nil
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
