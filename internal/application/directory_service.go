package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
)

// DirectoryService is the Resource Directory: the catalog of labs and
// resources, their eligibility policies and the certification grants those
// policies are checked against.
type DirectoryService struct {
	store    unitofwork.Store
	notifier *Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(store unitofwork.Store, notifier *Notifier, logger *zap.Logger) *DirectoryService {
	return &DirectoryService{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *DirectoryService) WithClock(now func() time.Time) *DirectoryService {
	s.now = now
	return s
}

// CreateLab registers a lab.
func (s *DirectoryService) CreateLab(ctx context.Context, actor identity.Requester, req CreateLabRequest) (*LabDTO, error) {
	lab, err := resource.NewLab(req.Name)
	if err != nil {
		return nil, err
	}
	if err := s.store.Repositories().Labs.Save(ctx, lab); err != nil {
		return nil, err
	}

	fx := newEffects()
	fx.audit("lab", lab.ID().String(), actor.UserID, "create", map[string]any{"name": lab.Name()}, s.now())
	s.notifier.flush(ctx, fx)

	s.logger.Info("lab created", zap.String("lab_id", lab.ID().String()))
	result := toLabDTO(lab)
	return &result, nil
}

// ListLabs returns every lab ordered by name.
func (s *DirectoryService) ListLabs(ctx context.Context) ([]LabDTO, error) {
	labs, err := s.store.Repositories().Labs.List(ctx)
	if err != nil {
		return nil, err
	}
	dtos := make([]LabDTO, len(labs))
	for i, l := range labs {
		dtos[i] = toLabDTO(l)
	}
	return dtos, nil
}

// CreateResource registers a resource in an existing lab.
func (s *DirectoryService) CreateResource(ctx context.Context, actor identity.Requester, req CreateResourceRequest) (*ResourceDTO, error) {
	res, err := resource.NewResource(
		req.LabID,
		req.Name,
		resource.Kind(req.Kind),
		req.AllowedRoles,
		req.RequiredCerts,
		req.AvailableQuantity,
		req.MinThreshold,
		req.TotalQuantity,
	)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos unitofwork.Repositories) error {
		if _, err := repos.Labs.Lock(ctx, req.LabID, resource.LockShared); err != nil {
			return err
		}
		return repos.Resources.Save(ctx, res)
	})
	if err != nil {
		return nil, err
	}

	fx := newEffects()
	fx.touch(res.LabID())
	fx.audit("resource", res.ID().String(), actor.UserID, "create", map[string]any{
		"kind": string(res.Kind()),
		"name": res.Name(),
	}, s.now())
	s.notifier.flush(ctx, fx)

	s.logger.Info("resource created",
		zap.String("resource_id", res.ID().String()),
		zap.String("lab_id", res.LabID().String()),
		zap.String("kind", string(res.Kind())),
	)
	result := toResourceDTO(res)
	return &result, nil
}

// GetResource returns a single resource.
func (s *DirectoryService) GetResource(ctx context.Context, id uuid.UUID) (*ResourceDTO, error) {
	res, err := s.store.Repositories().Resources.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result := toResourceDTO(res)
	return &result, nil
}

// ListResources returns the resources of a lab.
func (s *DirectoryService) ListResources(ctx context.Context, labID uuid.UUID) ([]ResourceDTO, error) {
	repos := s.store.Repositories()
	if _, err := repos.Labs.FindByID(ctx, labID); err != nil {
		return nil, err
	}
	list, err := repos.Resources.ListByLab(ctx, labID)
	if err != nil {
		return nil, err
	}
	dtos := make([]ResourceDTO, len(list))
	for i, r := range list {
		dtos[i] = toResourceDTO(r)
	}
	return dtos, nil
}

// Eligibility reports whether who may book the resource right now and, if
// not, every requirement they are missing.
func (s *DirectoryService) Eligibility(ctx context.Context, who identity.Requester, resourceID uuid.UUID) (*EligibilityDTO, error) {
	repos := s.store.Repositories()
	res, err := repos.Resources.FindByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	grants, err := repos.Certifications.FindByUser(ctx, who.UserID)
	if err != nil {
		return nil, err
	}

	e := res.CheckEligibility(who.Role, grants, s.now())
	return &EligibilityDTO{
		ResourceID:          res.ID(),
		UserID:              who.UserID,
		OK:                  e.OK,
		MissingRequirements: orEmpty(e.Missing),
	}, nil
}

// GrantCertification records a certification for a user.
func (s *DirectoryService) GrantCertification(ctx context.Context, actor identity.Requester, req GrantCertificationRequest) (*CertificationDTO, error) {
	grant, err := identity.NewCertificationGrant(req.UserID, req.Code, actor.UserID, req.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.store.Repositories().Certifications.Save(ctx, grant); err != nil {
		return nil, err
	}

	fx := newEffects()
	fx.audit("certification", grant.ID.String(), actor.UserID, "grant", map[string]any{
		"user_id": grant.UserID.String(),
		"code":    grant.Code,
	}, s.now())
	s.notifier.flush(ctx, fx)

	s.logger.Info("certification granted",
		zap.String("user_id", grant.UserID.String()),
		zap.String("code", grant.Code),
	)
	result := toCertificationDTO(*grant)
	return &result, nil
}

// RevokeCertification deletes a grant.
func (s *DirectoryService) RevokeCertification(ctx context.Context, actor identity.Requester, grantID uuid.UUID) error {
	if err := s.store.Repositories().Certifications.Delete(ctx, grantID); err != nil {
		return err
	}

	fx := newEffects()
	fx.audit("certification", grantID.String(), actor.UserID, "revoke", nil, s.now())
	s.notifier.flush(ctx, fx)
	return nil
}

// ListCertifications returns the grants held by a user, expired ones included.
func (s *DirectoryService) ListCertifications(ctx context.Context, userID uuid.UUID) ([]CertificationDTO, error) {
	grants, err := s.store.Repositories().Certifications.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	dtos := make([]CertificationDTO, len(grants))
	for i, g := range grants {
		dtos[i] = toCertificationDTO(g)
	}
	return dtos, nil
}
