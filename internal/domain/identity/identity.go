package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/pkg/domain"
)

// Requester is the caller identity supplied by the identity provider.
type Requester struct {
	UserID uuid.UUID
	Role   string
}

// HasAnyRole reports whether the requester holds one of roles.
func (r Requester) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if r.Role == role {
			return true
		}
	}
	return false
}

// CertificationGrant records that a user holds a certification, optionally until ExpiresAt.
type CertificationGrant struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Code      string
	GrantedBy uuid.UUID
	GrantedAt time.Time
	ExpiresAt *time.Time
}

// NewCertificationGrant validates and creates a grant.
func NewCertificationGrant(userID uuid.UUID, code string, grantedBy uuid.UUID, expiresAt *time.Time) (*CertificationGrant, error) {
	code = NormalizeCode(code)
	if userID == uuid.Nil {
		return nil, domain.NewValidationError("user ID is required")
	}
	if code == "" {
		return nil, domain.NewValidationError("certification code is required")
	}
	now := time.Now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, domain.NewValidationError("expiry must be in the future")
	}
	return &CertificationGrant{
		ID:        uuid.New(),
		UserID:    userID,
		Code:      code,
		GrantedBy: grantedBy,
		GrantedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidAt reports whether the grant is in force at t.
func (g CertificationGrant) ValidAt(t time.Time) bool {
	return g.ExpiresAt == nil || t.Before(*g.ExpiresAt)
}

// Grants is the set of certifications held by one user.
type Grants []CertificationGrant

// Covers reports whether any non-expired grant of code exists at t.
func (gs Grants) Covers(code string, t time.Time) bool {
	code = NormalizeCode(code)
	for _, g := range gs {
		if g.Code == code && g.ValidAt(t) {
			return true
		}
	}
	return false
}

// NormalizeCode canonicalizes certification codes ("safety-1" == "SAFETY-1").
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CertificationRepository persists certification grants.
type CertificationRepository interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (Grants, error)
	Save(ctx context.Context, grant *CertificationGrant) error
	Delete(ctx context.Context, id uuid.UUID) error
}
