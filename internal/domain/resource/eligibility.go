package resource

import (
	"time"

	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/pkg/domain"
)

// Requirement types reported in MissingRequirement.Type.
const (
	RequirementRole          = "role"
	RequirementCertification = "certification"
)

// Eligibility is the outcome of the role + certification gate.
type Eligibility struct {
	OK      bool                        `json:"ok"`
	Missing []domain.MissingRequirement `json:"missing_requirements"`
}

// CheckEligibility evaluates the resource policy for a requester. Role
// membership is checked first and short-circuits; otherwise every required
// certification must be covered by a grant valid at asOf. An empty allowed-role
// set admits every role.
func (r *Resource) CheckEligibility(role string, grants identity.Grants, asOf time.Time) Eligibility {
	if len(r.allowedRoles) > 0 && !contains(r.allowedRoles, role) {
		return Eligibility{
			Missing: []domain.MissingRequirement{{
				ResourceID: r.id.String(),
				Type:       RequirementRole,
				Code:       role,
			}},
		}
	}

	var missing []domain.MissingRequirement
	for _, code := range r.requiredCerts {
		if !grants.Covers(code, asOf) {
			missing = append(missing, domain.MissingRequirement{
				ResourceID: r.id.String(),
				Type:       RequirementCertification,
				Code:       code,
			})
		}
	}
	return Eligibility{OK: len(missing) == 0, Missing: missing}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
