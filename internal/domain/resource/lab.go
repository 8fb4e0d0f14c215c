package resource

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labreserve/service-booking/pkg/domain"
)

// Lab is the venue that owns resources. Lab-level intervals block every
// resource in it.
type Lab struct {
	id        uuid.UUID
	name      string
	createdAt time.Time
}

// NewLab validates and creates a lab.
func NewLab(name string) (*Lab, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewValidationError("lab name is required")
	}
	return &Lab{id: uuid.New(), name: name, createdAt: time.Now().UTC()}, nil
}

// ReconstructLab rebuilds a Lab from persistence data.
func ReconstructLab(id uuid.UUID, name string, createdAt time.Time) *Lab {
	return &Lab{id: id, name: name, createdAt: createdAt}
}

func (l *Lab) ID() uuid.UUID { return l.id }
func (l *Lab) Name() string { return l.name }
func (l *Lab) CreatedAt() time.Time { return l.createdAt }
