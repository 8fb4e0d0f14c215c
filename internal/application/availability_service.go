package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
	"github.com/labreserve/service-booking/pkg/domain"
)

// AvailabilityService answers free/busy reads from the committed snapshot.
// Answers are cached per lab until the next write touching that lab.
type AvailabilityService struct {
	store  unitofwork.Store
	cache  AvailabilityCache
	logger *zap.Logger
}

// NewAvailabilityService creates a new AvailabilityService. cache may be nil.
func NewAvailabilityService(store unitofwork.Store, cache AvailabilityCache, logger *zap.Logger) *AvailabilityService {
	return &AvailabilityService{store: store, cache: cache, logger: logger}
}

// Query returns every interval overlapping [From, To) for a resource (its own
// intervals plus lab-level ones) or for a whole lab. Statuses defaults to all.
func (s *AvailabilityService) Query(ctx context.Context, q AvailabilityQuery) (*AvailabilityDTO, error) {
	window, err := interval.NewWindow(q.From, q.To)
	if err != nil {
		return nil, err
	}
	statuses, err := parseStatuses(q.Statuses)
	if err != nil {
		return nil, err
	}

	repos := s.store.Repositories()
	query := interval.Query{Window: window, Statuses: statuses}
	switch {
	case q.ResourceID != nil:
		res, err := repos.Resources.FindByID(ctx, *q.ResourceID)
		if err != nil {
			return nil, err
		}
		if q.LabID != nil && *q.LabID != res.LabID() {
			return nil, domain.NewValidationError(fmt.Sprintf("resource %s does not belong to lab %s", res.ID(), *q.LabID))
		}
		id := res.ID()
		query.LabID = res.LabID()
		query.ResourceID = &id
		query.Scope = interval.ScopeResourceAndLab
	case q.LabID != nil:
		if _, err := repos.Labs.FindByID(ctx, *q.LabID); err != nil {
			return nil, err
		}
		query.LabID = *q.LabID
		query.Scope = interval.ScopeLab
	default:
		return nil, domain.NewValidationError("either resource_id or lab_id is required")
	}

	key := cacheKey(query)
	cached, gen, ok := s.cached(ctx, query.LabID, key)
	if ok {
		return cached, nil
	}

	found, err := repos.Intervals.FindConflicts(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}

	result := &AvailabilityDTO{
		LabID:      query.LabID,
		ResourceID: query.ResourceID,
		From:       window.Start,
		To:         window.End,
		Intervals:  interval.Summarize(found),
	}
	for _, iv := range found {
		if iv.Status().IsBlocking() {
			result.Busy = true
			break
		}
	}

	s.remember(ctx, query.LabID, gen, key, result)
	return result, nil
}

// cached looks key up and returns the generation the lookup ran under. A
// failed read yields gen -1, which remember treats as "do not store".
func (s *AvailabilityService) cached(ctx context.Context, labID uuid.UUID, key string) (*AvailabilityDTO, int64, bool) {
	if s.cache == nil {
		return nil, -1, false
	}
	raw, gen, ok, err := s.cache.Get(ctx, labID, key)
	if err != nil {
		s.logger.Warn("availability cache read failed", zap.String("lab_id", labID.String()), zap.Error(err))
		return nil, -1, false
	}
	if !ok {
		return nil, gen, false
	}
	var dto AvailabilityDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		s.logger.Warn("availability cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return nil, gen, false
	}
	return &dto, gen, true
}

func (s *AvailabilityService) remember(ctx context.Context, labID uuid.UUID, gen int64, key string, dto *AvailabilityDTO) {
	if s.cache == nil || gen < 0 {
		return
	}
	raw, err := json.Marshal(dto)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, labID, gen, key, raw); err != nil {
		s.logger.Warn("availability cache write failed", zap.String("lab_id", labID.String()), zap.Error(err))
	}
}

func parseStatuses(raw []string) ([]interval.Status, error) {
	if len(raw) == 0 {
		return interval.AllStatuses(), nil
	}
	out := make([]interval.Status, 0, len(raw))
	for _, r := range raw {
		st, err := interval.ParseStatus(strings.ToUpper(strings.TrimSpace(r)))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func cacheKey(q interval.Query) string {
	statuses := q.StatusStrings()
	sort.Strings(statuses)
	target := "lab"
	if q.ResourceID != nil {
		target = q.ResourceID.String()
	}
	return fmt.Sprintf("%d:%s:%d:%d:%s",
		q.Scope, target,
		q.Window.Start.UnixNano(), q.Window.End.UnixNano(),
		strings.Join(statuses, ","),
	)
}
