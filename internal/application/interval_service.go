package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/interval"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
	"github.com/labreserve/service-booking/pkg/domain"
)

// IntervalService manages intervals that are not owned by a booking:
// administrative blocks and maintenance windows.
type IntervalService struct {
	store    unitofwork.Store
	notifier *Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewIntervalService creates a new IntervalService.
func NewIntervalService(store unitofwork.Store, notifier *Notifier, logger *zap.Logger) *IntervalService {
	return &IntervalService{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *IntervalService) WithClock(now func() time.Time) *IntervalService {
	s.now = now
	return s
}

var blockStatuses = map[interval.Status]bool{
	interval.StatusMaintenance: true,
	interval.StatusBlocked:     true,
	interval.StatusInactive:    true,
	interval.StatusExclusive:   true,
}

// Block inserts a blocking interval on a lab or one of its resources. Unless
// forced, an overlap with any blocking interval is rejected. A MAINTENANCE or
// INACTIVE block that covers now also takes the resource out of service.
func (s *IntervalService) Block(ctx context.Context, actor identity.Requester, req BlockRequest) (*interval.Summary, error) {
	status, err := interval.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	if !blockStatuses[status] {
		return nil, domain.NewValidationError(fmt.Sprintf("status %s cannot be used for a block", status))
	}
	window, err := interval.NewWindow(req.StartsAt, req.EndsAt)
	if err != nil {
		return nil, err
	}

	fx := newEffects()
	var created *interval.Interval
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos unitofwork.Repositories) error {
		res, err := lockTarget(ctx, repos, req.LabID, req.ResourceID)
		if err != nil {
			return err
		}

		if !req.Force {
			found, err := repos.Intervals.FindConflicts(ctx, targetQuery(req.LabID, req.ResourceID, window, interval.BlockingStatuses()))
			if err != nil {
				return fmt.Errorf("failed to search conflicts: %w", err)
			}
			if len(found) > 0 {
				return domain.NewIntervalConflictError(interval.Summarize(found))
			}
		}

		created, err = interval.NewInterval(req.LabID, req.ResourceID, nil, window, status, req.Note)
		if err != nil {
			return err
		}
		if err := repos.Intervals.Insert(ctx, created); err != nil {
			return err
		}

		now := s.now()
		if res != nil && window.Contains(now) && (status == interval.StatusMaintenance || status == interval.StatusInactive) {
			if status == interval.StatusMaintenance {
				res.MarkMaintenance()
			} else {
				res.MarkInactive()
			}
			if err := repos.Resources.Update(ctx, res); err != nil {
				return err
			}
		}

		fx.touch(req.LabID)
		fx.audit("interval", created.ID().String(), actor.UserID, "block", map[string]any{
			"status": string(status),
			"forced": req.Force,
		}, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("interval blocked",
		zap.String("interval_id", created.ID().String()),
		zap.String("lab_id", req.LabID.String()),
		zap.String("status", string(status)),
		zap.Bool("forced", req.Force),
	)
	s.notifier.flush(ctx, fx)

	summary := interval.Summarize([]*interval.Interval{created})[0]
	return &summary, nil
}

// Release lifts a block. A block that has not started yet is withdrawn
// outright; one already in effect is kept as an AVAILABLE record. Booking
// intervals are only released by their booking's lifecycle.
func (s *IntervalService) Release(ctx context.Context, actor identity.Requester, intervalID uuid.UUID) error {
	fx := newEffects()
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos unitofwork.Repositories) error {
		iv, err := repos.Intervals.FindByID(ctx, intervalID)
		if err != nil {
			return err
		}
		if iv.BookingID() != nil {
			return domain.NewValidationError("booking intervals are released through the booking lifecycle")
		}

		res, err := lockTarget(ctx, repos, iv.LabID(), iv.ResourceID())
		if err != nil {
			return err
		}
		if iv.Status() == interval.StatusAvailable {
			return domain.NewAlreadyProcessedError("interval", "released")
		}

		now := s.now()
		action := "release"
		if now.Before(iv.Window().Start) {
			action = "withdraw"
			if err := repos.Intervals.Delete(ctx, iv.ID()); err != nil {
				return err
			}
		} else {
			if _, err := repos.Intervals.SetStatus(ctx, iv.ID(), interval.StatusAvailable); err != nil {
				return err
			}
			if err := restoreResource(ctx, repos, res, iv.Status()); err != nil {
				return err
			}
		}

		fx.touch(iv.LabID())
		fx.emit(TopicResourceEvents, ResourceAvailabilityRestored, iv.LabID().String(), AvailabilityRestoredEvent{
			LabID:      iv.LabID(),
			ResourceID: iv.ResourceID(),
			StartsAt:   iv.Window().Start,
			EndsAt:     iv.Window().End,
			OccurredAt: now,
		})
		fx.audit("interval", iv.ID().String(), actor.UserID, action, map[string]any{
			"status": string(iv.Status()),
		}, now)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("interval released", zap.String("interval_id", intervalID.String()))
	s.notifier.flush(ctx, fx)
	return nil
}

// StartMaintenance records a scheduled maintenance window from the maintenance
// workflow. It is always forced: maintenance wins over existing bookings.
func (s *IntervalService) StartMaintenance(ctx context.Context, ev MaintenanceEvent) (*interval.Summary, error) {
	return s.Block(ctx, identity.Requester{Role: "system"}, BlockRequest{
		LabID:      ev.LabID,
		ResourceID: ev.ResourceID,
		StartsAt:   ev.StartsAt,
		EndsAt:     ev.EndsAt,
		Status:     string(interval.StatusMaintenance),
		Note:       ev.Note,
		Force:      true,
	})
}

// CompleteMaintenance frees the maintenance intervals overlapping the event
// window and returns the resource to service. Repeated completions free
// nothing and succeed.
func (s *IntervalService) CompleteMaintenance(ctx context.Context, ev MaintenanceEvent) (int, error) {
	window, err := interval.NewWindow(ev.StartsAt, ev.EndsAt)
	if err != nil {
		return 0, err
	}

	fx := newEffects()
	freed := 0
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos unitofwork.Repositories) error {
		res, err := lockTarget(ctx, repos, ev.LabID, ev.ResourceID)
		if err != nil {
			return err
		}

		q := targetQuery(ev.LabID, ev.ResourceID, window, []interval.Status{interval.StatusMaintenance})
		if ev.ResourceID != nil {
			q.Scope = interval.ScopeResource
		} else {
			q.Scope = interval.ScopeLabLevel
		}
		found, err := repos.Intervals.FindConflicts(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to find maintenance intervals: %w", err)
		}
		for _, iv := range found {
			if iv.BookingID() != nil {
				continue
			}
			if _, err := repos.Intervals.SetStatus(ctx, iv.ID(), interval.StatusAvailable); err != nil {
				return err
			}
			freed++
		}

		restored := res != nil && res.Status() == resource.StatusMaintenance
		if err := restoreResource(ctx, repos, res, interval.StatusMaintenance); err != nil {
			return err
		}
		if freed == 0 && !restored {
			return nil
		}

		now := s.now()
		fx.touch(ev.LabID)
		fx.emit(TopicResourceEvents, ResourceAvailabilityRestored, ev.LabID.String(), AvailabilityRestoredEvent{
			LabID:      ev.LabID,
			ResourceID: ev.ResourceID,
			StartsAt:   window.Start,
			EndsAt:     window.End,
			OccurredAt: now,
		})
		fx.audit("maintenance", ev.LabID.String(), uuid.Nil, "complete", map[string]any{
			"freed": freed,
		}, now)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("maintenance completed",
		zap.String("lab_id", ev.LabID.String()),
		zap.Int("freed", freed),
	)
	s.notifier.flush(ctx, fx)
	return freed, nil
}

// lockTarget takes the lab lock (exclusive for lab-level targets) and the
// resource row when one is named.
func lockTarget(ctx context.Context, repos unitofwork.Repositories, labID uuid.UUID, resourceID *uuid.UUID) (*resource.Resource, error) {
	if resourceID == nil {
		_, err := repos.Labs.Lock(ctx, labID, resource.LockExclusive)
		return nil, err
	}
	if _, err := repos.Labs.Lock(ctx, labID, resource.LockShared); err != nil {
		return nil, err
	}
	locked, err := repos.Resources.LockForUpdate(ctx, []uuid.UUID{*resourceID})
	if err != nil {
		return nil, err
	}
	if locked[0].LabID() != labID {
		return nil, domain.NewValidationError(fmt.Sprintf("resource %s does not belong to lab %s", *resourceID, labID))
	}
	return locked[0], nil
}

// restoreResource puts a resource taken out of service by a block of the given status back to AVAILABLE.
func restoreResource(ctx context.Context, repos unitofwork.Repositories, res *resource.Resource, released interval.Status) error {
	if res == nil {
		return nil
	}
	switch {
	case released == interval.StatusMaintenance && res.Status() == resource.StatusMaintenance,
		released == interval.StatusInactive && res.Status() == resource.StatusInactive:
		res.MarkAvailable()
		return repos.Resources.Update(ctx, res)
	}
	return nil
}

func targetQuery(labID uuid.UUID, resourceID *uuid.UUID, window interval.Window, statuses []interval.Status) interval.Query {
	q := interval.Query{LabID: labID, Window: window, Statuses: statuses, Scope: interval.ScopeLab}
	if resourceID != nil {
		q.ResourceID = resourceID
		q.Scope = interval.ScopeResourceAndLab
	}
	return q
}
