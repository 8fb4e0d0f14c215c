package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labreserve/service-booking/internal/domain/identity"
	"github.com/labreserve/service-booking/internal/domain/resource"
	"github.com/labreserve/service-booking/internal/domain/stock"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
	"github.com/labreserve/service-booking/pkg/domain"
	"github.com/labreserve/service-booking/pkg/metrics"
)

// StockLedger owns countable quantities: every change takes the resource row
// lock, checks the bounds, writes the new quantity and appends a movement in
// the same unit of work.
type StockLedger struct {
	store    unitofwork.Store
	notifier *Notifier
	metrics  *metrics.BookingMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewStockLedger creates a new StockLedger.
func NewStockLedger(store unitofwork.Store, notifier *Notifier, m *metrics.BookingMetrics, logger *zap.Logger) *StockLedger {
	return &StockLedger{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (l *StockLedger) WithClock(now func() time.Time) *StockLedger {
	l.now = now
	return l
}

// Adjust applies a manual adjustment in its own unit of work.
func (l *StockLedger) Adjust(ctx context.Context, actor identity.Requester, resourceID uuid.UUID, req AdjustStockRequest) (*StockAdjustmentDTO, error) {
	reason := stock.Reason(req.Reason)
	if !reason.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid stock reason: %s", req.Reason))
	}
	if req.Delta == 0 {
		return nil, domain.NewValidationError("delta must not be zero")
	}

	started := time.Now()
	defer l.metrics.ObserveDuration("stock_adjust", started)

	fx := newEffects()
	var result StockAdjustmentDTO
	err := l.store.WithinTx(ctx, func(ctx context.Context, repos unitofwork.Repositories) error {
		locked, err := repos.Resources.LockForUpdate(ctx, []uuid.UUID{resourceID})
		if err != nil {
			return err
		}
		res := locked[0]

		actorID := actor.UserID
		qty, err := l.adjustLocked(ctx, repos, res, req.Delta, reason, nil, &actorID, req.Note, fx)
		if err != nil {
			return err
		}
		result = StockAdjustmentDTO{ResourceID: res.ID(), NewQuantity: qty, LowStock: res.IsBelowThreshold()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("stock adjusted",
		zap.String("resource_id", resourceID.String()),
		zap.Int("delta", req.Delta),
		zap.String("reason", string(reason)),
		zap.Int("new_quantity", result.NewQuantity),
	)
	l.notifier.flush(ctx, fx)
	return &result, nil
}

// adjustLocked applies delta to a resource the caller has already locked
// inside its unit of work.
func (l *StockLedger) adjustLocked(
	ctx context.Context,
	repos unitofwork.Repositories,
	res *resource.Resource,
	delta int,
	reason stock.Reason,
	bookingID *uuid.UUID,
	actorID *uuid.UUID,
	note string,
	fx *effects,
) (int, error) {
	qty, err := res.AdjustQuantity(delta)
	if err != nil {
		return 0, err
	}
	if err := repos.Resources.Update(ctx, res); err != nil {
		return 0, err
	}
	if err := repos.Movements.Append(ctx, stock.NewMovement(res.ID(), delta, qty, reason, bookingID, actorID, note)); err != nil {
		return 0, err
	}

	now := l.now()
	fx.stock = append(fx.stock, string(reason))
	fx.touch(res.LabID())
	var actor uuid.UUID
	if actorID != nil {
		actor = *actorID
	}
	fx.audit("resource", res.ID().String(), actor, "stock."+string(reason), map[string]any{
		"delta":          delta,
		"quantity_after": qty,
	}, now)

	if res.IsBelowThreshold() {
		fx.emit(TopicResourceEvents, ResourceLowStock, res.ID().String(), LowStockEvent{
			ResourceID:   res.ID(),
			LabID:        res.LabID(),
			Name:         res.Name(),
			Available:    qty,
			MinThreshold: res.MinThreshold(),
			OccurredAt:   now,
		})
	}
	return qty, nil
}

// Movements lists the ledger entries of a resource, newest first.
func (l *StockLedger) Movements(ctx context.Context, resourceID uuid.UUID, page, limit int) (*domain.PaginatedResult[MovementDTO], error) {
	repos := l.store.Repositories()
	if _, err := repos.Resources.FindByID(ctx, resourceID); err != nil {
		return nil, err
	}
	movements, total, err := repos.Movements.ListByResource(ctx, resourceID, page, limit)
	if err != nil {
		return nil, err
	}
	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	result := domain.NewPaginatedResult(dtos, total, page, limit)
	return &result, nil
}
