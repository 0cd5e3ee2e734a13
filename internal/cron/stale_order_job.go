package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/medmarkethq/medmarket-backend/internal/orders"
	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/logger"
)

const (
	defaultPendingTTL = 48 * time.Hour
	staleOrderBatch   = 100
)

type staleOrderLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderCanceller interface {
	CancelOrder(ctx context.Context, input orders.CancelOrderInput) (*models.Order, error)
}

// StaleOrderJobParams configure the pending order expiry job.
type StaleOrderJobParams struct {
	Logger     *logger.Logger
	Repository staleOrderLister
	Orders     orderCanceller
	PendingTTL time.Duration
}

// NewStaleOrderJob cancels pending orders whose payment window has
// lapsed, releasing any stock they still hold.
func NewStaleOrderJob(params StaleOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &staleOrderJob{
		logg:   params.Logger,
		repo:   params.Repository,
		orders: params.Orders,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

type staleOrderJob struct {
	logg   *logger.Logger
	repo   staleOrderLister
	orders orderCanceller
	ttl    time.Duration
	now    func() time.Time
}

func (j *staleOrderJob) Name() string { return "stale-order-expiry" }

func (j *staleOrderJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.ttl)
	stale, err := j.repo.ListStalePending(ctx, cutoff, staleOrderBatch)
	if err != nil {
		return fmt.Errorf("list stale pending orders: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var failures error
	cancelled := 0
	for _, order := range stale {
		_, err := j.orders.CancelOrder(ctx, orders.CancelOrderInput{
			OrderID: order.ID,
			ActorID: uuid.Nil,
			Reason:  "payment window expired",
		})
		if err != nil {
			// A concurrent payment or cancel settles the race; anything
			// else is reported.
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				continue
			}
			failures = multierr.Append(failures, fmt.Errorf("cancel order %s: %w", order.OrderNumber, err))
			continue
		}
		cancelled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"examined":  len(stale),
		"cancelled": cancelled,
	})
	j.logg.Info(logCtx, "stale order sweep complete")
	return failures
}
