package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medmarkethq/medmarket-backend/internal/orders"
	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/logger"
)

type fakeStaleLister struct {
	orders []models.Order
	err    error
	cutoff time.Time
}

func (f *fakeStaleLister) ListStalePending(_ context.Context, cutoff time.Time, _ int) ([]models.Order, error) {
	f.cutoff = cutoff
	return f.orders, f.err
}

type fakeCanceller struct {
	cancelled []uuid.UUID
	errByID   map[uuid.UUID]error
}

func (f *fakeCanceller) CancelOrder(_ context.Context, input orders.CancelOrderInput) (*models.Order, error) {
	if err, ok := f.errByID[input.OrderID]; ok {
		return nil, err
	}
	f.cancelled = append(f.cancelled, input.OrderID)
	return &models.Order{ID: input.OrderID}, nil
}

func TestStaleOrderJobCancelsExpiredOrders(t *testing.T) {
	raced := uuid.New()
	stale := []models.Order{
		{ID: uuid.New(), OrderNumber: "ORD-1"},
		{ID: raced, OrderNumber: "ORD-2"},
		{ID: uuid.New(), OrderNumber: "ORD-3"},
	}
	canceller := &fakeCanceller{errByID: map[uuid.UUID]error{
		// The order paid for concurrently is skipped, not reported.
		raced: pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled"),
	}}
	job, err := NewStaleOrderJob(StaleOrderJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: &fakeStaleLister{orders: stale},
		Orders:     canceller,
		PendingTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if len(canceller.cancelled) != 2 {
		t.Fatalf("expected 2 cancellations, got %d", len(canceller.cancelled))
	}
}

func TestStaleOrderJobReportsHardFailures(t *testing.T) {
	broken := uuid.New()
	canceller := &fakeCanceller{errByID: map[uuid.UUID]error{
		broken: errors.New("db down"),
	}}
	job, err := NewStaleOrderJob(StaleOrderJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: &fakeStaleLister{orders: []models.Order{{ID: broken, OrderNumber: "ORD-9"}}},
		Orders:     canceller,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected an error for the failed cancellation")
	}
}

type fakeCleaner struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeCleaner) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func TestNotificationCleanupJobUsesRetentionCutoff(t *testing.T) {
	cleaner := &fakeCleaner{deleted: 7}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: cleaner,
		Retention:  10,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	age := time.Since(cleaner.cutoff)
	if age < 10*24*time.Hour-time.Minute || age > 10*24*time.Hour+time.Minute {
		t.Fatalf("cutoff not ten days back: %s", cleaner.cutoff)
	}
}

type fakePharmacyLister struct {
	pharmacies []models.Pharmacy
}

func (f *fakePharmacyLister) ListActive(context.Context) ([]models.Pharmacy, error) {
	return f.pharmacies, nil
}

type fakeStockAlerter struct {
	low        map[uuid.UUID][]models.StockBatch
	expiring   map[uuid.UUID][]models.StockBatch
	withinDays int
}

func (f *fakeStockAlerter) LowStockAlerts(_ context.Context, pharmacyID uuid.UUID) ([]models.StockBatch, error) {
	return f.low[pharmacyID], nil
}

func (f *fakeStockAlerter) ExpiryAlerts(_ context.Context, pharmacyID uuid.UUID, withinDays int) ([]models.StockBatch, error) {
	f.withinDays = withinDays
	return f.expiring[pharmacyID], nil
}

func TestStockAlertJobScansEveryPharmacy(t *testing.T) {
	alerted := uuid.New()
	quiet := uuid.New()
	alerter := &fakeStockAlerter{
		low: map[uuid.UUID][]models.StockBatch{
			alerted: {{ID: uuid.New()}},
		},
		expiring: map[uuid.UUID][]models.StockBatch{},
	}
	job, err := NewStockAlertJob(StockAlertJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		Pharmacies: &fakePharmacyLister{pharmacies: []models.Pharmacy{
			{ID: alerted, Name: "Alpha"},
			{ID: quiet, Name: "Beta"},
		}},
		Inventory:       alerter,
		ExpiryAlertDays: 60,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if alerter.withinDays != 60 {
		t.Fatalf("expected expiry window 60, got %d", alerter.withinDays)
	}
}
