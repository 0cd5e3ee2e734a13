package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/logger"
)

type pharmacyLister interface {
	ListActive(ctx context.Context) ([]models.Pharmacy, error)
}

type stockAlerter interface {
	LowStockAlerts(ctx context.Context, pharmacyID uuid.UUID) ([]models.StockBatch, error)
	ExpiryAlerts(ctx context.Context, pharmacyID uuid.UUID, withinDays int) ([]models.StockBatch, error)
}

// StockAlertJobParams configure the low-stock and expiry sweep.
type StockAlertJobParams struct {
	Logger          *logger.Logger
	Pharmacies      pharmacyLister
	Inventory       stockAlerter
	ExpiryAlertDays int
}

// NewStockAlertJob walks every active pharmacy and surfaces batches that
// are below reorder level or expiring soon.
func NewStockAlertJob(params StockAlertJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pharmacies == nil {
		return nil, fmt.Errorf("pharmacies repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	return &stockAlertJob{
		logg:       params.Logger,
		pharmacies: params.Pharmacies,
		inventory:  params.Inventory,
		withinDays: params.ExpiryAlertDays,
	}, nil
}

type stockAlertJob struct {
	logg       *logger.Logger
	pharmacies pharmacyLister
	inventory  stockAlerter
	withinDays int
}

func (j *stockAlertJob) Name() string { return "stock-alerts" }

func (j *stockAlertJob) Run(ctx context.Context) error {
	pharmacies, err := j.pharmacies.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list pharmacies: %w", err)
	}

	for _, pharmacy := range pharmacies {
		pharmacyCtx := j.logg.WithPharmacyID(ctx, pharmacy.ID.String())

		low, err := j.inventory.LowStockAlerts(ctx, pharmacy.ID)
		if err != nil {
			return fmt.Errorf("low stock scan for %s: %w", pharmacy.Name, err)
		}
		expiring, err := j.inventory.ExpiryAlerts(ctx, pharmacy.ID, j.withinDays)
		if err != nil {
			return fmt.Errorf("expiry scan for %s: %w", pharmacy.Name, err)
		}
		if len(low) == 0 && len(expiring) == 0 {
			continue
		}

		pharmacyCtx = j.logg.WithFields(pharmacyCtx, map[string]any{
			"low_stock_batches": len(low),
			"expiring_batches":  len(expiring),
		})
		j.logg.Warn(pharmacyCtx, "stock attention required")
	}
	return nil
}
