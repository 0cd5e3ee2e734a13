package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/config"
	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns every mutation of batched stock. Each successful
// mutation appends exactly one adjustment entry in the same
// transaction as the quantity update.
type Service interface {
	CreateBatch(ctx context.Context, input CreateBatchInput) (*models.StockBatch, error)
	ReceiveStock(ctx context.Context, input ReceiveStockInput) (*models.StockBatch, error)
	AdjustStock(ctx context.Context, input AdjustStockInput) (*models.StockBatch, error)
	ReserveStock(ctx context.Context, tx *gorm.DB, input MovementInput) error
	ReleaseStock(ctx context.Context, tx *gorm.DB, input MovementInput) error
	DispenseStock(ctx context.Context, tx *gorm.DB, input MovementInput) error
	PerformStockCount(ctx context.Context, input StockCountInput) (*models.StockBatch, error)
	Search(ctx context.Context, filters BatchSearchFilters) ([]models.StockBatch, error)
	History(ctx context.Context, batchID uuid.UUID) ([]models.InventoryAdjustment, error)
	LowStockAlerts(ctx context.Context, pharmacyID uuid.UUID) ([]models.StockBatch, error)
	ExpiryAlerts(ctx context.Context, pharmacyID uuid.UUID, withinDays int) ([]models.StockBatch, error)
	GetSummary(ctx context.Context, pharmacyID uuid.UUID) (*Summary, error)
}

type service struct {
	repo    *Repository
	tx      txRunner
	cfg     config.InventoryConfig
	metrics *metrics.StockMetrics
	now     func() time.Time
}

// CreateBatchInput describes the first receipt of a new batch.
type CreateBatchInput struct {
	PharmacyID       uuid.UUID
	DrugID           uuid.UUID
	BatchNumber      string
	Quantity         int
	CostPrice        decimal.Decimal
	SellingPrice     decimal.Decimal
	DiscountPercent  decimal.Decimal
	ReorderLevel     int
	ReorderQuantity  int
	MaxStockLevel    int
	ExpiryDate       *time.Time
	ManufactureDate  *time.Time
	StorageCondition enums.StorageCondition
	PerformedBy      uuid.UUID
}

// ReceiveStockInput adds stock to an existing batch or creates it.
type ReceiveStockInput struct {
	PharmacyID   uuid.UUID
	DrugID       uuid.UUID
	BatchNumber  string
	Quantity     int
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	ExpiryDate   *time.Time
	PerformedBy  uuid.UUID
	Notes        *string
}

// AdjustStockInput applies a signed manual correction to a batch.
type AdjustStockInput struct {
	BatchID        uuid.UUID
	Reason         enums.AdjustmentReason
	QuantityChange int
	Notes          *string
	PerformedBy    uuid.UUID
	ApprovedBy     *uuid.UUID
}

// MovementInput carries an order-driven quantity movement.
type MovementInput struct {
	BatchID       uuid.UUID
	Quantity      int
	ReferenceType enums.ReferenceType
	ReferenceID   uuid.UUID
	PerformedBy   uuid.UUID
}

// StockCountInput records a physical count of a batch.
type StockCountInput struct {
	BatchID     uuid.UUID
	CountedQty  int
	Notes       *string
	PerformedBy uuid.UUID
}

// NewService wires the inventory ledger with its dependencies.
func NewService(repo *Repository, tx txRunner, cfg config.InventoryConfig, stockMetrics *metrics.StockMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		cfg:     cfg,
		metrics: stockMetrics,
		now:     time.Now,
	}, nil
}

func (s *service) CreateBatch(ctx context.Context, input CreateBatchInput) (*models.StockBatch, error) {
	if input.PharmacyID == uuid.Nil || input.DrugID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id and drug id are required")
	}
	if input.BatchNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch number is required")
	}
	if input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initial quantity must not be negative")
	}
	if input.PerformedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed_by is required")
	}

	storage := input.StorageCondition
	if storage == "" {
		storage = enums.StorageConditionRoomTemperature
	}

	batch := &models.StockBatch{
		PharmacyID:       input.PharmacyID,
		DrugID:           input.DrugID,
		BatchNumber:      input.BatchNumber,
		QuantityOnHand:   input.Quantity,
		CostPrice:        input.CostPrice,
		SellingPrice:     input.SellingPrice,
		DiscountPercent:  input.DiscountPercent,
		ReorderLevel:     input.ReorderLevel,
		ReorderQuantity:  input.ReorderQuantity,
		MaxStockLevel:    input.MaxStockLevel,
		ExpiryDate:       input.ExpiryDate,
		ManufactureDate:  input.ManufactureDate,
		StorageCondition: storage,
		DispensingMethod: enums.DispensingMethodOldestExpiryFirst,
		IsActive:         true,
		AvailableForSale: true,
		CreatedBy:        input.PerformedBy,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindBatchByIdentity(ctx, input.PharmacyID, input.DrugID, input.BatchNumber); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "batch already exists, receive into it instead")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if _, err := repo.CreateBatch(ctx, batch); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock batch")
		}
		if input.Quantity == 0 {
			return nil
		}
		return repo.CreateAdjustment(ctx, s.adjustmentFor(batch, enums.AdjustmentReasonReceived, input.Quantity, 0, adjustmentMeta{
			performedBy: input.PerformedBy,
			unitCost:    input.CostPrice,
		}))
	})
	if err != nil {
		s.countConflict("create", err)
		return nil, err
	}

	s.metrics.IncMutation(enums.AdjustmentReasonReceived.String())
	return batch, nil
}

func (s *service) ReceiveStock(ctx context.Context, input ReceiveStockInput) (*models.StockBatch, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "received quantity must be positive")
	}

	existing, err := s.repo.FindBatchByIdentity(ctx, input.PharmacyID, input.DrugID, input.BatchNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.CreateBatch(ctx, CreateBatchInput{
			PharmacyID:   input.PharmacyID,
			DrugID:       input.DrugID,
			BatchNumber:  input.BatchNumber,
			Quantity:     input.Quantity,
			CostPrice:    input.CostPrice,
			SellingPrice: input.SellingPrice,
			ExpiryDate:   input.ExpiryDate,
			PerformedBy:  input.PerformedBy,
		})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup stock batch")
	}

	return s.applyAdjustment(ctx, existing.ID, enums.AdjustmentReasonReceived, input.Quantity, adjustmentMeta{
		performedBy: input.PerformedBy,
		unitCost:    input.CostPrice,
		notes:       input.Notes,
	})
}

func (s *service) AdjustStock(ctx context.Context, input AdjustStockInput) (*models.StockBatch, error) {
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid adjustment reason %q", input.Reason))
	}
	if input.QuantityChange == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity change must be non-zero")
	}
	if input.PerformedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed_by is required")
	}

	return s.applyAdjustment(ctx, input.BatchID, input.Reason, input.QuantityChange, adjustmentMeta{
		performedBy: input.PerformedBy,
		approvedBy:  input.ApprovedBy,
		notes:       input.Notes,
		manualRef:   true,
	})
}

// ReserveStock earmarks stock inside the caller's transaction when one
// is supplied, otherwise in its own.
func (s *service) ReserveStock(ctx context.Context, tx *gorm.DB, input MovementInput) error {
	return s.runMovement(ctx, tx, input, enums.AdjustmentReasonReserved, func(repo *Repository) error {
		return repo.Reserve(ctx, input.BatchID, input.Quantity)
	}, 0)
}

func (s *service) ReleaseStock(ctx context.Context, tx *gorm.DB, input MovementInput) error {
	return s.runMovement(ctx, tx, input, enums.AdjustmentReasonUnreserved, func(repo *Repository) error {
		return repo.Release(ctx, input.BatchID, input.Quantity)
	}, 0)
}

func (s *service) DispenseStock(ctx context.Context, tx *gorm.DB, input MovementInput) error {
	return s.runMovement(ctx, tx, input, enums.AdjustmentReasonDispensed, func(repo *Repository) error {
		return repo.Dispense(ctx, input.BatchID, input.Quantity)
	}, -input.Quantity)
}

// runMovement performs the guarded quantity update and ledger insert as
// one transaction. Reservation changes do not move on-hand stock, so
// their ledger entries carry a zero on-hand delta.
func (s *service) runMovement(ctx context.Context, tx *gorm.DB, input MovementInput, reason enums.AdjustmentReason, apply func(repo *Repository) error, onHandDelta int) error {
	if input.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "movement quantity must be positive")
	}
	if input.BatchID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "batch id is required")
	}

	run := func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := apply(repo); err != nil {
			return err
		}

		batch, err := repo.FindBatchByID(ctx, input.BatchID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload batch after movement")
		}

		meta := adjustmentMeta{
			performedBy: input.PerformedBy,
			unitCost:    batch.CostPrice,
		}
		if input.ReferenceID != uuid.Nil {
			refType := input.ReferenceType
			refID := input.ReferenceID
			meta.referenceType = &refType
			meta.referenceID = &refID
		}
		return repo.CreateAdjustment(ctx, s.adjustmentFor(batch, reason, onHandDelta, batch.QuantityOnHand-onHandDelta, meta))
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.tx.WithTx(ctx, run)
	}
	if err != nil {
		s.countConflict(reason.String(), err)
		return err
	}
	s.metrics.IncMutation(reason.String())
	return nil
}

// applyAdjustment is the additive path shared by receive and manual
// adjustments: guarded on-hand update plus one ledger entry, atomically.
func (s *service) applyAdjustment(ctx context.Context, batchID uuid.UUID, reason enums.AdjustmentReason, change int, meta adjustmentMeta) (*models.StockBatch, error) {
	var updated *models.StockBatch
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ApplyQuantityChange(ctx, batchID, change); err != nil {
			return err
		}

		batch, err := repo.FindBatchByID(ctx, batchID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "stock batch not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload batch after adjustment")
		}
		if meta.unitCost.IsZero() {
			meta.unitCost = batch.CostPrice
		}

		updated = batch
		return repo.CreateAdjustment(ctx, s.adjustmentFor(batch, reason, change, batch.QuantityOnHand-change, meta))
	})
	if err != nil {
		s.countConflict(reason.String(), err)
		return nil, err
	}
	s.metrics.IncMutation(reason.String())
	return updated, nil
}

func (s *service) PerformStockCount(ctx context.Context, input StockCountInput) (*models.StockBatch, error) {
	if input.CountedQty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "counted quantity must not be negative")
	}
	if input.PerformedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed_by is required")
	}

	var updated *models.StockBatch
	countedAt := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		batch, err := repo.FindBatchByID(ctx, input.BatchID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "stock batch not found")
			}
			return err
		}

		difference := input.CountedQty - batch.QuantityOnHand
		if difference != 0 {
			refType := enums.ReferenceTypeStockCount
			if err := repo.CreateAdjustment(ctx, s.adjustmentFor(batch, enums.AdjustmentReasonCountingAdjustment, difference, batch.QuantityOnHand, adjustmentMeta{
				performedBy:   input.PerformedBy,
				unitCost:      batch.CostPrice,
				notes:         input.Notes,
				referenceType: &refType,
			})); err != nil {
				return err
			}
		}

		if err := repo.SetCountedQuantity(ctx, input.BatchID, input.CountedQty, input.PerformedBy, countedAt); err != nil {
			return err
		}

		batch.QuantityOnHand = input.CountedQty
		batch.LastCountedAt = &countedAt
		batch.LastCountedBy = &input.PerformedBy
		updated = batch
		return nil
	})
	if err != nil {
		s.countConflict("stock_count", err)
		return nil, err
	}
	s.metrics.IncMutation(enums.AdjustmentReasonCountingAdjustment.String())
	return updated, nil
}

func (s *service) Search(ctx context.Context, filters BatchSearchFilters) ([]models.StockBatch, error) {
	if filters.PharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	return s.repo.ListBatches(ctx, filters)
}

func (s *service) History(ctx context.Context, batchID uuid.UUID) ([]models.InventoryAdjustment, error) {
	if batchID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id is required")
	}
	return s.repo.ListAdjustmentsByBatch(ctx, batchID)
}

func (s *service) LowStockAlerts(ctx context.Context, pharmacyID uuid.UUID) ([]models.StockBatch, error) {
	if pharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	return s.repo.ListLowStockBatches(ctx, pharmacyID)
}

func (s *service) ExpiryAlerts(ctx context.Context, pharmacyID uuid.UUID, withinDays int) ([]models.StockBatch, error) {
	if pharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	if withinDays <= 0 {
		withinDays = s.cfg.ExpiryAlertDays
	}
	horizon := s.now().AddDate(0, 0, withinDays)
	return s.repo.ListExpiringBatches(ctx, pharmacyID, horizon)
}

func (s *service) GetSummary(ctx context.Context, pharmacyID uuid.UUID) (*Summary, error) {
	if pharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	now := s.now()
	horizon := now.AddDate(0, 0, s.cfg.ExpiryAlertDays)
	return s.repo.Summarize(ctx, pharmacyID, now, horizon)
}

type adjustmentMeta struct {
	performedBy   uuid.UUID
	approvedBy    *uuid.UUID
	unitCost      decimal.Decimal
	notes         *string
	referenceType *enums.ReferenceType
	referenceID   *uuid.UUID
	manualRef     bool
}

func (s *service) adjustmentFor(batch *models.StockBatch, reason enums.AdjustmentReason, change, before int, meta adjustmentMeta) *models.InventoryAdjustment {
	adjustment := &models.InventoryAdjustment{
		BatchID:        batch.ID,
		PharmacyID:     batch.PharmacyID,
		DrugID:         batch.DrugID,
		BatchNumber:    batch.BatchNumber,
		Reason:         reason,
		QuantityChange: change,
		QuantityBefore: before,
		QuantityAfter:  before + change,
		UnitCost:       meta.unitCost,
		TotalValue:     meta.unitCost.Mul(decimal.NewFromInt(int64(abs(change)))),
		Notes:          meta.notes,
		PerformedBy:    meta.performedBy,
		PerformedAt:    s.now(),
		ApprovedBy:     meta.approvedBy,
	}
	if meta.approvedBy != nil {
		approvedAt := s.now()
		adjustment.ApprovedAt = &approvedAt
	}
	if meta.referenceType != nil {
		adjustment.ReferenceType = meta.referenceType
		adjustment.ReferenceID = meta.referenceID
	} else if meta.manualRef {
		manual := enums.ReferenceTypeManual
		adjustment.ReferenceType = &manual
	}
	return adjustment
}

func (s *service) countConflict(operation string, err error) {
	if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) || pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		s.metrics.IncConflict(operation)
	}
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
