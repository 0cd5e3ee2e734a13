package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

// Repository wires together persistence for stock batches and their
// append-only adjustment ledger.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// CreateBatch inserts a new stock batch row.
func (r *Repository) CreateBatch(ctx context.Context, batch *models.StockBatch) (*models.StockBatch, error) {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// FindBatchByID loads a batch without associations.
func (r *Repository) FindBatchByID(ctx context.Context, id uuid.UUID) (*models.StockBatch, error) {
	var batch models.StockBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// FindBatchByIdentity loads the batch for the unique
// (pharmacy, drug, batch_number) triple.
func (r *Repository) FindBatchByIdentity(ctx context.Context, pharmacyID, drugID uuid.UUID, batchNumber string) (*models.StockBatch, error) {
	var batch models.StockBatch
	err := r.db.WithContext(ctx).
		First(&batch, "pharmacy_id = ? AND drug_id = ? AND batch_number = ?", pharmacyID, drugID, batchNumber).
		Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// SaveBatch persists non-quantity batch edits.
func (r *Repository) SaveBatch(ctx context.Context, batch *models.StockBatch) (*models.StockBatch, error) {
	if err := r.db.WithContext(ctx).Save(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// BatchSearchFilters narrows ListBatches.
type BatchSearchFilters struct {
	PharmacyID  uuid.UUID
	DrugID      *uuid.UUID
	BatchNumber *string
	ActiveOnly  bool
}

// ListBatches returns the pharmacy's batches, oldest expiry first.
func (r *Repository) ListBatches(ctx context.Context, filters BatchSearchFilters) ([]models.StockBatch, error) {
	qb := r.db.WithContext(ctx).Where("pharmacy_id = ?", filters.PharmacyID)
	if filters.DrugID != nil {
		qb = qb.Where("drug_id = ?", *filters.DrugID)
	}
	if filters.BatchNumber != nil {
		qb = qb.Where("batch_number = ?", *filters.BatchNumber)
	}
	if filters.ActiveOnly {
		qb = qb.Where("is_active = ?", true)
	}

	var rows []models.StockBatch
	err := qb.
		Order("expiry_date ASC NULLS LAST").
		Order("created_at ASC").
		Find(&rows).
		Error
	return rows, err
}

// ListSellableBatches returns the active, sellable, unexpired batches
// for a drug at a pharmacy, oldest expiry first.
func (r *Repository) ListSellableBatches(ctx context.Context, pharmacyID, drugID uuid.UUID, at time.Time) ([]models.StockBatch, error) {
	var rows []models.StockBatch
	err := r.db.WithContext(ctx).
		Where("pharmacy_id = ? AND drug_id = ?", pharmacyID, drugID).
		Where("is_active = ? AND available_for_sale = ?", true, true).
		Where("quantity_on_hand > 0").
		Where("expiry_date IS NULL OR expiry_date >= ?", at).
		Order("expiry_date ASC NULLS LAST").
		Order("created_at ASC").
		Find(&rows).
		Error
	return rows, err
}

// IncrementOnHand adds received stock to the batch. The guard only
// rejects non-positive increments at the call site, so any failure here
// is a dependency error.
func (r *Repository) IncrementOnHand(ctx context.Context, batchID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_batches
		SET quantity_on_hand = quantity_on_hand + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, batchID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment on-hand quantity")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "stock batch not found")
	}
	return nil
}

// ApplyQuantityChange applies a signed on-hand delta. The WHERE guard
// keeps the invariant on_hand >= reserved + damaged intact under
// concurrent writers; zero rows affected means the change would have
// driven a quantity negative.
func (r *Repository) ApplyQuantityChange(ctx context.Context, batchID uuid.UUID, change int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_batches
		SET quantity_on_hand = quantity_on_hand + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND quantity_on_hand + ? >= quantity_reserved + quantity_damaged
	`, change, batchID, change)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "apply quantity change")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "adjustment would drive stock negative")
	}
	return nil
}

// Reserve earmarks stock for an order. The guard enforces
// qty <= on_hand - reserved - damaged in a single statement so two
// concurrent reservations cannot both pass the availability check.
func (r *Repository) Reserve(ctx context.Context, batchID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_batches
		SET quantity_reserved = quantity_reserved + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND quantity_on_hand - quantity_reserved - quantity_damaged >= ?
	`, qty, batchID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient available stock to reserve")
	}
	return nil
}

// Release returns reserved stock to the available pool.
func (r *Repository) Release(ctx context.Context, batchID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_batches
		SET quantity_reserved = quantity_reserved - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND quantity_reserved >= ?
	`, qty, batchID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release reserved stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "release exceeds reserved quantity")
	}
	return nil
}

// Dispense removes stock physically. Reserved quantity is consumed
// first; any excess draws down unreserved stock, so reserved drops by
// min(qty, reserved) while on-hand drops by the full qty.
func (r *Repository) Dispense(ctx context.Context, batchID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_batches
		SET quantity_on_hand = quantity_on_hand - ?,
			quantity_reserved = quantity_reserved - (CASE WHEN quantity_reserved < ? THEN quantity_reserved ELSE ? END),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND quantity_on_hand >= ?
	`, qty, qty, qty, batchID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "dispense stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock to dispense")
	}
	return nil
}

// SetCountedQuantity sets on-hand to the counted absolute value and
// records who performed the count. The guard refuses counts below what
// is already reserved or damaged.
func (r *Repository) SetCountedQuantity(ctx context.Context, batchID uuid.UUID, countedQty int, countedBy uuid.UUID, countedAt time.Time) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_batches
		SET quantity_on_hand = ?,
			last_counted_at = ?,
			last_counted_by = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND quantity_reserved + quantity_damaged <= ?
	`, countedQty, countedAt, countedBy, batchID, countedQty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "apply stock count")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "counted quantity below reserved plus damaged")
	}
	return nil
}

// CreateAdjustment appends one immutable ledger entry.
func (r *Repository) CreateAdjustment(ctx context.Context, adjustment *models.InventoryAdjustment) error {
	return r.db.WithContext(ctx).Create(adjustment).Error
}

// ListAdjustmentsByBatch returns the batch's ledger in commit order.
func (r *Repository) ListAdjustmentsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.InventoryAdjustment, error) {
	var rows []models.InventoryAdjustment
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&rows).
		Error
	return rows, err
}

// ListAdjustmentsByReference returns all ledger entries that point back
// to the given reference, e.g. an order.
func (r *Repository) ListAdjustmentsByReference(ctx context.Context, referenceID uuid.UUID) ([]models.InventoryAdjustment, error) {
	var rows []models.InventoryAdjustment
	err := r.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Order("created_at ASC").
		Find(&rows).
		Error
	return rows, err
}

// ListLowStockBatches returns active batches at or below their reorder
// level.
func (r *Repository) ListLowStockBatches(ctx context.Context, pharmacyID uuid.UUID) ([]models.StockBatch, error) {
	var rows []models.StockBatch
	err := r.db.WithContext(ctx).
		Where("pharmacy_id = ? AND is_active = ?", pharmacyID, true).
		Where("quantity_on_hand <= reorder_level").
		Order("quantity_on_hand ASC").
		Find(&rows).
		Error
	return rows, err
}

// ListExpiringBatches returns active batches whose expiry falls before
// the horizon, already-expired ones included, soonest first.
func (r *Repository) ListExpiringBatches(ctx context.Context, pharmacyID uuid.UUID, horizon time.Time) ([]models.StockBatch, error) {
	var rows []models.StockBatch
	err := r.db.WithContext(ctx).
		Where("pharmacy_id = ? AND is_active = ?", pharmacyID, true).
		Where("expiry_date IS NOT NULL AND expiry_date <= ?", horizon).
		Order("expiry_date ASC").
		Find(&rows).
		Error
	return rows, err
}

// Summary aggregates a pharmacy's stock position.
type Summary struct {
	PharmacyID     uuid.UUID       `json:"pharmacy_id"`
	ItemCount      int             `json:"item_count"`
	TotalQuantity  int             `json:"total_quantity"`
	TotalValue     decimal.Decimal `json:"total_value"`
	LowStockCount  int             `json:"low_stock_count"`
	OutOfStock     int             `json:"out_of_stock_count"`
	ExpiringCount  int             `json:"expiring_count"`
	ExpiredCount   int             `json:"expired_count"`
	ExpiryHorizon  time.Time       `json:"expiry_horizon"`
	EvaluatedAtUTC time.Time       `json:"evaluated_at_utc"`
}

// Summarize folds the pharmacy's active batches into the aggregate view.
func (r *Repository) Summarize(ctx context.Context, pharmacyID uuid.UUID, now, horizon time.Time) (*Summary, error) {
	var rows []models.StockBatch
	err := r.db.WithContext(ctx).
		Where("pharmacy_id = ? AND is_active = ?", pharmacyID, true).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		PharmacyID:     pharmacyID,
		TotalValue:     decimal.Zero,
		ExpiryHorizon:  horizon,
		EvaluatedAtUTC: now.UTC(),
	}
	for i := range rows {
		batch := &rows[i]
		summary.ItemCount++
		summary.TotalQuantity += batch.QuantityOnHand
		summary.TotalValue = summary.TotalValue.Add(
			batch.CostPrice.Mul(decimal.NewFromInt(int64(batch.QuantityOnHand))),
		)
		switch batch.StockStatus() {
		case enums.StockStatusOutOfStock:
			summary.OutOfStock++
		case enums.StockStatusLowStock:
			summary.LowStockCount++
		}
		if batch.ExpiryDate != nil {
			switch {
			case batch.IsExpired(now):
				summary.ExpiredCount++
			case batch.ExpiryDate.Before(horizon) || batch.ExpiryDate.Equal(horizon):
				summary.ExpiringCount++
			}
		}
	}
	return summary, nil
}
