package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

func setupInventoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	stockBatches := `
CREATE TABLE IF NOT EXISTS stock_batches (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  pharmacy_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  batch_number TEXT NOT NULL,
  quantity_on_hand INTEGER NOT NULL DEFAULT 0,
  quantity_reserved INTEGER NOT NULL DEFAULT 0,
  quantity_damaged INTEGER NOT NULL DEFAULT 0,
  cost_price NUMERIC NOT NULL DEFAULT 0,
  selling_price NUMERIC NOT NULL DEFAULT 0,
  discount_percent NUMERIC NOT NULL DEFAULT 0,
  reorder_level INTEGER NOT NULL DEFAULT 0,
  reorder_quantity INTEGER NOT NULL DEFAULT 0,
  max_stock_level INTEGER NOT NULL DEFAULT 0,
  expiry_date DATETIME,
  manufacture_date DATETIME,
  storage_condition TEXT NOT NULL DEFAULT 'room_temperature',
  dispensing_method TEXT NOT NULL DEFAULT 'oldest_expiry_first',
  is_active INTEGER NOT NULL DEFAULT 1,
  available_for_sale INTEGER NOT NULL DEFAULT 1,
  last_counted_at DATETIME,
  last_counted_by TEXT,
  created_by TEXT NOT NULL,
  updated_by TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (pharmacy_id, drug_id, batch_number)
);`
	adjustments := `
CREATE TABLE IF NOT EXISTS inventory_adjustments (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  batch_id TEXT NOT NULL,
  pharmacy_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  batch_number TEXT NOT NULL,
  reason TEXT NOT NULL,
  quantity_change INTEGER NOT NULL,
  quantity_before INTEGER NOT NULL,
  quantity_after INTEGER NOT NULL,
  reference_type TEXT,
  reference_id TEXT,
  unit_cost NUMERIC NOT NULL DEFAULT 0,
  total_value NUMERIC NOT NULL DEFAULT 0,
  notes TEXT,
  performed_by TEXT NOT NULL,
  performed_at DATETIME NOT NULL,
  approved_by TEXT,
  approved_at DATETIME,
  created_at DATETIME
);`

	require.NoError(t, db.Exec(stockBatches).Error)
	require.NoError(t, db.Exec(adjustments).Error)
	return db
}

func seedBatch(t *testing.T, db *gorm.DB, onHand, reserved, damaged int) *models.StockBatch {
	t.Helper()
	batch := &models.StockBatch{
		ID:               uuid.New(),
		PharmacyID:       uuid.New(),
		DrugID:           uuid.New(),
		BatchNumber:      "BN-" + uuid.NewString()[:8],
		QuantityOnHand:   onHand,
		QuantityReserved: reserved,
		QuantityDamaged:  damaged,
		CostPrice:        decimal.NewFromInt(3),
		SellingPrice:     decimal.NewFromInt(5),
		ReorderLevel:     2,
		IsActive:         true,
		AvailableForSale: true,
		CreatedBy:        uuid.New(),
	}
	require.NoError(t, db.Create(batch).Error)
	return batch
}

func TestRepositoryReserveBoundary(t *testing.T) {
	t.Parallel()

	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, db, 10, 3, 2) // available = 5

	require.Error(t, repo.Reserve(ctx, batch.ID, 6), "reserving past availability must fail")

	var unchanged models.StockBatch
	require.NoError(t, db.First(&unchanged, "id = ?", batch.ID).Error)
	assert.Equal(t, 3, unchanged.QuantityReserved, "failed reserve must not mutate")

	require.NoError(t, repo.Reserve(ctx, batch.ID, 5), "reserving exactly the available amount must succeed")

	var reserved models.StockBatch
	require.NoError(t, db.First(&reserved, "id = ?", batch.ID).Error)
	assert.Equal(t, 8, reserved.QuantityReserved)
	assert.Equal(t, 10, reserved.QuantityOnHand)

	err := repo.Reserve(ctx, batch.ID, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
}

func TestRepositoryReleaseRestoresReserved(t *testing.T) {
	t.Parallel()

	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, db, 10, 0, 0)

	require.NoError(t, repo.Reserve(ctx, batch.ID, 4))
	require.NoError(t, repo.Release(ctx, batch.ID, 4))

	var restored models.StockBatch
	require.NoError(t, db.First(&restored, "id = ?", batch.ID).Error)
	assert.Equal(t, 0, restored.QuantityReserved)
	assert.Equal(t, 10, restored.QuantityOnHand)

	err := repo.Release(ctx, batch.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "releasing more than reserved must fail")
}

func TestRepositoryDispenseConsumesReservedFirst(t *testing.T) {
	t.Parallel()

	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, db, 10, 3, 0)

	// Dispensing 5 with only 3 reserved drains all reservations and
	// draws the remaining 2 from unreserved stock.
	require.NoError(t, repo.Dispense(ctx, batch.ID, 5))

	var after models.StockBatch
	require.NoError(t, db.First(&after, "id = ?", batch.ID).Error)
	assert.Equal(t, 5, after.QuantityOnHand)
	assert.Equal(t, 0, after.QuantityReserved)

	err := repo.Dispense(ctx, batch.ID, 6)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
}

func TestRepositoryCountGuard(t *testing.T) {
	t.Parallel()

	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, db, 10, 4, 1)
	counter := uuid.New()

	err := repo.SetCountedQuantity(ctx, batch.ID, 3, counter, time.Now())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "count below reserved+damaged must fail")

	require.NoError(t, repo.SetCountedQuantity(ctx, batch.ID, 7, counter, time.Now()))

	var counted models.StockBatch
	require.NoError(t, db.First(&counted, "id = ?", batch.ID).Error)
	assert.Equal(t, 7, counted.QuantityOnHand)
	require.NotNil(t, counted.LastCountedBy)
	assert.Equal(t, counter, *counted.LastCountedBy)
}

func TestRepositoryDuplicateBatchIdentityRejected(t *testing.T) {
	t.Parallel()

	db := setupInventoryTestDB(t)
	ctx := context.Background()
	repo := NewRepository(db)

	batch := seedBatch(t, db, 5, 0, 0)

	dup := &models.StockBatch{
		ID:          uuid.New(),
		PharmacyID:  batch.PharmacyID,
		DrugID:      batch.DrugID,
		BatchNumber: batch.BatchNumber,
		CreatedBy:   uuid.New(),
	}
	_, err := repo.CreateBatch(ctx, dup)
	require.Error(t, err, "same (pharmacy, drug, batch_number) must be unique")
}

func TestRepositoryAlertsAndSummary(t *testing.T) {
	t.Parallel()

	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	pharmacyID := uuid.New()
	now := time.Now()
	soon := now.AddDate(0, 0, 30)
	past := now.AddDate(0, 0, -5)
	far := now.AddDate(1, 0, 0)

	mk := func(onHand, reorder int, expiry *time.Time) *models.StockBatch {
		batch := &models.StockBatch{
			ID:               uuid.New(),
			PharmacyID:       pharmacyID,
			DrugID:           uuid.New(),
			BatchNumber:      "BN-" + uuid.NewString()[:8],
			QuantityOnHand:   onHand,
			CostPrice:        decimal.NewFromInt(2),
			ReorderLevel:     reorder,
			ExpiryDate:       expiry,
			IsActive:         true,
			AvailableForSale: true,
			CreatedBy:        uuid.New(),
		}
		require.NoError(t, db.Create(batch).Error)
		return batch
	}

	mk(1, 5, &far)   // low stock
	mk(0, 5, nil)    // out of stock
	mk(20, 5, &soon) // expiring
	mk(20, 5, &past) // expired

	low, err := repo.ListLowStockBatches(ctx, pharmacyID)
	require.NoError(t, err)
	assert.Len(t, low, 2, "low stock includes out-of-stock rows")

	expiring, err := repo.ListExpiringBatches(ctx, pharmacyID, now.AddDate(0, 0, 90))
	require.NoError(t, err)
	assert.Len(t, expiring, 2, "expiring window includes already-expired rows")

	summary, err := repo.Summarize(ctx, pharmacyID, now, now.AddDate(0, 0, 90))
	require.NoError(t, err)
	assert.Equal(t, 4, summary.ItemCount)
	assert.Equal(t, 41, summary.TotalQuantity)
	assert.Equal(t, 1, summary.LowStockCount)
	assert.Equal(t, 1, summary.OutOfStock)
	assert.Equal(t, 1, summary.ExpiringCount)
	assert.Equal(t, 1, summary.ExpiredCount)
	assert.True(t, summary.TotalValue.Equal(decimal.NewFromInt(82)))
}

func TestRepositoryLedgerByReference(t *testing.T) {
	t.Parallel()

	db := setupInventoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, db, 10, 0, 0)
	orderID := uuid.New()
	refType := enums.ReferenceTypeOrder

	entry := &models.InventoryAdjustment{
		BatchID:        batch.ID,
		PharmacyID:     batch.PharmacyID,
		DrugID:         batch.DrugID,
		BatchNumber:    batch.BatchNumber,
		Reason:         enums.AdjustmentReasonDispensed,
		QuantityChange: -2,
		QuantityBefore: 10,
		QuantityAfter:  8,
		ReferenceType:  &refType,
		ReferenceID:    &orderID,
		PerformedBy:    uuid.New(),
		PerformedAt:    time.Now(),
	}
	require.NoError(t, repo.CreateAdjustment(ctx, entry))

	rows, err := repo.ListAdjustmentsByReference(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.AdjustmentReasonDispensed, rows[0].Reason)
	assert.Equal(t, rows[0].QuantityBefore+rows[0].QuantityChange, rows[0].QuantityAfter)
}
