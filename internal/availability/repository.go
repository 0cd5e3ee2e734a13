package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

// Repository owns the dedicated drug batch store consulted as the first
// availability tier.
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

// ListUsableDrugBatches returns active, unexpired tier-one batches with
// unreserved residual stock, oldest expiry first. Batches flagged
// no-expiry sort after dated ones.
func (r *Repository) ListUsableDrugBatches(ctx context.Context, pharmacyID, drugID uuid.UUID, at time.Time) ([]models.DrugBatch, error) {
	var rows []models.DrugBatch
	err := r.db.WithContext(ctx).
		Where("pharmacy_id = ? AND drug_id = ?", pharmacyID, drugID).
		Where("is_active = ?", true).
		Where("no_expiry = ? OR expiry_date IS NULL OR expiry_date >= ?", true, at).
		Where("quantity_available - quantity_reserved > 0").
		Order("no_expiry ASC").
		Order("expiry_date ASC NULLS LAST").
		Order("created_at ASC").
		Find(&rows).
		Error
	return rows, err
}

// FindDrugBatchByID loads one tier-one batch.
func (r *Repository) FindDrugBatchByID(ctx context.Context, id uuid.UUID) (*models.DrugBatch, error) {
	var batch models.DrugBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// DecrementDrugBatch draws down a tier-one batch at dispense time. The
// guard keeps the residual non-negative under concurrent writers.
func (r *Repository) DecrementDrugBatch(ctx context.Context, batchID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "decrement quantity must be positive")
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE drug_batches
		SET quantity_available = quantity_available - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND quantity_available - quantity_reserved >= ?
	`, qty, batchID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement drug batch")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient unreserved stock in drug batch")
	}
	return nil
}
