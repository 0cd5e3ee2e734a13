package drugs

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

// Repository reads the drug catalog and maintains the legacy flat
// stock quantity still carried on seed-era records.
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

// FindByID loads one catalog entry.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Drug, error) {
	var drug models.Drug
	if err := r.db.WithContext(ctx).First(&drug, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &drug, nil
}

// FindByIDs loads multiple catalog entries keyed by id.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Drug, error) {
	var rows []models.Drug
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]*models.Drug, len(rows))
	for i := range rows {
		found[rows[i].ID] = &rows[i]
	}
	return found, nil
}

// DecrementLegacyQuantity draws down the flat quantity for drugs with
// no batch tracking. The guard keeps it non-negative under concurrent
// dispenses.
func (r *Repository) DecrementLegacyQuantity(ctx context.Context, drugID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "decrement quantity must be positive")
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE drugs
		SET stock_quantity = stock_quantity - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock_quantity >= ?
	`, qty, drugID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement legacy quantity")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient legacy stock")
	}
	return nil
}

// SetAvailability toggles the sellable flag on a catalog entry.
func (r *Repository) SetAvailability(ctx context.Context, drugID uuid.UUID, available bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Drug{}).
		Where("id = ?", drugID).
		Update("is_available", available)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "drug not found")
	}
	return nil
}
