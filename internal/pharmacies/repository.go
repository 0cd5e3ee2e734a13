package pharmacies

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

// Repository reads pharmacy records and maintains the running rating
// average.
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

// FindByID loads one pharmacy.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error) {
	var pharmacy models.Pharmacy
	if err := r.db.WithContext(ctx).First(&pharmacy, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &pharmacy, nil
}

// ListActive returns every active pharmacy, name order.
func (r *Repository) ListActive(ctx context.Context) ([]models.Pharmacy, error) {
	var pharmacies []models.Pharmacy
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&pharmacies).Error
	return pharmacies, err
}

// ApplyRating folds one new rating into the running average, rounded to
// one decimal. The whole computation runs in a single statement so
// concurrent ratings never lose an increment.
func (r *Repository) ApplyRating(ctx context.Context, pharmacyID uuid.UUID, rating int) error {
	if rating < 1 || rating > 5 {
		return pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}
	res := r.db.WithContext(ctx).Exec(`
		UPDATE pharmacies
		SET average_rating = ROUND(CAST((average_rating * total_ratings + ?) / (total_ratings + 1.0) AS numeric), 1),
			total_ratings = total_ratings + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, rating, pharmacyID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "apply pharmacy rating")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "pharmacy not found")
	}
	return nil
}
