package purchaselimits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository aggregates purchase history from the order tables. It is
// read-only; the window sum reflects a point-in-time snapshot.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SumPurchased totals the patient's purchased quantity of one drug
// across non-cancelled, non-refunded orders created since the window
// start.
func (r *Repository) SumPurchased(ctx context.Context, patientID, drugID uuid.UUID, since time.Time) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.patient_id = ?
		  AND oi.drug_id = ?
		  AND o.status NOT IN ('cancelled', 'refunded')
		  AND o.created_at >= ?
	`, patientID, drugID, since).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}
