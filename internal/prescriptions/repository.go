package prescriptions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

// Repository reads clinician-issued prescriptions and links them to the
// orders that pay for them.
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

// FindByID loads one prescription.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Prescription, error) {
	var prescription models.Prescription
	if err := r.db.WithContext(ctx).First(&prescription, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &prescription, nil
}

// ListByPatient returns the patient's prescriptions, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]models.Prescription, error) {
	var rows []models.Prescription
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("issued_at DESC").
		Find(&rows).
		Error
	return rows, err
}

// MarkPaidAndLink records that an order paid for the prescription and
// points it back to that order.
func (r *Repository) MarkPaidAndLink(ctx context.Context, prescriptionID, orderID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Prescription{}).
		Where("id = ?", prescriptionID).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"order_id":       orderID,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "link prescription payment")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
	}
	return nil
}
