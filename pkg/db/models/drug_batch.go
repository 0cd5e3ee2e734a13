package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DrugBatch is the dedicated batch store consulted first when resolving
// availability. It predates the full ledger and carries its own
// reservation counter.
type DrugBatch struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PharmacyID        uuid.UUID       `gorm:"column:pharmacy_id;type:uuid;not null;index"`
	DrugID            uuid.UUID       `gorm:"column:drug_id;type:uuid;not null;index"`
	BatchNumber       string          `gorm:"column:batch_number;not null"`
	QuantityAvailable int             `gorm:"column:quantity_available;not null;default:0"`
	QuantityReserved  int             `gorm:"column:quantity_reserved;not null;default:0"`
	UnitPrice         decimal.Decimal `gorm:"column:unit_price;type:decimal(10,2);not null;default:0"`
	DiscountPercent   decimal.Decimal `gorm:"column:discount_percent;type:decimal(5,2);not null;default:0"`
	ExpiryDate        *time.Time      `gorm:"column:expiry_date;type:date;index"`
	NoExpiry          bool            `gorm:"column:no_expiry;not null;default:false"`
	IsActive          bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Residual is the unreserved remainder of the batch.
func (b *DrugBatch) Residual() int {
	if b == nil {
		return 0
	}
	residual := b.QuantityAvailable - b.QuantityReserved
	if residual < 0 {
		return 0
	}
	return residual
}

// Usable reports whether the batch may satisfy new demand at the
// reference time.
func (b *DrugBatch) Usable(at time.Time) bool {
	if b == nil || !b.IsActive {
		return false
	}
	if !b.NoExpiry && b.ExpiryDate != nil && b.ExpiryDate.Before(at) {
		return false
	}
	return b.Residual() > 0
}
