package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// InventoryAdjustment is one immutable ledger entry. Folding
// QuantityChange over a batch's entries in commit order reproduces its
// current on-hand quantity.
type InventoryAdjustment struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BatchID        uuid.UUID              `gorm:"column:batch_id;type:uuid;not null;index"`
	PharmacyID     uuid.UUID              `gorm:"column:pharmacy_id;type:uuid;not null;index"`
	DrugID         uuid.UUID              `gorm:"column:drug_id;type:uuid;not null"`
	BatchNumber    string                 `gorm:"column:batch_number;not null"`
	Reason         enums.AdjustmentReason `gorm:"column:reason;type:adjustment_reason;not null"`
	QuantityChange int                    `gorm:"column:quantity_change;not null"`
	QuantityBefore int                    `gorm:"column:quantity_before;not null"`
	QuantityAfter  int                    `gorm:"column:quantity_after;not null"`
	ReferenceType  *enums.ReferenceType   `gorm:"column:reference_type;type:reference_type"`
	ReferenceID    *uuid.UUID             `gorm:"column:reference_id;type:uuid;index"`
	UnitCost       decimal.Decimal        `gorm:"column:unit_cost;type:decimal(10,2);not null;default:0"`
	TotalValue     decimal.Decimal        `gorm:"column:total_value;type:decimal(12,2);not null;default:0"`
	Notes          *string                `gorm:"column:notes"`
	PerformedBy    uuid.UUID              `gorm:"column:performed_by;type:uuid;not null"`
	PerformedAt    time.Time              `gorm:"column:performed_at;not null"`
	ApprovedBy     *uuid.UUID             `gorm:"column:approved_by;type:uuid"`
	ApprovedAt     *time.Time             `gorm:"column:approved_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}
