package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// OrderItem snapshots one drug line at order time so later catalog edits
// cannot change what the patient bought.
type OrderItem struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	DrugID               uuid.UUID         `gorm:"column:drug_id;type:uuid;not null;index"`
	DrugName             string            `gorm:"column:drug_name;not null"`
	Strength             string            `gorm:"column:strength"`
	UnitPrice            decimal.Decimal   `gorm:"column:unit_price;type:decimal(10,2);not null"`
	Quantity             int               `gorm:"column:quantity;not null"`
	DiscountPercent      decimal.Decimal   `gorm:"column:discount_percent;type:decimal(5,2);not null;default:0"`
	TotalPrice           decimal.Decimal   `gorm:"column:total_price;type:decimal(12,2);not null"`
	RequiresPrescription bool              `gorm:"column:requires_prescription;not null;default:false"`
	PrescriptionVerified bool              `gorm:"column:prescription_verified;not null;default:false"`
	StockSource          enums.StockSource `gorm:"column:stock_source;type:text;not null;default:'ledger'"`
	DispensedBatchID     *uuid.UUID        `gorm:"column:dispensed_batch_id;type:uuid"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
