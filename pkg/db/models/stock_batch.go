package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// StockBatch is one physical lot of a drug held by a pharmacy. Quantity
// fields change only through ledger operations and the batch is never
// hard-deleted. Invariant: on hand >= reserved + damaged >= 0.
type StockBatch struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PharmacyID        uuid.UUID              `gorm:"column:pharmacy_id;type:uuid;not null;uniqueIndex:idx_stock_batches_identity,priority:1"`
	DrugID            uuid.UUID              `gorm:"column:drug_id;type:uuid;not null;uniqueIndex:idx_stock_batches_identity,priority:2"`
	BatchNumber       string                 `gorm:"column:batch_number;not null;uniqueIndex:idx_stock_batches_identity,priority:3"`
	QuantityOnHand    int                    `gorm:"column:quantity_on_hand;not null;default:0"`
	QuantityReserved  int                    `gorm:"column:quantity_reserved;not null;default:0"`
	QuantityDamaged   int                    `gorm:"column:quantity_damaged;not null;default:0"`
	CostPrice         decimal.Decimal        `gorm:"column:cost_price;type:decimal(10,2);not null;default:0"`
	SellingPrice      decimal.Decimal        `gorm:"column:selling_price;type:decimal(10,2);not null;default:0"`
	DiscountPercent   decimal.Decimal        `gorm:"column:discount_percent;type:decimal(5,2);not null;default:0"`
	ReorderLevel      int                    `gorm:"column:reorder_level;not null;default:0"`
	ReorderQuantity   int                    `gorm:"column:reorder_quantity;not null;default:0"`
	MaxStockLevel     int                    `gorm:"column:max_stock_level;not null;default:0"`
	ExpiryDate        *time.Time             `gorm:"column:expiry_date;type:date;index"`
	ManufactureDate   *time.Time             `gorm:"column:manufacture_date;type:date"`
	StorageCondition  enums.StorageCondition `gorm:"column:storage_condition;type:storage_condition;not null;default:'room_temperature'"`
	DispensingMethod  enums.DispensingMethod `gorm:"column:dispensing_method;type:dispensing_method;not null;default:'oldest_expiry_first'"`
	IsActive          bool                   `gorm:"column:is_active;not null;default:true"`
	AvailableForSale  bool                   `gorm:"column:available_for_sale;not null;default:true"`
	LastCountedAt     *time.Time             `gorm:"column:last_counted_at"`
	LastCountedBy     *uuid.UUID             `gorm:"column:last_counted_by;type:uuid"`
	CreatedBy         uuid.UUID              `gorm:"column:created_by;type:uuid;not null"`
	UpdatedBy         *uuid.UUID             `gorm:"column:updated_by;type:uuid"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// QuantityAvailable is the sellable residual once reservations and
// damaged units are set aside.
func (b *StockBatch) QuantityAvailable() int {
	if b == nil {
		return 0
	}
	available := b.QuantityOnHand - b.QuantityReserved - b.QuantityDamaged
	if available < 0 {
		return 0
	}
	return available
}

// StockStatus derives the alert bucket from on-hand vs reorder level.
func (b *StockBatch) StockStatus() enums.StockStatus {
	switch {
	case b.QuantityOnHand <= 0:
		return enums.StockStatusOutOfStock
	case b.QuantityOnHand <= b.ReorderLevel:
		return enums.StockStatusLowStock
	default:
		return enums.StockStatusInStock
	}
}

// IsExpired reports whether the batch expired before the reference time.
func (b *StockBatch) IsExpired(at time.Time) bool {
	if b == nil || b.ExpiryDate == nil {
		return false
	}
	return b.ExpiryDate.Before(at)
}
