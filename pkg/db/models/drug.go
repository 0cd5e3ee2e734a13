package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// Drug is a catalog entry owned by the catalog subsystem. The purchase
// caps and the legacy flat stock quantity are consumed here.
type Drug struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                 string              `gorm:"column:name;not null;index"`
	GenericName          *string             `gorm:"column:generic_name"`
	Strength             string              `gorm:"column:strength"`
	Manufacturer         *string             `gorm:"column:manufacturer"`
	PurchaseType         enums.PurchaseType  `gorm:"column:purchase_type;type:purchase_type;not null;default:'general_otc'"`
	ScheduleClass        enums.ScheduleClass `gorm:"column:schedule_class;type:schedule_class;not null;default:'otc'"`
	MaxQuantityPerOrder  int                 `gorm:"column:max_quantity_per_order;not null;default:0"`
	MaxQuantityPerPeriod int                 `gorm:"column:max_quantity_per_period;not null;default:0"`
	PeriodDays           int                 `gorm:"column:period_days;not null;default:0"`
	MinAge               int                 `gorm:"column:min_age;not null;default:0"`
	RequiresPrescription bool                `gorm:"column:requires_prescription;not null;default:false"`
	SellingPrice         decimal.Decimal     `gorm:"column:selling_price;type:decimal(10,2);not null;default:0"`
	CostPrice            decimal.Decimal     `gorm:"column:cost_price;type:decimal(10,2);not null;default:0"`
	StockQuantity        int                 `gorm:"column:stock_quantity;not null;default:0"`
	Symptoms             pq.StringArray      `gorm:"column:symptoms;type:text[]"`
	Tags                 pq.StringArray      `gorm:"column:tags;type:text[]"`
	IsActive             bool                `gorm:"column:is_active;not null;default:true"`
	IsAvailable          bool                `gorm:"column:is_available;not null;default:true"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsControlled reports whether the drug falls under controlled-substance
// purchase rules.
func (d *Drug) IsControlled() bool {
	if d == nil {
		return false
	}
	return d.PurchaseType == enums.PurchaseTypeControlled || d.ScheduleClass.IsControlled()
}
