package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Pharmacy is a verified seller. Registration and verification live in a
// separate subsystem; orders only consume the delivery fee and rating.
type Pharmacy struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string          `gorm:"column:name;not null"`
	LicenseNumber string          `gorm:"column:license_number;uniqueIndex;not null"`
	AddressLine   string          `gorm:"column:address_line"`
	City          string          `gorm:"column:city"`
	Phone         *string         `gorm:"column:phone"`
	DeliveryFee   decimal.Decimal `gorm:"column:delivery_fee;type:decimal(10,2);not null;default:0"`
	AverageRating float64         `gorm:"column:average_rating;not null;default:0"`
	TotalRatings  int             `gorm:"column:total_ratings;not null;default:0"`
	IsActive      bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
