package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// StockReservation records one order's hold on a ledger batch so that
// cancellation and dispensing know exactly which batch quantities to
// hand back or consume.
type StockReservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	BatchID   uuid.UUID               `gorm:"column:batch_id;type:uuid;not null;index"`
	DrugID    uuid.UUID               `gorm:"column:drug_id;type:uuid;not null"`
	Quantity  int                     `gorm:"column:quantity;not null"`
	Status    enums.ReservationStatus `gorm:"column:status;type:text;not null;default:'active'"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
