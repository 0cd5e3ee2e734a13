package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// Prescription is a clinician-issued record kept by an external
// subsystem. Orders link back to it after payment, best-effort.
type Prescription struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PatientID     uuid.UUID                `gorm:"column:patient_id;type:uuid;not null;index"`
	ClinicianID   uuid.UUID                `gorm:"column:clinician_id;type:uuid;not null"`
	Status        enums.PrescriptionStatus `gorm:"column:status;type:prescription_status;not null;default:'issued'"`
	PaymentStatus enums.PaymentStatus      `gorm:"column:payment_status;type:payment_status;not null;default:'unpaid'"`
	OrderID       *uuid.UUID               `gorm:"column:order_id;type:uuid"`
	IssuedAt      time.Time                `gorm:"column:issued_at;not null"`
	ExpiresAt     *time.Time               `gorm:"column:expires_at"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
