package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// Order is a patient purchase from a single pharmacy. It is created
// pending, mutated exclusively through the fulfillment state machine and
// never deleted.
type Order struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber        string                   `gorm:"column:order_number;uniqueIndex;not null"`
	PatientID          uuid.UUID                `gorm:"column:patient_id;type:uuid;not null;index"`
	PharmacyID         uuid.UUID                `gorm:"column:pharmacy_id;type:uuid;not null;index"`
	PrescriptionID     *uuid.UUID               `gorm:"column:prescription_id;type:uuid"`
	PrescriptionFile   *string                  `gorm:"column:prescription_file"`
	OrderType          enums.OrderType          `gorm:"column:order_type;type:order_type;not null"`
	Status             enums.OrderStatus        `gorm:"column:status;type:order_status;not null;default:'pending';index"`
	PaymentStatus      enums.PaymentStatus      `gorm:"column:payment_status;type:payment_status;not null;default:'unpaid'"`
	PaymentMethod      *enums.PaymentMethod     `gorm:"column:payment_method;type:payment_method"`
	Subtotal           decimal.Decimal          `gorm:"column:subtotal;type:decimal(12,2);not null;default:0"`
	DeliveryFee        decimal.Decimal          `gorm:"column:delivery_fee;type:decimal(10,2);not null;default:0"`
	TotalAmount        decimal.Decimal          `gorm:"column:total_amount;type:decimal(12,2);not null;default:0"`
	AmountPaid         decimal.Decimal          `gorm:"column:amount_paid;type:decimal(12,2);not null;default:0"`
	WalletAmount       decimal.Decimal          `gorm:"column:wallet_amount;type:decimal(12,2);not null;default:0"`
	CardAmount         decimal.Decimal          `gorm:"column:card_amount;type:decimal(12,2);not null;default:0"`
	WalletReference    *string                  `gorm:"column:wallet_reference"`
	CardReference      *string                  `gorm:"column:card_reference"`
	DeliveryMethod     enums.DeliveryMethod     `gorm:"column:delivery_method;type:delivery_method;not null;default:'pickup'"`
	DeliveryAddress    *string                  `gorm:"column:delivery_address"`
	CourierReference   *string                  `gorm:"column:courier_reference"`
	VerificationStatus enums.VerificationStatus `gorm:"column:verification_status;type:verification_status;not null;default:'not_required'"`
	VerifiedBy         *uuid.UUID               `gorm:"column:verified_by;type:uuid"`
	VerifiedAt         *time.Time               `gorm:"column:verified_at"`
	PickupCode         *string                  `gorm:"column:pickup_code"`
	Rating             *int                     `gorm:"column:rating"`
	Review             *string                  `gorm:"column:review"`
	CancelReason       *string                  `gorm:"column:cancel_reason"`
	CancelledBy        *uuid.UUID               `gorm:"column:cancelled_by;type:uuid"`
	CancelledAt        *time.Time               `gorm:"column:cancelled_at"`
	DispensedAt        *time.Time               `gorm:"column:dispensed_at"`
	CompletedAt        *time.Time               `gorm:"column:completed_at"`
	Items              []OrderItem              `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	StatusHistory      []OrderStatusHistory     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// HasPrescriptionItems reports whether any line requires a prescription.
func (o *Order) HasPrescriptionItems() bool {
	if o == nil {
		return false
	}
	for _, item := range o.Items {
		if item.RequiresPrescription {
			return true
		}
	}
	return false
}
