package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// OrderLineInput is one requested drug line. BatchID, when set, pins
// the line to a specific batch instead of oldest-expiry-first.
type OrderLineInput struct {
	DrugID   uuid.UUID  `json:"drug_id" validate:"required"`
	Quantity int        `json:"quantity" validate:"required,gt=0"`
	BatchID  *uuid.UUID `json:"batch_id,omitempty"`
}

// CreateOrderInput carries everything needed to open an order.
type CreateOrderInput struct {
	PatientID        uuid.UUID            `json:"patient_id" validate:"required"`
	PharmacyID       uuid.UUID            `json:"pharmacy_id" validate:"required"`
	Items            []OrderLineInput     `json:"items" validate:"required,min=1,dive"`
	DeliveryMethod   enums.DeliveryMethod `json:"delivery_method"`
	DeliveryAddress  *string              `json:"delivery_address,omitempty"`
	PrescriptionID   *uuid.UUID           `json:"prescription_id,omitempty"`
	PrescriptionFile *string              `json:"prescription_file,omitempty"`
}

// PaymentInput records an external payment against an order.
type PaymentInput struct {
	OrderID   uuid.UUID           `json:"order_id"`
	Amount    decimal.Decimal     `json:"amount"`
	Method    enums.PaymentMethod `json:"method"`
	Reference *string             `json:"reference,omitempty"`
}

// SplitPaymentInput settles an order from the wallet plus a card.
type SplitPaymentInput struct {
	OrderID       uuid.UUID       `json:"order_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	WalletAmount  decimal.Decimal `json:"wallet_amount"`
	CardAmount    decimal.Decimal `json:"card_amount"`
	CardReference string          `json:"card_reference"`
}

// VerifyPrescriptionInput records the pharmacist's review decision.
type VerifyPrescriptionInput struct {
	OrderID    uuid.UUID `json:"order_id"`
	VerifierID uuid.UUID `json:"verifier_id"`
	Approve    bool      `json:"approve"`
	Note       *string   `json:"note,omitempty"`
}

// DispenseInput triggers physical fulfillment of a paid order.
// BatchOverrides maps order item ids to explicitly chosen batches.
type DispenseInput struct {
	OrderID        uuid.UUID               `json:"order_id"`
	PerformedBy    uuid.UUID               `json:"performed_by"`
	BatchOverrides map[uuid.UUID]uuid.UUID `json:"batch_overrides,omitempty"`
}

// CancelOrderInput records who cancelled and why.
type CancelOrderInput struct {
	OrderID uuid.UUID `json:"order_id"`
	ActorID uuid.UUID `json:"actor_id"`
	Reason  string    `json:"reason"`
}

// RateOrderInput carries a patient's post-fulfillment rating.
type RateOrderInput struct {
	OrderID   uuid.UUID `json:"order_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Rating    int       `json:"rating"`
	Review    *string   `json:"review,omitempty"`
}

// UpdateStatusInput moves an order through the generic guarded path.
type UpdateStatusInput struct {
	OrderID uuid.UUID         `json:"order_id"`
	To      enums.OrderStatus `json:"to"`
	ActorID uuid.UUID         `json:"actor_id"`
	Note    *string           `json:"note,omitempty"`
}
