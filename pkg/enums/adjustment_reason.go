package enums

import "fmt"

// AdjustmentReason maps to the adjustment_reason enum in Postgres. Every
// mutation of a stock batch records exactly one reason.
type AdjustmentReason string

const (
	AdjustmentReasonReceived           AdjustmentReason = "received"
	AdjustmentReasonReserved           AdjustmentReason = "reserved"
	AdjustmentReasonUnreserved         AdjustmentReason = "unreserved"
	AdjustmentReasonDispensed          AdjustmentReason = "dispensed"
	AdjustmentReasonDamaged            AdjustmentReason = "damaged"
	AdjustmentReasonExpired            AdjustmentReason = "expired"
	AdjustmentReasonReturned           AdjustmentReason = "returned"
	AdjustmentReasonCountingAdjustment AdjustmentReason = "counting_adjustment"
	AdjustmentReasonTransferIn         AdjustmentReason = "transfer_in"
	AdjustmentReasonTransferOut        AdjustmentReason = "transfer_out"
)

var validAdjustmentReasons = []AdjustmentReason{
	AdjustmentReasonReceived,
	AdjustmentReasonReserved,
	AdjustmentReasonUnreserved,
	AdjustmentReasonDispensed,
	AdjustmentReasonDamaged,
	AdjustmentReasonExpired,
	AdjustmentReasonReturned,
	AdjustmentReasonCountingAdjustment,
	AdjustmentReasonTransferIn,
	AdjustmentReasonTransferOut,
}

// String implements fmt.Stringer.
func (a AdjustmentReason) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AdjustmentReason.
func (a AdjustmentReason) IsValid() bool {
	for _, candidate := range validAdjustmentReasons {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAdjustmentReason converts raw input into an AdjustmentReason.
func ParseAdjustmentReason(value string) (AdjustmentReason, error) {
	for _, candidate := range validAdjustmentReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid adjustment reason %q", value)
}
