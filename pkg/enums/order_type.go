package enums

import "fmt"

// OrderType is derived from the prescription flags of an order's items.
type OrderType string

const (
	OrderTypeOTC          OrderType = "otc"
	OrderTypePrescription OrderType = "prescription"
	OrderTypeMixed        OrderType = "mixed"
)

var validOrderTypes = []OrderType{
	OrderTypeOTC,
	OrderTypePrescription,
	OrderTypeMixed,
}

// String implements fmt.Stringer.
func (o OrderType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderType.
func (o OrderType) IsValid() bool {
	for _, candidate := range validOrderTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// RequiresPrescription reports whether prescription gating applies.
func (o OrderType) RequiresPrescription() bool {
	return o == OrderTypePrescription || o == OrderTypeMixed
}

// ParseOrderType converts raw input into an OrderType.
func ParseOrderType(value string) (OrderType, error) {
	for _, candidate := range validOrderTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order type %q", value)
}
