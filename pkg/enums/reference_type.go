package enums

import "fmt"

// ReferenceType tags what an inventory adjustment points back to.
type ReferenceType string

const (
	ReferenceTypeOrder      ReferenceType = "order"
	ReferenceTypeTransfer   ReferenceType = "transfer"
	ReferenceTypeStockCount ReferenceType = "stock_count"
	ReferenceTypeManual     ReferenceType = "manual"
)

var validReferenceTypes = []ReferenceType{
	ReferenceTypeOrder,
	ReferenceTypeTransfer,
	ReferenceTypeStockCount,
	ReferenceTypeManual,
}

// String implements fmt.Stringer.
func (r ReferenceType) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReferenceType.
func (r ReferenceType) IsValid() bool {
	for _, candidate := range validReferenceTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReferenceType converts raw input into a ReferenceType.
func ParseReferenceType(value string) (ReferenceType, error) {
	for _, candidate := range validReferenceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reference type %q", value)
}
