package enums

import "fmt"

// PurchaseType classifies how a drug may be sold and which default
// purchase caps apply to it.
type PurchaseType string

const (
	PurchaseTypeGeneralOTC       PurchaseType = "general_otc"
	PurchaseTypeRestrictedOTC    PurchaseType = "restricted_otc"
	PurchaseTypePharmacyOnly     PurchaseType = "pharmacy_only"
	PurchaseTypePrescriptionOnly PurchaseType = "prescription_only"
	PurchaseTypeControlled       PurchaseType = "controlled"
)

var validPurchaseTypes = []PurchaseType{
	PurchaseTypeGeneralOTC,
	PurchaseTypeRestrictedOTC,
	PurchaseTypePharmacyOnly,
	PurchaseTypePrescriptionOnly,
	PurchaseTypeControlled,
}

// String implements fmt.Stringer.
func (p PurchaseType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PurchaseType.
func (p PurchaseType) IsValid() bool {
	for _, candidate := range validPurchaseTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePurchaseType converts raw input into a PurchaseType.
func ParsePurchaseType(value string) (PurchaseType, error) {
	for _, candidate := range validPurchaseTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase type %q", value)
}
