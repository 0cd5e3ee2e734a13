package enums

import "fmt"

// PrescriptionStatus tracks a clinician-issued prescription record.
type PrescriptionStatus string

const (
	PrescriptionStatusIssued    PrescriptionStatus = "issued"
	PrescriptionStatusDispensed PrescriptionStatus = "dispensed"
	PrescriptionStatusExpired   PrescriptionStatus = "expired"
	PrescriptionStatusCancelled PrescriptionStatus = "cancelled"
)

var validPrescriptionStatuses = []PrescriptionStatus{
	PrescriptionStatusIssued,
	PrescriptionStatusDispensed,
	PrescriptionStatusExpired,
	PrescriptionStatusCancelled,
}

// String implements fmt.Stringer.
func (p PrescriptionStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PrescriptionStatus.
func (p PrescriptionStatus) IsValid() bool {
	for _, candidate := range validPrescriptionStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePrescriptionStatus converts raw input into a PrescriptionStatus.
func ParsePrescriptionStatus(value string) (PrescriptionStatus, error) {
	for _, candidate := range validPrescriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid prescription status %q", value)
}
