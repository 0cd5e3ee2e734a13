package enums

import "fmt"

// DispensingMethod selects the batch ordering policy used when stock is
// consumed. The default consumes the oldest expiry first.
type DispensingMethod string

const (
	DispensingMethodOldestExpiryFirst DispensingMethod = "oldest_expiry_first"
	DispensingMethodFirstInFirstOut   DispensingMethod = "first_in_first_out"
	DispensingMethodManual            DispensingMethod = "manual"
)

var validDispensingMethods = []DispensingMethod{
	DispensingMethodOldestExpiryFirst,
	DispensingMethodFirstInFirstOut,
	DispensingMethodManual,
}

// String implements fmt.Stringer.
func (d DispensingMethod) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DispensingMethod.
func (d DispensingMethod) IsValid() bool {
	for _, candidate := range validDispensingMethods {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDispensingMethod converts raw input into a DispensingMethod.
func ParseDispensingMethod(value string) (DispensingMethod, error) {
	for _, candidate := range validDispensingMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispensing method %q", value)
}
