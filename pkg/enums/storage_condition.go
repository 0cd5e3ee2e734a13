package enums

import "fmt"

// StorageCondition records how a batch must be stored.
type StorageCondition string

const (
	StorageConditionRoomTemperature StorageCondition = "room_temperature"
	StorageConditionRefrigerated    StorageCondition = "refrigerated"
	StorageConditionFrozen          StorageCondition = "frozen"
	StorageConditionCoolDry         StorageCondition = "cool_dry"
)

var validStorageConditions = []StorageCondition{
	StorageConditionRoomTemperature,
	StorageConditionRefrigerated,
	StorageConditionFrozen,
	StorageConditionCoolDry,
}

// String implements fmt.Stringer.
func (s StorageCondition) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StorageCondition.
func (s StorageCondition) IsValid() bool {
	for _, candidate := range validStorageConditions {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStorageCondition converts raw input into a StorageCondition.
func ParseStorageCondition(value string) (StorageCondition, error) {
	for _, candidate := range validStorageConditions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid storage condition %q", value)
}
