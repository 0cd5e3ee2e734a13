package enums

import "fmt"

// ScheduleClass is the regulatory schedule assigned to a drug. Schedules
// II through V carry the strictest purchase caps.
type ScheduleClass string

const (
	ScheduleClassOTC    ScheduleClass = "otc"
	ScheduleClassRxOnly ScheduleClass = "rx_only"
	ScheduleClassII     ScheduleClass = "schedule_ii"
	ScheduleClassIII    ScheduleClass = "schedule_iii"
	ScheduleClassIV     ScheduleClass = "schedule_iv"
	ScheduleClassV      ScheduleClass = "schedule_v"
)

var validScheduleClasses = []ScheduleClass{
	ScheduleClassOTC,
	ScheduleClassRxOnly,
	ScheduleClassII,
	ScheduleClassIII,
	ScheduleClassIV,
	ScheduleClassV,
}

// String implements fmt.Stringer.
func (s ScheduleClass) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ScheduleClass.
func (s ScheduleClass) IsValid() bool {
	for _, candidate := range validScheduleClasses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsControlled reports whether the class falls under controlled schedules.
func (s ScheduleClass) IsControlled() bool {
	switch s {
	case ScheduleClassII, ScheduleClassIII, ScheduleClassIV, ScheduleClassV:
		return true
	default:
		return false
	}
}

// ParseScheduleClass converts raw input into a ScheduleClass.
func ParseScheduleClass(value string) (ScheduleClass, error) {
	for _, candidate := range validScheduleClasses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid schedule class %q", value)
}
