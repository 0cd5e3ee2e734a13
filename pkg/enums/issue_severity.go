package enums

// IssueSeverity grades purchase validation findings. Critical and high
// findings block order creation; low and medium do not.
type IssueSeverity string

const (
	IssueSeverityLow      IssueSeverity = "low"
	IssueSeverityMedium   IssueSeverity = "medium"
	IssueSeverityHigh     IssueSeverity = "high"
	IssueSeverityCritical IssueSeverity = "critical"
)

// String implements fmt.Stringer.
func (i IssueSeverity) String() string {
	return string(i)
}

// Blocks reports whether the severity prevents order creation.
func (i IssueSeverity) Blocks() bool {
	return i == IssueSeverityHigh || i == IssueSeverityCritical
}
