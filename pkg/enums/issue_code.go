package enums

// IssueCode identifies a machine-readable purchase validation finding.
type IssueCode string

const (
	IssueCodeDrugNotFound         IssueCode = "DRUG_NOT_FOUND"
	IssueCodeDrugUnavailable      IssueCode = "DRUG_UNAVAILABLE"
	IssueCodeMinAgeRequired       IssueCode = "MIN_AGE_REQUIRED"
	IssueCodeExceedsOrderLimit    IssueCode = "EXCEEDS_ORDER_LIMIT"
	IssueCodeExceedsPeriodLimit   IssueCode = "EXCEEDS_PERIOD_LIMIT"
	IssueCodeControlledSubstance  IssueCode = "CONTROLLED_SUBSTANCE"
	IssueCodePrescriptionRequired IssueCode = "PRESCRIPTION_REQUIRED"
)

// String implements fmt.Stringer.
func (i IssueCode) String() string {
	return string(i)
}
