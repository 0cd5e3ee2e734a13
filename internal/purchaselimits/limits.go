package purchaselimits

import "github.com/medmarkethq/medmarket-backend/pkg/enums"

// Limit is one quantity cap pair: a per-order ceiling and a rolling
// period ceiling over PeriodDays. A zero field means "no cap at this
// level", deferring to the next table in the override chain.
type Limit struct {
	PerOrder   int
	PerPeriod  int
	PeriodDays int
}

// defaultPeriodDays applies when no table or drug supplies a window.
const defaultPeriodDays = 30

// warningThreshold is the fraction of a period cap that triggers an
// informational warning once crossed.
const warningThreshold = 0.8

// purchaseTypeLimits is the base table keyed by regulatory purchase
// type. Built once, never mutated.
var purchaseTypeLimits = map[enums.PurchaseType]Limit{
	enums.PurchaseTypeGeneralOTC:       {PerOrder: 10, PerPeriod: 30, PeriodDays: 30},
	enums.PurchaseTypeRestrictedOTC:    {PerOrder: 3, PerPeriod: 6, PeriodDays: 30},
	enums.PurchaseTypePharmacyOnly:     {PerOrder: 5, PerPeriod: 10, PeriodDays: 30},
	enums.PurchaseTypePrescriptionOnly: {PerOrder: 1, PerPeriod: 3, PeriodDays: 30},
	enums.PurchaseTypeControlled:       {PerOrder: 1, PerPeriod: 2, PeriodDays: 30},
}

// scheduleClassLimits overrides the purchase-type table for scheduled
// (controlled) substances, tightest schedule first.
var scheduleClassLimits = map[enums.ScheduleClass]Limit{
	enums.ScheduleClassII:  {PerOrder: 1, PerPeriod: 1, PeriodDays: 30},
	enums.ScheduleClassIII: {PerOrder: 1, PerPeriod: 2, PeriodDays: 30},
	enums.ScheduleClassIV:  {PerOrder: 2, PerPeriod: 4, PeriodDays: 30},
	enums.ScheduleClassV:   {PerOrder: 3, PerPeriod: 6, PeriodDays: 30},
}

// resolvedLimit is the outcome of the two-level override chain for one
// drug: a drug-level cap wins, then the schedule table for controlled
// substances, then the purchase-type table.
type resolvedLimit struct {
	PerOrder   int
	PerPeriod  int
	PeriodDays int
	Controlled bool
}

func resolveLimits(purchaseType enums.PurchaseType, schedule enums.ScheduleClass, perOrder, perPeriod, periodDays int, controlled bool) resolvedLimit {
	resolved := resolvedLimit{Controlled: controlled}

	scheduleLimit, hasSchedule := scheduleClassLimits[schedule]
	typeLimit := purchaseTypeLimits[purchaseType]

	switch {
	case perOrder > 0:
		resolved.PerOrder = perOrder
	case controlled && hasSchedule:
		resolved.PerOrder = scheduleLimit.PerOrder
	default:
		resolved.PerOrder = typeLimit.PerOrder
	}

	switch {
	case perPeriod > 0:
		resolved.PerPeriod = perPeriod
	case controlled && hasSchedule:
		resolved.PerPeriod = scheduleLimit.PerPeriod
	default:
		resolved.PerPeriod = typeLimit.PerPeriod
	}

	switch {
	case periodDays > 0:
		resolved.PeriodDays = periodDays
	case controlled && hasSchedule:
		resolved.PeriodDays = scheduleLimit.PeriodDays
	case typeLimit.PeriodDays > 0:
		resolved.PeriodDays = typeLimit.PeriodDays
	default:
		resolved.PeriodDays = defaultPeriodDays
	}

	return resolved
}
