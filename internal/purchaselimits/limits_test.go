package purchaselimits

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

func TestResolveLimitsDrugOverrideWins(t *testing.T) {
	t.Parallel()

	resolved := resolveLimits(enums.PurchaseTypeControlled, enums.ScheduleClassII, 4, 8, 14, true)
	assert.Equal(t, 4, resolved.PerOrder)
	assert.Equal(t, 8, resolved.PerPeriod)
	assert.Equal(t, 14, resolved.PeriodDays)
}

func TestResolveLimitsScheduleBeatsPurchaseType(t *testing.T) {
	t.Parallel()

	resolved := resolveLimits(enums.PurchaseTypeControlled, enums.ScheduleClassIV, 0, 0, 0, true)
	assert.Equal(t, 2, resolved.PerOrder, "schedule IV default, not the controlled purchase-type default")
	assert.Equal(t, 4, resolved.PerPeriod)
}

func TestResolveLimitsScheduleIgnoredForUncontrolled(t *testing.T) {
	t.Parallel()

	// rx_only is not a controlled schedule, so the purchase-type table
	// answers even though a schedule class is present.
	resolved := resolveLimits(enums.PurchaseTypePrescriptionOnly, enums.ScheduleClassRxOnly, 0, 0, 0, false)
	assert.Equal(t, 1, resolved.PerOrder)
	assert.Equal(t, 3, resolved.PerPeriod)
	assert.Equal(t, 30, resolved.PeriodDays)
}

func TestResolveLimitsPeriodDaysFallback(t *testing.T) {
	t.Parallel()

	resolved := resolveLimits(enums.PurchaseTypeGeneralOTC, enums.ScheduleClassOTC, 0, 0, 0, false)
	assert.Equal(t, defaultPeriodDays, resolved.PeriodDays)
}
