package domain

import (
	"math"
	"time"
)

// DaysOfStay returns the number of billable days between admission and the
// given end instant. Partial days round up and a stay never bills fewer
// than one day.
func DaysOfStay(admission, until time.Time) int {
	elapsed := until.Sub(admission)
	days := int(math.Ceil(elapsed.Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// EffectiveDailyRate returns the variant override when a variant is
// selected, otherwise the item's base rate.
func EffectiveDailyRate(item RateItem, variant *RateVariant) int64 {
	if variant != nil {
		return variant.DailyRateCents
	}
	return item.DailyRateCents
}
