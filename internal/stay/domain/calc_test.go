package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysOfStay(t *testing.T) {
	admission := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		until time.Time
		want  int
	}{
		{"same instant bills one day", admission, 1},
		{"one hour bills one day", admission.Add(time.Hour), 1},
		{"exactly 24 hours bills one day", admission.Add(24 * time.Hour), 1},
		{"25 hours bills two days", admission.Add(25 * time.Hour), 2},
		{"exactly 48 hours bills two days", admission.Add(48 * time.Hour), 2},
		{"three days and a minute bills four days", admission.Add(72*time.Hour + time.Minute), 4},
		{"until before admission still bills one day", admission.Add(-time.Hour), 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DaysOfStay(admission, tc.until))
		})
	}
}

func TestEffectiveDailyRate(t *testing.T) {
	item := RateItem{DailyRateCents: 150_00}

	assert.Equal(t, int64(150_00), EffectiveDailyRate(item, nil))

	variant := &RateVariant{DailyRateCents: 220_00}
	assert.Equal(t, int64(220_00), EffectiveDailyRate(item, variant))

	zeroVariant := &RateVariant{DailyRateCents: 0}
	assert.Equal(t, int64(0), EffectiveDailyRate(item, zeroVariant))
}
