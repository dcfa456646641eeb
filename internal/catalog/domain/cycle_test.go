package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingCycle_Advance(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 9, 30, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		cycle  BillingCycle
		start  time.Time
		anchor int
		want   time.Time
	}{
		{"monthly mid month", CycleMonthly, day(2026, 3, 15), 15, day(2026, 4, 15)},
		{"monthly clamps to short month", CycleMonthly, day(2026, 1, 31), 31, day(2026, 2, 28)},
		{"monthly returns to anchor", CycleMonthly, day(2026, 2, 28), 31, day(2026, 3, 31)},
		{"monthly leap year", CycleMonthly, day(2028, 1, 30), 30, day(2028, 2, 29)},
		{"monthly crosses year", CycleMonthly, day(2026, 12, 10), 10, day(2027, 1, 10)},
		{"yearly", CycleYearly, day(2026, 6, 1), 1, day(2027, 6, 1)},
		{"yearly from leap day", CycleYearly, day(2028, 2, 29), 29, day(2029, 2, 28)},
		{"lifetime", CycleLifetime, day(2026, 6, 1), 1, day(2126, 6, 1)},
		{"missing anchor uses start day", CycleMonthly, day(2026, 5, 20), 0, day(2026, 6, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cycle.Advance(tt.start, tt.anchor))
		})
	}
}

func TestParseBillingCycle(t *testing.T) {
	c, err := ParseBillingCycle("yearly")
	require.NoError(t, err)
	assert.Equal(t, CycleYearly, c)
	assert.True(t, c.IsRecurring())
	assert.False(t, CycleLifetime.IsRecurring())

	_, err = ParseBillingCycle("weekly")
	assert.ErrorIs(t, err, ErrUnknownBillingCycle)
}
