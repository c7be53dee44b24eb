package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/billing-engine/billing"
)

func TestMonthWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid month",
			now:       time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, time.March, 31, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "first instant",
			now:       time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, time.April, 30, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "december wraps year",
			now:       time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, time.December, 31, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:      "leap february",
			now:       time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, time.February, 29, 23, 59, 59, 999999999, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := billing.MonthWindow(tt.now, time.UTC)
			assert.True(t, w.Start.Equal(tt.wantStart), "start %s", w.Start)
			assert.True(t, w.End.Equal(tt.wantEnd), "end %s", w.End)
			assert.True(t, w.Contains(tt.now))
			assert.False(t, w.Contains(tt.wantEnd.Add(time.Nanosecond)))
		})
	}
}

func TestMonthWindow_UsesLocation(t *testing.T) {
	karachi := time.FixedZone("PKT", 5*60*60)
	// 21:00 UTC on March 31 is already April 1 in Karachi.
	now := time.Date(2025, time.March, 31, 21, 0, 0, 0, time.UTC)

	w := billing.MonthWindow(now, karachi)
	assert.Equal(t, time.April, w.Start.Month())
	assert.True(t, w.Contains(now))
}

func TestGraceCutoff(t *testing.T) {
	now := time.Date(2025, time.March, 10, 8, 30, 0, 0, time.UTC)

	cutoff := billing.GraceCutoff(now, 5, time.UTC)
	assert.True(t, cutoff.Equal(time.Date(2025, time.March, 5, 23, 59, 59, 999999999, time.UTC)))

	cutoff = billing.GraceCutoff(now, 0, time.UTC)
	assert.True(t, cutoff.Equal(billing.EndOfDay(now, time.UTC)))
}

func TestInvoiceTimestamp(t *testing.T) {
	now := time.Date(2025, time.March, 1, 0, 0, 59, 999000000, time.UTC)
	assert.Equal(t, 0, billing.InvoiceTimestamp(now).Nanosecond())
	assert.Equal(t, 59, billing.InvoiceTimestamp(now).Second())
}
