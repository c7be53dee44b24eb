package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
)

// =============================================================================
// INVOICE GENERATOR TESTS
// =============================================================================

func TestInvoiceGenerator_OneInvoicePerHousePerMonth(t *testing.T) {
	// GIVEN: Two houses with residents and no invoices
	// WHEN: The generator runs twice in the same month
	// THEN: Each house has exactly one invoice with one MONTHLY_BILL item

	f := newFixture(t, march1)
	f.addHouse(t, "h-1", "A-1", "user-1")
	f.addHouse(t, "h-2", "A-2", "user-2")

	report, err := f.generator.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Generated)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, billing.JobGenerateInvoices, report.Job)

	f.clock.Advance(3 * 24 * time.Hour)
	report, err = f.generator.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Generated, "rerun in same month must not create invoices")
	assert.Equal(t, 2, report.Skipped)

	for _, user := range []string{"user-1", "user-2"} {
		inv := f.onlyInvoice(t, user)
		require.Len(t, inv.Items, 1)
		assert.Equal(t, billing.CategoryMonthlyBill, inv.Items[0].Category)
		assert.Equal(t, "100", inv.Total().String(), "default monthly bill applies without settings")
	}
}

func TestInvoiceGenerator_NewMonthGetsNewInvoice(t *testing.T) {
	f := newFixture(t, march1)
	f.addHouse(t, "h-1", "A-1", "user-1")

	_, err := f.generator.Run(f.ctx)
	require.NoError(t, err)

	f.clock.Set(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	report, err := f.generator.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)

	assert.Len(t, f.invoicesOf(t, "user-1"), 2)
}

func TestInvoiceGenerator_PriceChangeAppliesToNextRun(t *testing.T) {
	// GIVEN: Monthly bill set to 1000
	// WHEN: An admin changes it to 1200 before the next month's run
	// THEN: The next invoice uses 1200 without any restart

	f := newFixture(t, march1)
	f.addHouse(t, "h-1", "A-1", "user-1")
	f.setPrice(t, billing.CategoryMonthlyBill, 1000)

	_, err := f.generator.Run(f.ctx)
	require.NoError(t, err)

	f.setPrice(t, billing.CategoryMonthlyBill, 1200)
	f.clock.Set(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	_, err = f.generator.Run(f.ctx)
	require.NoError(t, err)

	invoices := f.invoicesOf(t, "user-1")
	require.Len(t, invoices, 2)
	assert.Equal(t, "1200", invoices[0].Total().String())
	assert.Equal(t, "1000", invoices[1].Total().String())
}

func TestInvoiceGenerator_NoHouses(t *testing.T) {
	f := newFixture(t, march1)

	report, err := f.generator.Run(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Generated)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)
}

func TestInvoiceGenerator_HouseWithoutResident(t *testing.T) {
	f := newFixture(t, march1)
	f.addHouse(t, "h-1", "A-1", "")
	f.addHouse(t, "h-2", "A-2", "user-2")

	report, err := f.generator.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, report.Failed)
}

func TestInvoiceGenerator_TimestampTruncatedToSeconds(t *testing.T) {
	now := march1.Add(750 * time.Millisecond)
	f := newFixture(t, now)
	f.addHouse(t, "h-1", "A-1", "user-1")

	_, err := f.generator.Run(f.ctx)
	require.NoError(t, err)

	inv := f.onlyInvoice(t, "user-1")
	assert.True(t, inv.CreatedAt.Equal(march1), "got %s", inv.CreatedAt)
}

func TestInvoiceGenerator_StoreFailureAbortsRun(t *testing.T) {
	f := newFixture(t, march1)
	f.addHouse(t, "h-1", "A-1", "user-1")
	f.store.FailWith("CreateInvoice", errors.New("disk I/O error"))

	_, err := f.generator.Run(f.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrStoreUnavailable)
	assert.True(t, billing.IsRetryable(err))

	// Recovery: the next run picks the house up.
	f.store.FailWith("CreateInvoice", nil)
	report, err := f.generator.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)
}

func TestInvoiceGenerator_SettingsFailureDoesNotBillDefaults(t *testing.T) {
	f := newFixture(t, march1)
	f.addHouse(t, "h-1", "A-1", "user-1")
	f.store.FailWith("Settings", errors.New("connection reset"))

	_, err := f.generator.Run(f.ctx)
	require.ErrorIs(t, err, billing.ErrStoreUnavailable)
	assert.Empty(t, f.invoicesOf(t, "user-1"))
}

// staleHouses lists a house that no longer exists ahead of the real ones,
// as if it were deleted between ListHouses and CreateInvoice.
type staleHouses struct {
	*store.Memory
}

func (s staleHouses) ListHouses(ctx context.Context) ([]billing.House, error) {
	houses, err := s.Memory.ListHouses(ctx)
	if err != nil {
		return nil, err
	}
	gone := billing.House{ID: "h-gone", HouseNo: "Z-9", UserID: "user-gone"}
	return append([]billing.House{gone}, houses...), nil
}

func TestInvoiceGenerator_DeletedHouseDoesNotAbortRun(t *testing.T) {
	// GIVEN: A house that vanishes mid-run, listed before a real one
	// WHEN: The generator runs
	// THEN: The vanished house is counted as failed and the real one is billed

	f := newFixture(t, march1)
	f.addHouse(t, "h-1", "A-1", "user-1")

	gen := billing.NewInvoiceGenerator(staleHouses{f.store}, f.pricing, nil)
	gen.Location = time.UTC
	gen.Now = f.clock.Now

	report, err := gen.Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, report.Failed)
	f.onlyInvoice(t, "user-1")
}
