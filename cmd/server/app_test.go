package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	t.Setenv("BILLING_DB_PATH", filepath.Join(t.TempDir(), "billing.db"))
	t.Setenv("BILLING_BILLING_TIMEZONE", "UTC")
	t.Setenv("BILLING_LOG_LEVEL", "error")

	a, err := newApp("")
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewApp_DefaultsToMockGateway(t *testing.T) {
	a := newTestApp(t)

	require.NotNil(t, a.mock)
	assert.Equal(t, devWebhookSecret, a.webhookSecret)
	assert.Equal(t, "http://localhost:8080/mock-checkout", a.mock.BaseURL)
}

func TestSeed_IsIdempotent(t *testing.T) {
	// GIVEN: An empty database
	a := newTestApp(t)
	ctx := context.Background()

	// WHEN: Seeding twice
	require.NoError(t, a.seed(ctx, "A-1", "resident-1"))
	require.NoError(t, a.seed(ctx, "A-1", "resident-1"))

	// THEN: One house and the two default prices exist
	houses, err := a.store.ListHouses(ctx)
	require.NoError(t, err)
	require.Len(t, houses, 1)
	assert.Equal(t, billing.UserID("resident-1"), houses[0].UserID)

	settings, err := a.store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000", settings[billing.CategoryMonthlyBill].String())
	assert.Equal(t, "100", settings[billing.CategoryLateSurcharge].String())
}

func TestNewScheduler_RunsSeededBilling(t *testing.T) {
	// GIVEN: A seeded database
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.seed(ctx, "A-1", "resident-1"))

	s, err := a.newScheduler(ctx)
	require.NoError(t, err)
	require.Len(t, s.Jobs(), 2)

	// WHEN: The generator runs twice by hand
	first, err := s.RunNow(ctx, billing.JobGenerateInvoices)
	require.NoError(t, err)
	second, err := s.RunNow(ctx, billing.JobGenerateInvoices)
	require.NoError(t, err)

	// THEN: The house is billed once at the seeded price
	assert.Equal(t, 1, first.Generated)
	assert.Equal(t, 1, second.Skipped)

	invoices, err := a.store.ListInvoicesByUser(ctx, "resident-1")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "1000", invoices[0].Total().String())
}
