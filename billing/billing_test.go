package billing_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/gateway"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const webhookSecret = "whsec_test_secret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

type fixture struct {
	ctx        context.Context
	clock      *testClock
	store      *store.Memory
	gateway    *gateway.MockGateway
	pricing    *billing.PricingResolver
	generator  *billing.InvoiceGenerator
	escalator  *billing.SurchargeEscalator
	sessions   *billing.SessionManager
	reconciler *billing.Reconciler
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: now}
	mem := store.NewMemory()
	gw := gateway.NewMockGateway("")
	pricing := billing.NewPricingResolver(mem, nil)

	gen := billing.NewInvoiceGenerator(mem, pricing, logger)
	gen.Location = time.UTC
	gen.Now = clock.Now

	esc := billing.NewSurchargeEscalator(mem, pricing, logger)
	esc.Location = time.UTC
	esc.Now = clock.Now

	sm := billing.NewSessionManager(mem, gw, logger)
	sm.Now = clock.Now

	rec := billing.NewReconciler(mem, gateway.NewVerifier(webhookSecret), logger)
	rec.Now = clock.Now

	return &fixture{
		ctx:        context.Background(),
		clock:      clock,
		store:      mem,
		gateway:    gw,
		pricing:    pricing,
		generator:  gen,
		escalator:  esc,
		sessions:   sm,
		reconciler: rec,
	}
}

func (f *fixture) addHouse(t *testing.T, id, houseNo, userID string) {
	t.Helper()
	require.NoError(t, f.store.SaveHouse(f.ctx, billing.House{
		ID:        billing.HouseID(id),
		HouseNo:   houseNo,
		UserID:    billing.UserID(userID),
		CreatedAt: f.clock.Now(),
	}))
}

func (f *fixture) setPrice(t *testing.T, c billing.Category, value int64) {
	t.Helper()
	require.NoError(t, f.store.PutSetting(f.ctx, billing.Setting{
		Key:       c,
		Value:     decimal.NewFromInt(value),
		UpdatedAt: f.clock.Now(),
	}))
}

// invoicesOf returns the user's invoices, newest first.
func (f *fixture) invoicesOf(t *testing.T, userID string) []billing.Invoice {
	t.Helper()
	invoices, err := f.store.ListInvoicesByUser(f.ctx, billing.UserID(userID))
	require.NoError(t, err)
	return invoices
}

func (f *fixture) onlyInvoice(t *testing.T, userID string) billing.Invoice {
	t.Helper()
	invoices := f.invoicesOf(t, userID)
	require.Len(t, invoices, 1)
	return invoices[0]
}

func (f *fixture) reload(t *testing.T, id billing.InvoiceID) *billing.Invoice {
	t.Helper()
	inv, err := f.store.GetInvoice(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// march1 is a fixed reference instant for billing runs.
var march1 = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
