package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/gateway"
)

// fakeStripe answers the two checkout session endpoints and records what
// it was sent.
type fakeStripe struct {
	mu       sync.Mutex
	method   string
	path     string
	auth     string
	form     url.Values
	status   string
	failWith int
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_ = r.ParseForm()
	f.method, f.path, f.auth, f.form = r.Method, r.URL.Path, r.Header.Get("Authorization"), r.PostForm

	w.Header().Set("Content-Type", "application/json")
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"upstream exploded"}}`))
		return
	}

	id := "cs_test_1"
	if strings.HasPrefix(r.URL.Path, "/v1/checkout/sessions/") {
		id = strings.TrimPrefix(r.URL.Path, "/v1/checkout/sessions/")
	}
	_, _ = w.Write([]byte(`{
		"id": "` + id + `",
		"object": "checkout.session",
		"url": "https://checkout.stripe.test/pay/` + id + `",
		"status": "` + f.status + `",
		"amount_total": 110000,
		"metadata": {"invoiceId": "inv-1", "userId": "user-1"}
	}`))
}

func (f *fakeStripe) last() (method, path, auth string, form url.Values) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.method, f.path, f.auth, f.form
}

func newStripeGateway(t *testing.T, fake *fakeStripe) *gateway.StripeGateway {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})

	gw, err := gateway.NewStripe(gateway.StripeConfig{
		SecretKey:   "sk_test_123",
		FrontendURL: "https://residents.test/",
		Backend:     backend,
	}, nil)
	require.NoError(t, err)
	return gw
}

// =============================================================================
// STRIPE GATEWAY TESTS
// =============================================================================

func TestStripeGateway_CreateCheckoutSession(t *testing.T) {
	// GIVEN: A gateway pointed at a fake Stripe API
	fake := &fakeStripe{status: "open"}
	gw := newStripeGateway(t, fake)

	// WHEN: A session for an invoice of 1100 is created
	cs, err := gw.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{
		InvoiceID:   "inv-1",
		UserID:      "user-1",
		Amount:      decimal.NewFromInt(1100),
		Description: "Invoice #inv-1",
	})
	require.NoError(t, err)

	// THEN: Stripe receives a one-line card payment in minor units
	method, path, auth, form := fake.last()
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/v1/checkout/sessions", path)
	assert.Equal(t, "Bearer sk_test_123", auth)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "card", form.Get("payment_method_types[0]"))
	assert.Equal(t, "110000", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "pkr", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "Invoice #inv-1", form.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "inv-1", form.Get("metadata[invoiceId]"))
	assert.Equal(t, "user-1", form.Get("metadata[userId]"))
	assert.Equal(t, "https://residents.test/invoices/inv-1?payment=success", form.Get("success_url"))
	assert.Equal(t, "https://residents.test/invoices/inv-1?payment=cancelled", form.Get("cancel_url"))

	// AND: The response is mapped back to major units
	assert.Equal(t, "cs_test_1", cs.ID)
	assert.Equal(t, "https://checkout.stripe.test/pay/cs_test_1", cs.URL)
	assert.Equal(t, billing.SessionOpen, cs.Status)
	assert.Equal(t, "1100", cs.AmountTotal.String())
	assert.Equal(t, map[string]string{billing.MetadataInvoiceID: "inv-1", billing.MetadataUserID: "user-1"}, cs.Metadata)
}

func TestStripeGateway_RetrieveCheckoutSession(t *testing.T) {
	fake := &fakeStripe{status: "complete"}
	gw := newStripeGateway(t, fake)

	cs, err := gw.RetrieveCheckoutSession(context.Background(), "cs_paid")
	require.NoError(t, err)

	method, path, _, _ := fake.last()
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "/v1/checkout/sessions/cs_paid", path)

	assert.Equal(t, "cs_paid", cs.ID)
	assert.Equal(t, billing.SessionComplete, cs.Status)
	assert.True(t, cs.AmountTotal.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, "inv-1", cs.Metadata[billing.MetadataInvoiceID])
}

func TestStripeGateway_ExpiredStatus(t *testing.T) {
	gw := newStripeGateway(t, &fakeStripe{status: "expired"})

	cs, err := gw.RetrieveCheckoutSession(context.Background(), "cs_old")
	require.NoError(t, err)
	assert.Equal(t, billing.SessionExpired, cs.Status)
}

func TestStripeGateway_APIErrorIsReturned(t *testing.T) {
	gw := newStripeGateway(t, &fakeStripe{failWith: http.StatusInternalServerError})

	_, err := gw.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{
		InvoiceID: "inv-1",
		UserID:    "user-1",
		Amount:    decimal.NewFromInt(1000),
	})
	require.Error(t, err)

	var stripeErr *stripe.Error
	require.True(t, errors.As(err, &stripeErr))
	assert.Equal(t, http.StatusInternalServerError, stripeErr.HTTPStatusCode)
}

func TestNewStripe_RequiresKey(t *testing.T) {
	_, err := gateway.NewStripe(gateway.StripeConfig{}, nil)
	assert.Error(t, err)
}
