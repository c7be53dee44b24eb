/*
Package gateway adapts external payment providers to billing.Gateway.

PURPOSE:
  StripeGateway creates hosted checkout sessions through the Stripe API.
  Verifier authenticates Stripe-signed webhook deliveries. MockGateway is
  an in-process stand-in used in tests and when no API key is configured.

AMOUNTS:
  The ledger stores major units (1100.00); Stripe expects integer minor
  units (110000). Conversion happens only here and in Verifier.

SEE ALSO:
  - billing/gateway.go: Capability interfaces
  - billing/session.go: Create/resume flow
*/
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/warp/billing-engine/billing"
)

var _ billing.Gateway = (*StripeGateway)(nil)

// StripeConfig configures a StripeGateway.
type StripeConfig struct {
	SecretKey string
	Currency  string // ISO code, lower case; defaults to "pkr"
	// FrontendURL is where the resident returns after checkout.
	FrontendURL string
	// Backend overrides the Stripe API backend (tests point it at httptest).
	Backend stripe.Backend
	// HTTPClient is used when Backend is nil.
	HTTPClient *http.Client
}

// StripeGateway implements billing.Gateway with Stripe Checkout.
type StripeGateway struct {
	sessions    session.Client
	currency    string
	frontendURL string
	logger      *slog.Logger
}

// NewStripe creates a gateway bound to a single API key. It does not touch
// the stripe package globals, so several gateways may coexist.
func NewStripe(cfg StripeConfig, logger *slog.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "pkr"
	}

	backend := cfg.Backend
	if backend == nil {
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient:        cfg.HTTPClient,
			MaxNetworkRetries: stripe.Int64(2),
		})
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeGateway{
		sessions:    session.Client{B: backend, Key: cfg.SecretKey},
		currency:    strings.ToLower(cfg.Currency),
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		logger:      logger.With("gateway", "stripe"),
	}, nil
}

// CreateCheckoutSession opens a one-line card payment page for the invoice.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (billing.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(g.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(billing.MinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.frontendURL + "/invoices/" + string(req.InvoiceID) + "?payment=success"),
		CancelURL:  stripe.String(g.frontendURL + "/invoices/" + string(req.InvoiceID) + "?payment=cancelled"),
	}
	params.Context = ctx
	params.AddMetadata(billing.MetadataInvoiceID, string(req.InvoiceID))
	params.AddMetadata(billing.MetadataUserID, string(req.UserID))

	s, err := g.sessions.New(params)
	if err != nil {
		return billing.CheckoutSession{}, fmt.Errorf("create stripe checkout session: %w", err)
	}
	g.logger.Debug("stripe session created", "session_id", s.ID, "invoice_id", req.InvoiceID)
	return fromStripe(s), nil
}

// RetrieveCheckoutSession fetches the current state of a session.
func (g *StripeGateway) RetrieveCheckoutSession(ctx context.Context, sessionID string) (billing.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.sessions.Get(sessionID, params)
	if err != nil {
		return billing.CheckoutSession{}, fmt.Errorf("retrieve stripe checkout session %s: %w", sessionID, err)
	}
	return fromStripe(s), nil
}

func fromStripe(s *stripe.CheckoutSession) billing.CheckoutSession {
	out := billing.CheckoutSession{
		ID:          s.ID,
		URL:         s.URL,
		Status:      billing.SessionStatus(s.Status),
		AmountTotal: billing.FromMinorUnits(s.AmountTotal),
		Metadata:    make(map[string]string, len(s.Metadata)),
	}
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return out
}
