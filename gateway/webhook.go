package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// WEBHOOK VERIFIER - Stripe-Signature authentication
// =============================================================================

var _ billing.WebhookVerifier = (*Verifier)(nil)

// Verifier checks the Stripe-Signature header against the endpoint secret
// and decodes checkout session events.
type Verifier struct {
	Secret    string
	Tolerance time.Duration
}

// NewVerifier creates a verifier with Stripe's default timestamp tolerance.
func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: secret, Tolerance: webhook.DefaultTolerance}
}

// Verify authenticates payload and converts it to a billing event.
// Signature failures wrap billing.ErrVerification; a verified payload
// whose session cannot be decoded wraps billing.ErrMalformedEvent.
func (v *Verifier) Verify(payload []byte, signature string) (billing.Event, error) {
	if v.Secret == "" {
		return billing.Event{}, fmt.Errorf("%w: webhook secret not configured", billing.ErrVerification)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.Secret, webhook.ConstructEventOptions{
		Tolerance:                v.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return billing.Event{}, fmt.Errorf("%w: %w", billing.ErrVerification, err)
	}

	out := billing.Event{ID: event.ID, Type: billing.EventType(event.Type)}
	if !isCheckoutSessionEvent(out.Type) || event.Data == nil {
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return billing.Event{}, fmt.Errorf("%w: decode checkout session: %w", billing.ErrMalformedEvent, err)
	}
	cs := fromStripe(&s)
	out.Session = &cs
	return out, nil
}

func isCheckoutSessionEvent(t billing.EventType) bool {
	return strings.HasPrefix(string(t), "checkout.session.")
}

// =============================================================================
// TEST PAYLOADS
// =============================================================================

// SessionEventPayload builds a Stripe-shaped event body for a checkout
// session. Used by tests and the mock gateway.
func SessionEventPayload(eventID string, eventType billing.EventType, s billing.CheckoutSession) []byte {
	body := map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        string(eventType),
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":           s.ID,
				"object":       "checkout.session",
				"url":          s.URL,
				"status":       string(s.Status),
				"amount_total": billing.MinorUnits(s.AmountTotal),
				"metadata":     s.Metadata,
			},
		},
	}
	payload, _ := json.Marshal(body)
	return payload
}

// Sign returns a valid Stripe-Signature header for payload.
func Sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	return signed.Header
}
