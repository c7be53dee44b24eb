package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// GATEWAY - Capabilities consumed from the external payment provider
// =============================================================================

// SessionStatus is the state of a hosted checkout page.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// Metadata keys attached to every checkout session. The reconciler uses
// them to find the invoice a completion event refers to.
const (
	MetadataInvoiceID = "invoiceId"
	MetadataUserID    = "userId"
)

// CheckoutRequest describes a checkout session to create.
type CheckoutRequest struct {
	InvoiceID   InvoiceID
	UserID      UserID
	Amount      decimal.Decimal // major units
	Description string
}

// CheckoutSession is a gateway-hosted payment page.
type CheckoutSession struct {
	ID          string
	URL         string
	Status      SessionStatus
	AmountTotal decimal.Decimal // major units, zero if unknown
	Metadata    map[string]string
}

// Gateway creates and inspects checkout sessions.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
}

// EventType identifies a webhook event.
type EventType string

// EventCheckoutSessionCompleted is sent when a customer finishes paying.
const EventCheckoutSessionCompleted EventType = "checkout.session.completed"

// Event is a verified webhook notification. Session is set for
// checkout session events.
type Event struct {
	ID      string
	Type    EventType
	Session *CheckoutSession
}

// WebhookVerifier authenticates raw webhook payloads. It returns an error
// wrapping ErrVerification when the signature does not match.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (Event, error)
}

// MinorUnits converts a major-unit amount to the gateway's integer minor
// units (e.g. 11.5 -> 1150), rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts gateway minor units back to major units.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
