/*
reconcile.go - Webhook-driven settlement

PURPOSE:
  Applies verified payment-completion events from the gateway to the
  ledger. Deliveries are at-least-once, so applying the same completion
  twice is a no-op that keeps the first completion timestamp.

OUTCOMES:
  completed  the transaction moved to COMPLETED
  duplicate  it was already COMPLETED, nothing changed
  ignored    the event type is not one we act on

ERRORS:
  ErrVerification    bad signature; HTTP layer answers 400 so the gateway retries
  ErrMalformedEvent  verified but unusable (undecodable session, no invoiceId,
                     unknown invoice);
                     logged and acknowledged, since redelivery cannot fix it
  store errors       returned as-is; HTTP layer answers 503 so the gateway retries
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outcome describes what the reconciler did with an event.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Reconciler settles invoices from gateway webhooks.
type Reconciler struct {
	Store    Store
	Verifier WebhookVerifier
	Now      func() time.Time
	NewID    func() string
	Logger   *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(store Store, verifier WebhookVerifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		Store:    store,
		Verifier: verifier,
		Now:      time.Now,
		NewID:    uuid.NewString,
		Logger:   orDefault(logger),
	}
}

// HandleEvent verifies a raw webhook delivery and applies it.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := r.Verifier.Verify(payload, signature)
	if err != nil {
		if errors.Is(err, ErrMalformedEvent) {
			r.Logger.Error("cannot apply webhook event", "error", err)
			return "", err
		}
		if !errors.Is(err, ErrVerification) {
			err = fmt.Errorf("%w: %w", ErrVerification, err)
		}
		r.Logger.Warn("rejected webhook payload", "error", err)
		return "", err
	}
	return r.Apply(ctx, event)
}

// Apply processes an already-verified event.
func (r *Reconciler) Apply(ctx context.Context, event Event) (Outcome, error) {
	log := r.Logger.With("event_id", event.ID, "event_type", event.Type)

	if event.Type != EventCheckoutSessionCompleted {
		log.Debug("ignoring webhook event")
		return OutcomeIgnored, nil
	}

	if event.Session == nil {
		return "", r.malformed(log, "event carries no checkout session")
	}
	invoiceID := InvoiceID(event.Session.Metadata[MetadataInvoiceID])
	if invoiceID == "" {
		return "", r.malformed(log, "invoice id missing from session metadata")
	}
	log = log.With("invoice_id", invoiceID, "session_id", event.Session.ID)

	inv, err := r.Store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}
	if inv == nil {
		return "", r.malformed(log, fmt.Sprintf("unknown invoice %s", invoiceID))
	}
	if inv.IsPaid() {
		log.Info("duplicate completion ignored")
		return OutcomeDuplicate, nil
	}
	if uid := UserID(event.Session.Metadata[MetadataUserID]); uid != "" && uid != inv.UserID {
		log.Warn("session user does not own invoice", "metadata_user_id", uid, "owner_id", inv.UserID)
	}

	amount := event.Session.AmountTotal
	if inv.Transaction != nil {
		amount = inv.Transaction.Amount
	} else if amount.IsZero() {
		amount = inv.Total()
	}

	now := r.Now()
	changed, err := r.Store.CompleteTransaction(ctx, Transaction{
		ID:          TransactionID(r.NewID()),
		InvoiceID:   invoiceID,
		UserID:      inv.UserID,
		Status:      StatusCompleted,
		Amount:      amount,
		SessionID:   event.Session.ID,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return "", fmt.Errorf("complete transaction for invoice %s: %w", invoiceID, err)
	}
	if !changed {
		log.Info("duplicate completion ignored")
		return OutcomeDuplicate, nil
	}

	if inv.Transaction == nil {
		log.Warn("completed invoice had no pending transaction, recorded from event", "amount", amount)
	}
	log.Info("invoice paid", "amount", amount)
	return OutcomeCompleted, nil
}

func (r *Reconciler) malformed(log *slog.Logger, reason string) error {
	err := fmt.Errorf("%w: %s", ErrMalformedEvent, reason)
	log.Error("cannot apply webhook event", "error", err)
	return err
}
