package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/gateway"
)

// =============================================================================
// RECONCILER TESTS
// =============================================================================

func TestReconciler_CompletesThenIgnoresDuplicate(t *testing.T) {
	// GIVEN: An invoice of 1100 with an open checkout session
	// WHEN: The gateway delivers the completion webhook twice
	// THEN: The first delivery completes the transaction, the second changes nothing

	f, inv := newInvoicedFixture(t)
	f.clock.Advance(6 * day)
	_, err := f.escalator.Run(f.ctx)
	require.NoError(t, err)

	result, err := f.sessions.CreateOrResume(f.ctx, inv.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "1100", result.Amount.String())

	payload, sig, err := f.gateway.Complete(result.SessionID, webhookSecret)
	require.NoError(t, err)

	paidAt := f.clock.Now()
	outcome, err := f.reconciler.HandleEvent(f.ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeCompleted, outcome)

	tx := f.reload(t, inv.ID).Transaction
	require.NotNil(t, tx)
	assert.Equal(t, billing.StatusCompleted, tx.Status)
	require.NotNil(t, tx.CompletedAt)
	assert.True(t, tx.CompletedAt.Equal(paidAt))
	assert.Equal(t, "1100", tx.Amount.String())

	f.clock.Advance(time.Hour)
	outcome, err = f.reconciler.HandleEvent(f.ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicate, outcome)

	again := f.reload(t, inv.ID).Transaction
	assert.Equal(t, billing.StatusCompleted, again.Status)
	assert.True(t, again.CompletedAt.Equal(paidAt), "completion timestamp must not move")
}

func TestReconciler_IgnoresOtherEventTypes(t *testing.T) {
	f, inv := newInvoicedFixture(t)
	result, err := f.sessions.CreateOrResume(f.ctx, inv.ID, "user-1")
	require.NoError(t, err)

	session := f.gateway.Sessions[result.SessionID]
	payload := gateway.SessionEventPayload("evt_1", "checkout.session.expired", *session)

	outcome, err := f.reconciler.HandleEvent(f.ctx, payload, gateway.Sign(payload, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, outcome)
	assert.Equal(t, billing.StatusPending, f.reload(t, inv.ID).Transaction.Status)
}

func TestReconciler_RejectsBadSignature(t *testing.T) {
	f, inv := newInvoicedFixture(t)
	result, err := f.sessions.CreateOrResume(f.ctx, inv.ID, "user-1")
	require.NoError(t, err)

	payload, _, err := f.gateway.Complete(result.SessionID, webhookSecret)
	require.NoError(t, err)

	_, err = f.reconciler.HandleEvent(f.ctx, payload, gateway.Sign(payload, "whsec_wrong"))
	assert.ErrorIs(t, err, billing.ErrVerification)

	_, err = f.reconciler.HandleEvent(f.ctx, payload, "")
	assert.ErrorIs(t, err, billing.ErrVerification)

	assert.Equal(t, billing.StatusPending, f.reload(t, inv.ID).Transaction.Status)
}

func TestReconciler_MalformedEvents(t *testing.T) {
	f, _ := newInvoicedFixture(t)

	tests := []struct {
		name     string
		metadata map[string]string
	}{
		{name: "missing invoice id", metadata: map[string]string{billing.MetadataUserID: "user-1"}},
		{name: "unknown invoice", metadata: map[string]string{billing.MetadataInvoiceID: "inv-missing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := gateway.SessionEventPayload("evt_bad", billing.EventCheckoutSessionCompleted, billing.CheckoutSession{
				ID:       "cs_unknown",
				Status:   billing.SessionComplete,
				Metadata: tt.metadata,
			})

			_, err := f.reconciler.HandleEvent(f.ctx, payload, gateway.Sign(payload, webhookSecret))
			assert.ErrorIs(t, err, billing.ErrMalformedEvent)
			assert.False(t, billing.IsRetryable(err))
		})
	}
}

func TestReconciler_UndecodableSessionIsMalformed(t *testing.T) {
	// GIVEN: A correctly signed completion whose session object cannot be decoded
	// WHEN: It is handled
	// THEN: It is reported as malformed, not as a signature failure, and not retried

	f, inv := newInvoicedFixture(t)
	payload := []byte(`{"id":"evt_garbled","object":"event","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"cs_garbled","object":"checkout.session","amount_total":"not-a-number",` +
		`"metadata":{"invoiceId":"` + string(inv.ID) + `"}}}}`)

	_, err := f.reconciler.HandleEvent(f.ctx, payload, gateway.Sign(payload, webhookSecret))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	assert.NotErrorIs(t, err, billing.ErrVerification)
	assert.False(t, billing.IsRetryable(err))
	assert.Nil(t, f.reload(t, inv.ID).Transaction)
}

func TestReconciler_CompletionWithoutPendingTransaction(t *testing.T) {
	// The session row was lost (or never written) but the customer paid.
	f, inv := newInvoicedFixture(t)

	payload := gateway.SessionEventPayload("evt_late", billing.EventCheckoutSessionCompleted, billing.CheckoutSession{
		ID:          "cs_orphan",
		Status:      billing.SessionComplete,
		AmountTotal: amount(1000),
		Metadata: map[string]string{
			billing.MetadataInvoiceID: string(inv.ID),
			billing.MetadataUserID:    "user-1",
		},
	})

	outcome, err := f.reconciler.HandleEvent(f.ctx, payload, gateway.Sign(payload, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeCompleted, outcome)

	tx := f.reload(t, inv.ID).Transaction
	require.NotNil(t, tx)
	assert.Equal(t, billing.StatusCompleted, tx.Status)
	assert.Equal(t, "cs_orphan", tx.SessionID)
	assert.Equal(t, "1000", tx.Amount.String())
	assert.Equal(t, billing.UserID("user-1"), tx.UserID)
}

func TestReconciler_StoreFailureIsRetryable(t *testing.T) {
	f, inv := newInvoicedFixture(t)
	result, err := f.sessions.CreateOrResume(f.ctx, inv.ID, "user-1")
	require.NoError(t, err)
	payload, sig, err := f.gateway.Complete(result.SessionID, webhookSecret)
	require.NoError(t, err)

	f.store.FailWith("CompleteTransaction", errors.New("database is locked"))
	_, err = f.reconciler.HandleEvent(f.ctx, payload, sig)
	require.Error(t, err)
	assert.True(t, billing.IsRetryable(err))

	// The gateway redelivers once the store is back.
	f.store.FailWith("CompleteTransaction", nil)
	outcome, err := f.reconciler.HandleEvent(f.ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeCompleted, outcome)
}
