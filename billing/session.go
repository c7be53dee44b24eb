/*
session.go - Checkout session create/resume

PURPOSE:
  Gives a resident a gateway checkout page for one of their invoices,
  reusing a still-open page when possible, and records the attempt as a
  PENDING transaction.

FLOW:
  1. Load invoice with items and transaction (NotFound unless owned)
  2. Refuse COMPLETED invoices (AlreadyPaid)
  3. Recompute the total from items
  4. If a session id is stored, ask the gateway about it:
       open + same amount -> resume it
       complete           -> AlreadyPaid (webhook not processed yet)
       anything else      -> create a new one
  5. Create a gateway session carrying {invoiceId, userId} metadata
  6. Upsert the transaction keyed by invoice id (PENDING, fresh amount)

CONCURRENCY:
  Two concurrent calls may both create gateway sessions; the upsert keeps
  a single transaction row and the last writer's session id wins. If the
  webhook completes the transaction first, the upsert refuses to move it
  back and the caller gets AlreadyPaid.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultGatewayTimeout bounds each call to the payment gateway.
const DefaultGatewayTimeout = 10 * time.Second

// SessionResult is returned to the resident's browser.
type SessionResult struct {
	SessionID   string
	CheckoutURL string
	Resumed     bool
	Amount      decimal.Decimal
}

// SessionManager creates or resumes checkout sessions.
type SessionManager struct {
	Store   Store
	Gateway Gateway
	Timeout time.Duration
	Now     func() time.Time
	NewID   func() string
	Logger  *slog.Logger
}

// NewSessionManager creates a session manager with the default timeout.
func NewSessionManager(store Store, gateway Gateway, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		Store:   store,
		Gateway: gateway,
		Timeout: DefaultGatewayTimeout,
		Now:     time.Now,
		NewID:   uuid.NewString,
		Logger:  orDefault(logger),
	}
}

// CreateOrResume returns a checkout session for the invoice owned by userID.
func (m *SessionManager) CreateOrResume(ctx context.Context, invoiceID InvoiceID, userID UserID) (SessionResult, error) {
	log := m.Logger.With("invoice_id", invoiceID, "user_id", userID)

	inv, err := m.Store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return SessionResult{}, fmt.Errorf("load invoice: %w", err)
	}
	// Another resident's invoice looks exactly like a missing one.
	if inv == nil || inv.UserID != userID {
		return SessionResult{}, fmt.Errorf("invoice %s: %w", invoiceID, ErrNotFound)
	}
	if inv.IsPaid() {
		return SessionResult{}, fmt.Errorf("invoice %s: %w", invoiceID, ErrAlreadyPaid)
	}

	total := inv.Total()

	if tx := inv.Transaction; tx != nil && tx.SessionID != "" {
		existing, err := m.retrieve(ctx, tx.SessionID)
		switch {
		case err != nil:
			log.Warn("existing session lookup failed, creating a new one", "session_id", tx.SessionID, "error", err)
		case existing.Status == SessionOpen && tx.Amount.Equal(total):
			log.Info("resuming open checkout session", "session_id", existing.ID)
			return SessionResult{
				SessionID:   existing.ID,
				CheckoutURL: existing.URL,
				Resumed:     true,
				Amount:      tx.Amount,
			}, nil
		case existing.Status == SessionComplete:
			return SessionResult{}, fmt.Errorf("session %s already completed: %w", existing.ID, ErrAlreadyPaid)
		default:
			log.Info("existing session not reusable, creating a new one",
				"session_id", tx.SessionID, "status", existing.Status, "stored_amount", tx.Amount, "total", total)
		}
	}

	session, err := m.create(ctx, CheckoutRequest{
		InvoiceID:   invoiceID,
		UserID:      userID,
		Amount:      total,
		Description: fmt.Sprintf("Invoice #%s", invoiceID),
	})
	if err != nil {
		return SessionResult{}, err
	}

	now := m.Now()
	_, err = m.Store.UpsertPendingTransaction(ctx, Transaction{
		ID:        TransactionID(m.NewID()),
		InvoiceID: invoiceID,
		UserID:    userID,
		Status:    StatusPending,
		Amount:    total,
		SessionID: session.ID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return SessionResult{}, fmt.Errorf("record transaction for invoice %s: %w", invoiceID, err)
	}

	log.Info("created checkout session", "session_id", session.ID, "amount", total)
	return SessionResult{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		Resumed:     false,
		Amount:      total,
	}, nil
}

func (m *SessionManager) retrieve(ctx context.Context, sessionID string) (CheckoutSession, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	s, err := m.Gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return CheckoutSession{}, gatewayErr("retrieve session", err)
	}
	return s, nil
}

func (m *SessionManager) create(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	s, err := m.Gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, gatewayErr("create session", err)
	}
	if s.ID == "" {
		return CheckoutSession{}, gatewayErr("create session", errors.New("empty session id"))
	}
	return s, nil
}

func (m *SessionManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.Timeout)
}

func gatewayErr(op string, err error) error {
	if errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	return &GatewayError{Op: op, Err: err}
}
