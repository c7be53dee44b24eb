package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// ---------- Mock implementation ----------

var _ billing.Gateway = (*MockGateway)(nil)

// MockGateway is an in-memory checkout provider. It records every request
// and lets tests drive session state and inject failures.
type MockGateway struct {
	mu sync.Mutex

	// BaseURL prefixes the checkout URLs handed out.
	BaseURL string
	// Sessions maps session id -> session.
	Sessions map[string]*billing.CheckoutSession
	// Requests collects every create request in order.
	Requests []billing.CheckoutRequest
	// Retrievals counts RetrieveCheckoutSession calls.
	Retrievals int

	// Error fields allow tests to inject failures.
	CreateErr   error
	RetrieveErr error

	nextSeq int
}

// NewMockGateway creates a MockGateway ready for use.
func NewMockGateway(baseURL string) *MockGateway {
	if baseURL == "" {
		baseURL = "http://localhost:8080/mock-checkout"
	}
	return &MockGateway{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Sessions: make(map[string]*billing.CheckoutSession),
	}
}

// CreateCheckoutSession opens a mock session in the "open" state.
func (m *MockGateway) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (billing.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.CreateErr != nil {
		return billing.CheckoutSession{}, m.CreateErr
	}

	m.nextSeq++
	id := fmt.Sprintf("cs_mock_%d", m.nextSeq)
	s := &billing.CheckoutSession{
		ID:          id,
		URL:         m.BaseURL + "/" + id,
		Status:      billing.SessionOpen,
		AmountTotal: req.Amount,
		Metadata: map[string]string{
			billing.MetadataInvoiceID: string(req.InvoiceID),
			billing.MetadataUserID:    string(req.UserID),
		},
	}
	m.Sessions[id] = s
	return copySession(s), nil
}

// RetrieveCheckoutSession returns a previously created session.
func (m *MockGateway) RetrieveCheckoutSession(_ context.Context, sessionID string) (billing.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Retrievals++
	if m.RetrieveErr != nil {
		return billing.CheckoutSession{}, m.RetrieveErr
	}
	s, ok := m.Sessions[sessionID]
	if !ok {
		return billing.CheckoutSession{}, fmt.Errorf("mock gateway: no such session %s", sessionID)
	}
	return copySession(s), nil
}

// SetStatus moves a session to status, as if the customer paid or the
// page expired.
func (m *MockGateway) SetStatus(sessionID string, status billing.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.Sessions[sessionID]
	if !ok {
		return fmt.Errorf("mock gateway: no such session %s", sessionID)
	}
	s.Status = status
	return nil
}

// CreatedCount returns how many sessions were created.
func (m *MockGateway) CreatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sessions)
}

// Complete marks the session paid and returns the signed webhook delivery
// Stripe would send for it.
func (m *MockGateway) Complete(sessionID, secret string) (payload []byte, signature string, err error) {
	if err := m.SetStatus(sessionID, billing.SessionComplete); err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	s := copySession(m.Sessions[sessionID])
	m.mu.Unlock()

	payload = SessionEventPayload("evt_"+sessionID, billing.EventCheckoutSessionCompleted, s)
	return payload, Sign(payload, secret), nil
}

func copySession(s *billing.CheckoutSession) billing.CheckoutSession {
	out := *s
	out.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return out
}
