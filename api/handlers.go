/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes checkout, webhook settlement, resident invoice queries and
  administration over REST. Handlers parse the request, call the billing
  engine, and map its sentinel errors onto HTTP status codes.

ENDPOINTS:
  Checkout:
    POST   /transactions/create-session      Create or resume a checkout session (RESIDENT)
    POST   /transactions/webhook             Gateway webhook (raw body, signed)

  Resident:
    GET    /user/invoices                    Caller's invoices, newest first
    GET    /user/invoices/{id}               One invoice, 404 unless owned

  Admin:
    GET    /admin/transactions/all           All transactions
    DELETE /admin/transactions/delete        Delete a non-completed transaction
    PUT    /admin/transactions/update-status Override a non-completed transaction
    GET    /admin/settings                   Effective prices
    PUT    /admin/settings/{key}             Set a price
    GET    /admin/jobs                       Scheduled jobs with last report
    POST   /admin/jobs/{name}/run            Run a job now

  Ops:
    GET    /healthz                          Store ping
    GET    /metrics                          Prometheus

  Dev (mock gateway only):
    GET    /mock-checkout/{sessionID}        Pay a mock session and deliver its webhook

ERROR HANDLING:
  - 400: Validation errors, bad webhook signature
  - 401/403: Missing token, wrong role
  - 404: Resource not found or not owned
  - 409: Already paid, job running, completed transaction changes
  - 503: Gateway or store unavailable (clients and the gateway retry)
  - 500: Anything else

WEBHOOK ACKNOWLEDGEMENT:
  A verified event that cannot be applied (ErrMalformedEvent) is answered
  200 so the gateway stops redelivering it; the failure is logged and
  counted instead.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/gateway"
	"github.com/warp/billing-engine/metrics"
	"github.com/warp/billing-engine/scheduler"
)

// MaxWebhookBytes caps the webhook body. Stripe events are far smaller.
const MaxWebhookBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// JobRunner is the part of the scheduler the admin API uses.
type JobRunner interface {
	Jobs() []scheduler.JobStatus
	RunNow(ctx context.Context, name string) (billing.RunReport, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      billing.AdminStore
	Sessions   *billing.SessionManager
	Reconciler *billing.Reconciler
	Pricing    *billing.PricingResolver
	Jobs       JobRunner
	Metrics    *metrics.Collector
	Logger     *slog.Logger
	Now        func() time.Time

	// MockCheckout enables /mock-checkout when the service runs without
	// Stripe. MockWebhookSecret signs the simulated deliveries.
	MockCheckout      *gateway.MockGateway
	MockWebhookSecret string
}

// NewHandler creates a handler. Jobs, Metrics and MockCheckout are optional
// and may be set on the returned value.
func NewHandler(store billing.AdminStore, sessions *billing.SessionManager, reconciler *billing.Reconciler, pricing *billing.PricingResolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:      store,
		Sessions:   sessions,
		Reconciler: reconciler,
		Pricing:    pricing,
		Logger:     logger.With("component", "api"),
		Now:        time.Now,
	}
}

// =============================================================================
// CHECKOUT
// =============================================================================

// CreateSession creates or resumes a checkout session for the caller's invoice.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	if req.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoiceId is required", nil)
		return
	}

	result, err := h.Sessions.CreateOrResume(r.Context(), billing.InvoiceID(req.InvoiceID), p.UserID)
	if err != nil {
		h.Metrics.RecordSession(sessionErrorClass(err))
		h.writeDomainError(w, r, "failed to create checkout session", err)
		return
	}

	if result.Resumed {
		h.Metrics.RecordSession("resumed")
	} else {
		h.Metrics.RecordSession("created")
	}
	writeJSON(w, http.StatusOK, CreateSessionResponse{
		SessionID: result.SessionID,
		URL:       result.CheckoutURL,
		Resumed:   result.Resumed,
		Amount:    money(result.Amount),
	})
}

// Webhook verifies and applies a gateway event. The body is read raw
// because the signature covers the exact bytes.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBytes))
	if err != nil {
		h.Metrics.RecordWebhook("unreadable")
		writeError(w, http.StatusBadRequest, "cannot read webhook body", err)
		return
	}

	outcome, err := h.Reconciler.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	h.answerWebhook(w, r, outcome, err)
}

func (h *Handler) answerWebhook(w http.ResponseWriter, r *http.Request, outcome billing.Outcome, err error) {
	switch {
	case err == nil:
		h.Metrics.RecordWebhook(string(outcome))
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Outcome: string(outcome)})
	case errors.Is(err, billing.ErrVerification):
		h.Metrics.RecordWebhook("rejected")
		writeError(w, http.StatusBadRequest, "webhook signature verification failed", err)
	case errors.Is(err, billing.ErrMalformedEvent):
		h.Metrics.RecordWebhook("malformed")
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Outcome: "malformed"})
	default:
		h.Metrics.RecordWebhook("error")
		h.writeDomainError(w, r, "failed to apply webhook event", err)
	}
}

// MockCheckoutPage pays a mock session and feeds the signed delivery through
// the reconciler, standing in for the hosted checkout page in dev mode.
func (h *Handler) MockCheckoutPage(w http.ResponseWriter, r *http.Request) {
	if h.MockCheckout == nil {
		writeError(w, http.StatusNotFound, "mock checkout disabled", nil)
		return
	}
	payload, sig, err := h.MockCheckout.Complete(chi.URLParam(r, "sessionID"), h.MockWebhookSecret)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown checkout session", err)
		return
	}
	outcome, err := h.Reconciler.HandleEvent(r.Context(), payload, sig)
	h.answerWebhook(w, r, outcome, err)
}

// =============================================================================
// RESIDENT INVOICES
// =============================================================================

// ListMyInvoices returns the caller's invoices, newest first.
func (h *Handler) ListMyInvoices(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	invoices, err := h.Store.ListInvoicesByUser(r.Context(), p.UserID)
	if err != nil {
		h.writeDomainError(w, r, "failed to list invoices", err)
		return
	}

	result := make([]InvoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		result = append(result, toInvoiceDTO(inv))
	}
	writeJSON(w, http.StatusOK, result)
}

// GetMyInvoice returns one invoice if the caller owns it.
func (h *Handler) GetMyInvoice(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Store.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "failed to get invoice", err)
		return
	}
	if inv == nil || inv.UserID != p.UserID {
		writeError(w, http.StatusNotFound, "invoice not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// =============================================================================
// ADMIN: TRANSACTIONS
// =============================================================================

// ListTransactions returns every transaction, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Store.ListTransactions(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to list transactions", err)
		return
	}

	result := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		result = append(result, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteTransaction removes a non-completed transaction.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	var req DeleteTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	if err := h.Store.DeleteTransaction(r.Context(), billing.TransactionID(req.ID)); err != nil {
		h.writeDomainError(w, r, "failed to delete transaction", err)
		return
	}
	h.Logger.Info("transaction deleted by admin", "transaction_id", req.ID, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Transaction deleted successfully"})
}

// UpdateTransactionStatus overrides the status of a non-completed transaction.
func (h *Handler) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	status := billing.TransactionStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if req.ID == "" || !status.Valid() {
		writeError(w, http.StatusBadRequest, "id and a valid status are required",
			fmt.Errorf("status must be one of %s, %s, %s", billing.StatusPending, billing.StatusCompleted, billing.StatusFailed))
		return
	}

	tx, err := h.Store.SetTransactionStatus(r.Context(), billing.TransactionID(req.ID), status, h.Now())
	if err != nil {
		h.writeDomainError(w, r, "failed to update transaction", err)
		return
	}
	h.Logger.Info("transaction status overridden by admin", "transaction_id", req.ID, "status", status, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// ADMIN: SETTINGS
// =============================================================================

// ListSettings returns the effective price of every category.
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	prices, err := h.Pricing.Snapshot(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to read settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingDTOs(prices))
}

// PutSetting sets the price of one category.
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := billing.Category(strings.ToUpper(chi.URLParam(r, "key")))
	if !key.Valid() {
		writeError(w, http.StatusBadRequest, "unknown setting key", fmt.Errorf("%q", key))
		return
	}

	var req PutSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	value, err := decimal.NewFromString(strings.TrimSpace(req.Value))
	if err != nil {
		writeError(w, http.StatusBadRequest, "value must be a decimal", err)
		return
	}
	if value.IsNegative() {
		writeError(w, http.StatusBadRequest, "value must not be negative", nil)
		return
	}

	if err := h.Store.PutSetting(r.Context(), billing.Setting{Key: key, Value: value, UpdatedAt: h.Now()}); err != nil {
		h.writeDomainError(w, r, "failed to save setting", err)
		return
	}
	h.Logger.Info("price changed", "category", key, "value", value, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, SettingDTO{Key: string(key), Value: money(value)})
}

// =============================================================================
// ADMIN: JOBS
// =============================================================================

// ListJobs returns registered jobs with their last report.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.Jobs == nil {
		writeJSON(w, http.StatusOK, []JobDTO{})
		return
	}
	statuses := h.Jobs.Jobs()
	result := make([]JobDTO, 0, len(statuses))
	for _, s := range statuses {
		result = append(result, toJobDTO(s))
	}
	writeJSON(w, http.StatusOK, result)
}

// RunJob runs a job now through the scheduler's non-overlap guard.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.Jobs == nil {
		writeError(w, http.StatusNotFound, "job not found", nil)
		return
	}

	report, err := h.Jobs.RunNow(r.Context(), name)
	if err != nil {
		h.writeDomainError(w, r, "job run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunReportDTO(report))
}

// =============================================================================
// OPS
// =============================================================================

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps billing sentinel errors to HTTP status codes.
func statusFor(err error) int {
	// Order matters: ErrVerification is both a client error and retryable.
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrConflict):
		return http.StatusConflict
	case billing.IsClientError(err):
		return http.StatusBadRequest
	case billing.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, "error", err, "status", status, "request_id", requestID(r))
	}
	writeError(w, status, message, err)
}

func sessionErrorClass(err error) string {
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return "not_found"
	case errors.Is(err, billing.ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, billing.ErrGatewayUnavailable):
		return "gateway_error"
	case errors.Is(err, billing.ErrStoreUnavailable):
		return "store_error"
	default:
		return "error"
	}
}
