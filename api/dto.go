/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings with two places ("1100.00") so that no
  client ever parses them into a float.

TYPES:
  Checkout:     CreateSessionRequest, CreateSessionResponse, WebhookResponse
  Invoices:     InvoiceDTO, ItemDTO
  Transactions: TransactionDTO, DeleteTransactionRequest, UpdateStatusRequest
  Settings:     SettingDTO, PutSettingRequest
  Jobs:         JobDTO, RunReportDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/scheduler"
)

// =============================================================================
// CHECKOUT
// =============================================================================

// CreateSessionRequest is the body of POST /transactions/create-session.
type CreateSessionRequest struct {
	InvoiceID string `json:"invoiceId"`
}

// CreateSessionResponse tells the browser where to redirect.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Resumed   bool   `json:"resumed"`
	Amount    string `json:"amount"`
}

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// =============================================================================
// INVOICES
// =============================================================================

// ItemDTO is one charge line.
type ItemDTO struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// InvoiceDTO represents an invoice with its computed total.
type InvoiceDTO struct {
	ID          string          `json:"id"`
	HouseID     string          `json:"houseId"`
	HouseNo     string          `json:"houseNo"`
	UserID      string          `json:"userId"`
	CreatedAt   time.Time       `json:"createdAt"`
	Items       []ItemDTO       `json:"items"`
	Total       string          `json:"total"`
	Paid        bool            `json:"paid"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a payment record.
type TransactionDTO struct {
	ID          string     `json:"id"`
	InvoiceID   string     `json:"invoiceId"`
	UserID      string     `json:"userId"`
	HouseNo     string     `json:"houseNo,omitempty"`
	Status      string     `json:"status"`
	Amount      string     `json:"amount"`
	SessionID   string     `json:"sessionId,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// DeleteTransactionRequest is the body of DELETE /admin/transactions/delete.
type DeleteTransactionRequest struct {
	ID string `json:"id"`
}

// UpdateStatusRequest is the body of PUT /admin/transactions/update-status.
type UpdateStatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// SettingDTO is the effective price of a category.
type SettingDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PutSettingRequest is the body of PUT /admin/settings/{key}.
type PutSettingRequest struct {
	Value string `json:"value"`
}

// =============================================================================
// JOBS
// =============================================================================

// RunReportDTO summarizes one job run.
type RunReportDTO struct {
	Job        string    `json:"job"`
	Generated  int       `json:"generated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
}

// JobDTO describes a scheduled job.
type JobDTO struct {
	Name       string        `json:"name"`
	Schedule   string        `json:"schedule"`
	Running    bool          `json:"running"`
	NextRun    *time.Time    `json:"nextRun,omitempty"`
	LastReport *RunReportDTO `json:"lastReport,omitempty"`
	LastError  string        `json:"lastError,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:        string(inv.ID),
		HouseID:   string(inv.HouseID),
		HouseNo:   inv.HouseNo,
		UserID:    string(inv.UserID),
		CreatedAt: inv.CreatedAt,
		Items:     make([]ItemDTO, 0, len(inv.Items)),
		Total:     money(inv.Total()),
		Paid:      inv.IsPaid(),
	}
	for _, item := range inv.Items {
		dto.Items = append(dto.Items, ItemDTO{
			ID:        string(item.ID),
			Category:  string(item.Category),
			Amount:    money(item.Amount),
			CreatedAt: item.CreatedAt,
		})
	}
	if inv.Transaction != nil {
		tx := toTransactionDTO(*inv.Transaction)
		dto.Transaction = &tx
	}
	return dto
}

func toTransactionDTO(tx billing.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		InvoiceID:   string(tx.InvoiceID),
		UserID:      string(tx.UserID),
		HouseNo:     tx.HouseNo,
		Status:      string(tx.Status),
		Amount:      money(tx.Amount),
		SessionID:   tx.SessionID,
		CompletedAt: tx.CompletedAt,
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,
	}
}

func toSettingDTOs(prices billing.Prices) []SettingDTO {
	out := make([]SettingDTO, 0, len(billing.Categories))
	for _, c := range billing.Categories {
		out = append(out, SettingDTO{Key: string(c), Value: money(prices.AmountFor(c))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func toRunReportDTO(r billing.RunReport) RunReportDTO {
	return RunReportDTO{
		Job:        r.Job,
		Generated:  r.Generated,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
	}
}

func toJobDTO(s scheduler.JobStatus) JobDTO {
	dto := JobDTO{
		Name:      s.Name,
		Schedule:  s.Spec,
		Running:   s.Running,
		LastError: s.LastError,
	}
	if !s.NextRun.IsZero() {
		next := s.NextRun
		dto.NextRun = &next
	}
	if s.LastReport != nil {
		r := toRunReportDTO(*s.LastReport)
		dto.LastReport = &r
	}
	return dto
}
