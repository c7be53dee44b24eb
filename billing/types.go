/*
Package billing provides the recurring billing and payment reconciliation engine.

PURPOSE:
  Bills residents of managed houses every month, escalates unpaid invoices
  with a late surcharge, and settles invoices against an external card
  payment gateway through checkout sessions and signed webhooks.

KEY CONCEPTS IN THIS FILE (types.go):
  - House:       A billable unit owned by exactly one resident
  - Invoice:     One billing statement for a house for one period
  - Item:        An append-only charge line (monthly bill or late surcharge)
  - Transaction: The payment record for one invoice (at most one per invoice)
  - Setting:     Current price for a charge category

DESIGN PRINCIPLES:
  1. Append-only items: charges are never edited, only added
  2. Precision: amounts use decimal.Decimal, never float64
  3. Monotonic payment state: PENDING -> COMPLETED, never backwards
  4. Idempotent jobs: every periodic run re-checks before writing

SEE ALSO:
  - generator.go:  Monthly invoice generation
  - surcharge.go:  Late surcharge escalation
  - session.go:    Checkout session create/resume
  - reconcile.go:  Webhook settlement
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	HouseID       string
	UserID        string
	InvoiceID     string
	ItemID        string
	TransactionID string
)

// =============================================================================
// CATEGORIES AND STATUSES
// =============================================================================

// Category classifies a charge line.
type Category string

const (
	CategoryMonthlyBill   Category = "MONTHLY_BILL"
	CategoryLateSurcharge Category = "LATE_SURCHARGE"
)

// Categories lists every valid charge category.
var Categories = []Category{CategoryMonthlyBill, CategoryLateSurcharge}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// TransactionStatus is the settlement state of an invoice payment.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// =============================================================================
// RECORDS
// =============================================================================

// House is a billable unit. It cannot be deleted while invoices reference it.
type House struct {
	ID        HouseID
	HouseNo   string
	UserID    UserID
	CreatedAt time.Time
}

// Item is a single charge on an invoice. Items are never mutated or deleted.
type Item struct {
	ID        ItemID
	InvoiceID InvoiceID
	Category  Category
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Transaction tracks payment of exactly one invoice.
type Transaction struct {
	ID          TransactionID
	InvoiceID   InvoiceID
	UserID      UserID
	Status      TransactionStatus
	Amount      decimal.Decimal
	SessionID   string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// HouseNo is only filled by ListTransactions.
	HouseNo string
}

// IsCompleted reports whether the transaction reached its terminal state.
func (t *Transaction) IsCompleted() bool {
	return t != nil && t.Status == StatusCompleted
}

// Invoice is one billing statement for a house. Items are ordered by creation.
type Invoice struct {
	ID          InvoiceID
	HouseID     HouseID
	HouseNo     string
	UserID      UserID
	CreatedAt   time.Time
	Items       []Item
	Transaction *Transaction
}

// Total sums the current items. It is recomputed on every call because
// surcharges may be appended at any time.
func (inv Invoice) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.Items {
		total = total.Add(item.Amount)
	}
	return total
}

// Has reports whether the invoice carries an item of the given category.
func (inv Invoice) Has(c Category) bool {
	for _, item := range inv.Items {
		if item.Category == c {
			return true
		}
	}
	return false
}

// IsPaid reports whether the invoice has a completed transaction.
func (inv Invoice) IsPaid() bool {
	return inv.Transaction.IsCompleted()
}

// Setting is the current price of a category.
type Setting struct {
	Key       Category
	Value     decimal.Decimal
	UpdatedAt time.Time
}

// =============================================================================
// JOB REPORTS
// =============================================================================

// RunReport summarizes one execution of a periodic job.
type RunReport struct {
	Job        string
	Generated  int // invoices created or surcharges appended
	Skipped    int // idempotent no-ops (already invoiced, already surcharged)
	Failed     int // business-level skips (house without resident, row removed mid-run)
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
