/*
store.go - Persistence interfaces for the billing ledger

PURPOSE:
  Defines the boundary between billing logic and the relational store.
  Implementations must enforce one Transaction per Invoice and must
  report missing rows as (nil, nil) from Get-style lookups.

KEY INTERFACES:
  Store:         Everything the jobs, session manager and reconciler need
  SettingsStore: Read/write access to category prices
  AdminStore:    Store plus house, invoice and transaction administration

UPSERT CONTRACT:
  UpsertPendingTransaction and CompleteTransaction are keyed by invoice id.
  They are the only concurrency-control primitive: there is no row locking
  and no in-process mutex shared between the session manager and the
  reconciler. Both refuse to move a COMPLETED transaction anywhere.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with unique and foreign-key constraints
  - billing/store/memory.go: In-memory for tests and dev mode

SEE ALSO:
  - errors.go: ErrConflict, ErrStoreUnavailable
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SettingsStore reads and writes category prices.
type SettingsStore interface {
	// Settings returns a snapshot of all stored prices. Missing keys are absent.
	Settings(ctx context.Context) (map[Category]decimal.Decimal, error)

	// PutSetting sets the current price of a category.
	PutSetting(ctx context.Context, s Setting) error
}

// Store handles persistence for the billing engine.
type Store interface {
	SettingsStore

	// ListHouses returns every house with its resident.
	ListHouses(ctx context.Context) ([]House, error)

	// FindInvoiceInWindow returns any invoice for the house created in
	// [from, to], or nil if there is none.
	FindInvoiceInWindow(ctx context.Context, houseID HouseID, from, to time.Time) (*Invoice, error)

	// CreateInvoice persists an invoice together with its items atomically.
	CreateInvoice(ctx context.Context, inv Invoice) error

	// ListUnpaidInvoices returns invoices created on or before cutoff that
	// have no transaction at all, with their items.
	ListUnpaidInvoices(ctx context.Context, cutoff time.Time) ([]Invoice, error)

	// AppendItem adds a charge line to an existing invoice. A second
	// LATE_SURCHARGE on the same invoice fails with ErrConflict.
	AppendItem(ctx context.Context, item Item) error

	// GetInvoice returns the invoice with items and transaction, or nil.
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)

	// UpsertPendingTransaction creates the invoice's transaction as PENDING,
	// or overwrites an existing non-completed one to PENDING with the new
	// amount and session id. Returns ErrAlreadyPaid if the existing
	// transaction is COMPLETED.
	UpsertPendingTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// CompleteTransaction marks the invoice's transaction COMPLETED at
	// tx.CompletedAt, creating it if absent. Returns changed=false and
	// leaves the row untouched when it is already COMPLETED.
	CompleteTransaction(ctx context.Context, tx Transaction) (changed bool, err error)
}

// AdminStore extends Store with the administrative operations.
type AdminStore interface {
	Store

	SaveHouse(ctx context.Context, h House) error
	GetHouse(ctx context.Context, id HouseID) (*House, error)

	// DeleteHouse fails with ErrConflict while invoices reference the house.
	DeleteHouse(ctx context.Context, id HouseID) error

	// ListInvoicesByUser returns the resident's invoices, newest first.
	ListInvoicesByUser(ctx context.Context, userID UserID) ([]Invoice, error)

	// DeleteInvoice fails with ErrConflict while a transaction exists.
	DeleteInvoice(ctx context.Context, id InvoiceID) error

	// ListTransactions returns all transactions, newest first.
	ListTransactions(ctx context.Context) ([]Transaction, error)
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// SetTransactionStatus overrides the status of a non-completed
	// transaction. COMPLETED stamps completedAt, other statuses clear it.
	SetTransactionStatus(ctx context.Context, id TransactionID, status TransactionStatus, at time.Time) (Transaction, error)

	// DeleteTransaction fails with ErrConflict for a COMPLETED transaction.
	DeleteTransaction(ctx context.Context, id TransactionID) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
