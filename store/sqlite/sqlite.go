/*
Package sqlite provides a SQLite-backed implementation of billing.AdminStore.

PURPOSE:
  Persists houses, invoices, charge items, payment transactions and price
  settings. The schema carries the ledger's uniqueness rules so that they
  hold even if two processes write at once.

KEY TABLES:
  houses:       Billable units, one resident each
  invoices:     One row per house per billing period
  items:        Append-only charge lines (never updated or deleted alone)
  transactions: At most one payment record per invoice
  settings:     Current price per charge category

CONSTRAINTS:
  - transactions.invoice_id is UNIQUE: one payment record per invoice
  - idx_items_one_surcharge: at most one LATE_SURCHARGE per invoice
  - Foreign keys: items and transactions reference invoices, invoices
    reference houses

MONOTONIC STATUS:
  Both transaction upserts carry "WHERE status <> 'COMPLETED'", so no
  statement issued by this package moves a COMPLETED row backwards.

TIME STORAGE:
  Timestamps are stored as fixed-width UTC strings (nanosecond precision),
  so string comparison in SQL matches time ordering.

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer
  anyway, and ":memory:" databases exist per connection. Rows must be
  closed before the next statement is issued on the same store.

USAGE:
  store, err := sqlite.New("./billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

var _ billing.AdminStore = (*Store)(nil)

// Store implements billing.AdminStore using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return billing.NewStoreError("ping", s.db.PingContext(ctx))
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS houses (
		id TEXT PRIMARY KEY,
		house_no TEXT NOT NULL UNIQUE,
		user_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_houses_user
		ON houses(user_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		house_id TEXT NOT NULL REFERENCES houses(id),
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Month-window lookups by the generator (hot path)
	CREATE INDEX IF NOT EXISTS idx_invoices_house_created
		ON invoices(house_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_invoices_user
		ON invoices(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_invoices_created
		ON invoices(created_at);

	-- Charge lines (append-only)
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		category TEXT NOT NULL CHECK (category IN ('MONTHLY_BILL', 'LATE_SURCHARGE')),
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_invoice
		ON items(invoice_id, created_at);

	-- CRITICAL: at most one late surcharge per invoice
	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_one_surcharge
		ON items(invoice_id) WHERE category = 'LATE_SURCHARGE';

	-- Payment records, one per invoice
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL UNIQUE REFERENCES invoices(id),
		user_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
		amount TEXT NOT NULL,
		session_id TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_session
		ON transactions(session_id) WHERE session_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) Settings(ctx context.Context) (map[billing.Category]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, billing.NewStoreError("settings", err)
	}
	defer rows.Close()

	out := make(map[billing.Category]decimal.Decimal)
	for rows.Next() {
		var key string
		var value decimal.Decimal
		if err := rows.Scan(&key, &value); err != nil {
			return nil, billing.NewStoreError("settings", err)
		}
		out[billing.Category(key)] = value
	}
	return out, billing.NewStoreError("settings", rows.Err())
}

func (s *Store) PutSetting(ctx context.Context, setting billing.Setting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, string(setting.Key), setting.Value.String(), formatTime(setting.UpdatedAt))
	return billing.NewStoreError("put setting", err)
}

// =============================================================================
// HOUSES
// =============================================================================

func (s *Store) SaveHouse(ctx context.Context, h billing.House) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO houses (id, house_no, user_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET house_no = excluded.house_no, user_id = excluded.user_id
	`, string(h.ID), h.HouseNo, nullString(string(h.UserID)), formatTime(h.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("house number %s already in use: %w", h.HouseNo, billing.ErrConflict)
	}
	return billing.NewStoreError("save house", err)
}

func (s *Store) GetHouse(ctx context.Context, id billing.HouseID) (*billing.House, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, house_no, user_id, created_at FROM houses WHERE id = ?`, string(id))
	h, err := scanHouse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, billing.NewStoreError("get house", err)
	}
	return &h, nil
}

func (s *Store) ListHouses(ctx context.Context) ([]billing.House, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, house_no, user_id, created_at FROM houses ORDER BY house_no`)
	if err != nil {
		return nil, billing.NewStoreError("list houses", err)
	}
	defer rows.Close()

	var houses []billing.House
	for rows.Next() {
		h, err := scanHouse(rows)
		if err != nil {
			return nil, billing.NewStoreError("list houses", err)
		}
		houses = append(houses, h)
	}
	return houses, billing.NewStoreError("list houses", rows.Err())
}

func (s *Store) DeleteHouse(ctx context.Context, id billing.HouseID) error {
	err := s.withTx(ctx, func(q querier) error {
		var invoices int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE house_id = ?`, string(id)).Scan(&invoices); err != nil {
			return err
		}
		if invoices > 0 {
			return fmt.Errorf("house %s has %d invoices: %w", id, invoices, billing.ErrConflict)
		}

		result, err := q.ExecContext(ctx, `DELETE FROM houses WHERE id = ?`, string(id))
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("house %s: %w", id, billing.ErrNotFound)
		}
		return nil
	})
	return classify("delete house", err)
}

// =============================================================================
// INVOICES AND ITEMS
// =============================================================================

const invoiceColumns = `
	i.id, i.house_id, COALESCE(h.house_no, ''), i.user_id, i.created_at,
	t.id, t.user_id, t.status, t.amount, t.session_id, t.completed_at, t.created_at, t.updated_at`

const invoiceFrom = `
	FROM invoices i
	LEFT JOIN houses h ON h.id = i.house_id
	LEFT JOIN transactions t ON t.invoice_id = i.id`

func (s *Store) FindInvoiceInWindow(ctx context.Context, houseID billing.HouseID, from, to time.Time) (*billing.Invoice, error) {
	invoices, err := s.queryInvoices(ctx, s.db,
		`WHERE i.house_id = ? AND i.created_at >= ? AND i.created_at <= ? ORDER BY i.created_at LIMIT 1`,
		string(houseID), formatTime(from), formatTime(to))
	if err != nil {
		return nil, billing.NewStoreError("find invoice in window", err)
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice) error {
	err := s.withTx(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO invoices (id, house_id, user_id, created_at) VALUES (?, ?, ?, ?)
		`, string(inv.ID), string(inv.HouseID), string(inv.UserID), formatTime(inv.CreatedAt))
		if err != nil {
			return err
		}

		for _, item := range inv.Items {
			item.InvoiceID = inv.ID
			if err := insertItem(ctx, q, item); err != nil {
				return err
			}
		}
		return nil
	})
	return classify("create invoice", err)
}

func (s *Store) AppendItem(ctx context.Context, item billing.Item) error {
	return classify("append item", insertItem(ctx, s.db, item))
}

func insertItem(ctx context.Context, q querier, item billing.Item) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO items (id, invoice_id, category, amount, created_at) VALUES (?, ?, ?, ?, ?)
	`, string(item.ID), string(item.InvoiceID), string(item.Category), item.Amount.String(), formatTime(item.CreatedAt))
	return err
}

func (s *Store) ListUnpaidInvoices(ctx context.Context, cutoff time.Time) ([]billing.Invoice, error) {
	invoices, err := s.queryInvoices(ctx, s.db,
		`WHERE t.id IS NULL AND i.created_at <= ? ORDER BY i.created_at, i.id`,
		formatTime(cutoff))
	return invoices, billing.NewStoreError("list unpaid invoices", err)
}

func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	invoices, err := s.queryInvoices(ctx, s.db, `WHERE i.id = ?`, string(id))
	if err != nil {
		return nil, billing.NewStoreError("get invoice", err)
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

func (s *Store) ListInvoicesByUser(ctx context.Context, userID billing.UserID) ([]billing.Invoice, error) {
	invoices, err := s.queryInvoices(ctx, s.db,
		`WHERE i.user_id = ? ORDER BY i.created_at DESC, i.id`, string(userID))
	return invoices, billing.NewStoreError("list invoices by user", err)
}

func (s *Store) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	err := s.withTx(ctx, func(q querier) error {
		var txCount int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE invoice_id = ?`, string(id)).Scan(&txCount); err != nil {
			return err
		}
		if txCount > 0 {
			return fmt.Errorf("invoice %s has a transaction: %w", id, billing.ErrConflict)
		}

		result, err := q.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, string(id))
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("invoice %s: %w", id, billing.ErrNotFound)
		}
		return nil
	})
	return classify("delete invoice", err)
}

// queryInvoices loads invoice headers matching where, then their items.
// The header rows are closed before items are queried.
func (s *Store) queryInvoices(ctx context.Context, q querier, where string, args ...any) ([]billing.Invoice, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+invoiceColumns+invoiceFrom+` `+where, args...)
	if err != nil {
		return nil, err
	}

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range invoices {
		items, err := loadItems(ctx, q, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Items = items
	}
	return invoices, nil
}

func loadItems(ctx context.Context, q querier, invoiceID billing.InvoiceID) ([]billing.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, invoice_id, category, amount, created_at
		FROM items WHERE invoice_id = ? ORDER BY created_at, rowid
	`, string(invoiceID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []billing.Item
	for rows.Next() {
		var item billing.Item
		var id, invID, category, createdAt string
		if err := rows.Scan(&id, &invID, &category, &item.Amount, &createdAt); err != nil {
			return nil, err
		}
		item.ID = billing.ItemID(id)
		item.InvoiceID = billing.InvoiceID(invID)
		item.Category = billing.Category(category)
		if item.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const txColumns = `id, invoice_id, user_id, status, amount, session_id, completed_at, created_at, updated_at`

func (s *Store) UpsertPendingTransaction(ctx context.Context, tx billing.Transaction) (billing.Transaction, error) {
	var saved billing.Transaction
	err := s.withTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, `
			INSERT INTO transactions (id, invoice_id, user_id, status, amount, session_id, completed_at, created_at, updated_at)
			VALUES (?, ?, ?, 'PENDING', ?, ?, NULL, ?, ?)
			ON CONFLICT(invoice_id) DO UPDATE SET
				status = 'PENDING',
				amount = excluded.amount,
				session_id = excluded.session_id,
				completed_at = NULL,
				updated_at = excluded.updated_at
			WHERE transactions.status <> 'COMPLETED'
		`, string(tx.ID), string(tx.InvoiceID), string(tx.UserID), tx.Amount.String(),
			nullString(tx.SessionID), formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt))
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("invoice %s: %w", tx.InvoiceID, billing.ErrAlreadyPaid)
		}

		saved, err = scanTransaction(q.QueryRowContext(ctx,
			`SELECT `+txColumns+` FROM transactions WHERE invoice_id = ?`, string(tx.InvoiceID)))
		return err
	})
	if err != nil {
		return billing.Transaction{}, classify("upsert pending transaction", err)
	}
	return saved, nil
}

func (s *Store) CompleteTransaction(ctx context.Context, tx billing.Transaction) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, invoice_id, user_id, status, amount, session_id, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, 'COMPLETED', ?, ?, ?, ?, ?)
		ON CONFLICT(invoice_id) DO UPDATE SET
			status = 'COMPLETED',
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		WHERE transactions.status <> 'COMPLETED'
	`, string(tx.ID), string(tx.InvoiceID), string(tx.UserID), tx.Amount.String(),
		nullString(tx.SessionID), nullTime(tx.CompletedAt), formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt))
	if err != nil {
		return false, classify("complete transaction", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, billing.NewStoreError("complete transaction", err)
	}
	return n > 0, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]billing.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.invoice_id, t.user_id, t.status, t.amount, t.session_id,
		       t.completed_at, t.created_at, t.updated_at, COALESCE(h.house_no, '')
		FROM transactions t
		LEFT JOIN invoices i ON i.id = t.invoice_id
		LEFT JOIN houses h ON h.id = i.house_id
		ORDER BY t.created_at DESC, t.id
	`)
	if err != nil {
		return nil, billing.NewStoreError("list transactions", err)
	}
	defer rows.Close()

	var txs []billing.Transaction
	for rows.Next() {
		var id, invoiceID, userID, status, amount, createdAt, updatedAt, houseNo string
		var sessionID, completedAt sql.NullString
		if err := rows.Scan(&id, &invoiceID, &userID, &status, &amount, &sessionID, &completedAt, &createdAt, &updatedAt, &houseNo); err != nil {
			return nil, billing.NewStoreError("list transactions", err)
		}
		tx, err := buildTransaction(id, invoiceID, userID, status, amount, sessionID, completedAt, createdAt, updatedAt)
		if err != nil {
			return nil, billing.NewStoreError("list transactions", err)
		}
		tx.HouseNo = houseNo
		txs = append(txs, tx)
	}
	return txs, billing.NewStoreError("list transactions", rows.Err())
}

func (s *Store) GetTransaction(ctx context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, billing.NewStoreError("get transaction", err)
	}
	return &tx, nil
}

func (s *Store) SetTransactionStatus(ctx context.Context, id billing.TransactionID, status billing.TransactionStatus, at time.Time) (billing.Transaction, error) {
	var updated billing.Transaction
	err := s.withTx(ctx, func(q querier) error {
		current, err := scanTransaction(q.QueryRowContext(ctx,
			`SELECT `+txColumns+` FROM transactions WHERE id = ?`, string(id)))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", id, billing.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if current.IsCompleted() {
			return fmt.Errorf("transaction %s is completed: %w", id, billing.ErrConflict)
		}

		var completedAt *time.Time
		if status == billing.StatusCompleted {
			completedAt = &at
		}
		_, err = q.ExecContext(ctx, `
			UPDATE transactions SET status = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND status <> 'COMPLETED'
		`, string(status), nullTime(completedAt), formatTime(at), string(id))
		if err != nil {
			return err
		}

		current.Status = status
		current.CompletedAt = completedAt
		current.UpdatedAt = at.UTC()
		updated = current
		return nil
	})
	if err != nil {
		return billing.Transaction{}, classify("set transaction status", err)
	}
	return updated, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id billing.TransactionID) error {
	err := s.withTx(ctx, func(q querier) error {
		var status string
		err := q.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = ?`, string(id)).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", id, billing.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if billing.TransactionStatus(status) == billing.StatusCompleted {
			return fmt.Errorf("transaction %s is completed: %w", id, billing.ErrConflict)
		}
		_, err = q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, string(id))
		return err
	})
	return classify("delete transaction", err)
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanHouse(row scanner) (billing.House, error) {
	var h billing.House
	var id, createdAt string
	var userID sql.NullString
	if err := row.Scan(&id, &h.HouseNo, &userID, &createdAt); err != nil {
		return billing.House{}, err
	}
	h.ID = billing.HouseID(id)
	h.UserID = billing.UserID(userID.String)

	var err error
	h.CreatedAt, err = parseTime(createdAt)
	return h, err
}

func scanInvoice(row scanner) (billing.Invoice, error) {
	var inv billing.Invoice
	var id, houseID, userID, createdAt string
	var txID, txUser, txStatus, txAmount, txSession, txCompleted, txCreated, txUpdated sql.NullString

	if err := row.Scan(&id, &houseID, &inv.HouseNo, &userID, &createdAt,
		&txID, &txUser, &txStatus, &txAmount, &txSession, &txCompleted, &txCreated, &txUpdated); err != nil {
		return billing.Invoice{}, err
	}

	inv.ID = billing.InvoiceID(id)
	inv.HouseID = billing.HouseID(houseID)
	inv.UserID = billing.UserID(userID)

	var err error
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Invoice{}, err
	}

	if txID.Valid {
		tx, err := buildTransaction(txID.String, id, txUser.String, txStatus.String, txAmount.String,
			txSession, txCompleted, txCreated.String, txUpdated.String)
		if err != nil {
			return billing.Invoice{}, err
		}
		inv.Transaction = &tx
	}
	return inv, nil
}

func scanTransaction(row scanner) (billing.Transaction, error) {
	var id, invoiceID, userID, status, amount, createdAt, updatedAt string
	var sessionID, completedAt sql.NullString
	if err := row.Scan(&id, &invoiceID, &userID, &status, &amount, &sessionID, &completedAt, &createdAt, &updatedAt); err != nil {
		return billing.Transaction{}, err
	}
	return buildTransaction(id, invoiceID, userID, status, amount, sessionID, completedAt, createdAt, updatedAt)
}

func buildTransaction(id, invoiceID, userID, status, amount string, sessionID, completedAt sql.NullString, createdAt, updatedAt string) (billing.Transaction, error) {
	tx := billing.Transaction{
		ID:        billing.TransactionID(id),
		InvoiceID: billing.InvoiceID(invoiceID),
		UserID:    billing.UserID(userID),
		Status:    billing.TransactionStatus(status),
		SessionID: sessionID.String,
	}

	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return billing.Transaction{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Transaction{}, err
	}
	if tx.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return billing.Transaction{}, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return billing.Transaction{}, err
		}
		tx.CompletedAt = &t
	}
	return tx, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so that lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// classify maps constraint violations onto billing sentinels. Errors that
// already carry a billing sentinel pass through unchanged.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, billing.ErrNotFound), errors.Is(err, billing.ErrConflict):
		return err
	case isUniqueConstraintError(err):
		return fmt.Errorf("%s: %w: %v", op, billing.ErrConflict, err)
	case isForeignKeyError(err):
		return fmt.Errorf("%s: %w: %v", op, billing.ErrNotFound, err)
	}
	return billing.NewStoreError(op, err)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
