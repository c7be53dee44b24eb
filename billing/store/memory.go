// Package store provides in-memory billing.AdminStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ billing.AdminStore = (*Memory)(nil)

// Memory keeps the ledger in maps guarded by a single RWMutex. Every
// method is atomic, which gives the same per-invoice uniqueness guarantees
// as the relational store's constraints.
type Memory struct {
	mu           sync.RWMutex
	houses       map[billing.HouseID]billing.House
	invoices     map[billing.InvoiceID]billing.Invoice // items/transaction kept separately
	items        map[billing.InvoiceID][]billing.Item
	transactions map[billing.InvoiceID]billing.Transaction
	settings     map[billing.Category]billing.Setting
	failures     map[string]error
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		houses:       make(map[billing.HouseID]billing.House),
		invoices:     make(map[billing.InvoiceID]billing.Invoice),
		items:        make(map[billing.InvoiceID][]billing.Item),
		transactions: make(map[billing.InvoiceID]billing.Transaction),
		settings:     make(map[billing.Category]billing.Setting),
		failures:     make(map[string]error),
	}
}

// FailWith makes every later call to the named method return err wrapped
// as a store error. A nil err clears the failure.
func (m *Memory) FailWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *Memory) fail(method string) error {
	return billing.NewStoreError(method, m.failures[method])
}

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) Settings(_ context.Context) (map[billing.Category]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("Settings"); err != nil {
		return nil, err
	}

	out := make(map[billing.Category]decimal.Decimal, len(m.settings))
	for k, s := range m.settings {
		out[k] = s.Value
	}
	return out, nil
}

func (m *Memory) PutSetting(_ context.Context, s billing.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("PutSetting"); err != nil {
		return err
	}
	m.settings[s.Key] = s
	return nil
}

// =============================================================================
// HOUSES
// =============================================================================

func (m *Memory) SaveHouse(_ context.Context, h billing.House) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SaveHouse"); err != nil {
		return err
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	m.houses[h.ID] = h
	return nil
}

func (m *Memory) GetHouse(_ context.Context, id billing.HouseID) (*billing.House, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.houses[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *Memory) ListHouses(_ context.Context) ([]billing.House, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListHouses"); err != nil {
		return nil, err
	}

	houses := make([]billing.House, 0, len(m.houses))
	for _, h := range m.houses {
		houses = append(houses, h)
	}
	sort.Slice(houses, func(i, j int) bool { return houses[i].HouseNo < houses[j].HouseNo })
	return houses, nil
}

func (m *Memory) DeleteHouse(_ context.Context, id billing.HouseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.houses[id]; !ok {
		return fmt.Errorf("house %s: %w", id, billing.ErrNotFound)
	}
	for _, inv := range m.invoices {
		if inv.HouseID == id {
			return fmt.Errorf("house %s has invoices: %w", id, billing.ErrConflict)
		}
	}
	delete(m.houses, id)
	return nil
}

// =============================================================================
// INVOICES AND ITEMS
// =============================================================================

func (m *Memory) FindInvoiceInWindow(_ context.Context, houseID billing.HouseID, from, to time.Time) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("FindInvoiceInWindow"); err != nil {
		return nil, err
	}

	for _, inv := range m.invoices {
		if inv.HouseID != houseID {
			continue
		}
		if !inv.CreatedAt.Before(from) && !inv.CreatedAt.After(to) {
			full := m.assembleLocked(inv)
			return &full, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateInvoice"); err != nil {
		return err
	}

	if _, ok := m.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, billing.ErrConflict)
	}
	house, ok := m.houses[inv.HouseID]
	if !ok {
		return fmt.Errorf("house %s: %w", inv.HouseID, billing.ErrNotFound)
	}

	items := make([]billing.Item, len(inv.Items))
	copy(items, inv.Items)
	inv.HouseNo = house.HouseNo
	inv.Items = nil
	inv.Transaction = nil

	m.invoices[inv.ID] = inv
	m.items[inv.ID] = items
	return nil
}

func (m *Memory) AppendItem(_ context.Context, item billing.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AppendItem"); err != nil {
		return err
	}

	if _, ok := m.invoices[item.InvoiceID]; !ok {
		return fmt.Errorf("invoice %s: %w", item.InvoiceID, billing.ErrNotFound)
	}
	if item.Category == billing.CategoryLateSurcharge {
		for _, existing := range m.items[item.InvoiceID] {
			if existing.Category == billing.CategoryLateSurcharge {
				return fmt.Errorf("invoice %s already surcharged: %w", item.InvoiceID, billing.ErrConflict)
			}
		}
	}
	m.items[item.InvoiceID] = append(m.items[item.InvoiceID], item)
	return nil
}

func (m *Memory) ListUnpaidInvoices(_ context.Context, cutoff time.Time) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListUnpaidInvoices"); err != nil {
		return nil, err
	}

	var result []billing.Invoice
	for id, inv := range m.invoices {
		if inv.CreatedAt.After(cutoff) {
			continue
		}
		if _, hasTx := m.transactions[id]; hasTx {
			continue
		}
		result = append(result, m.assembleLocked(inv))
	}
	sortOldestFirst(result)
	return result, nil
}

func (m *Memory) GetInvoice(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetInvoice"); err != nil {
		return nil, err
	}

	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	full := m.assembleLocked(inv)
	return &full, nil
}

func (m *Memory) ListInvoicesByUser(_ context.Context, userID billing.UserID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Invoice
	for _, inv := range m.invoices {
		if inv.UserID == userID {
			result = append(result, m.assembleLocked(inv))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) DeleteInvoice(_ context.Context, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[id]; !ok {
		return fmt.Errorf("invoice %s: %w", id, billing.ErrNotFound)
	}
	if _, hasTx := m.transactions[id]; hasTx {
		return fmt.Errorf("invoice %s has a transaction: %w", id, billing.ErrConflict)
	}
	delete(m.invoices, id)
	delete(m.items, id)
	return nil
}

// assembleLocked returns a deep copy of inv with its items and transaction.
func (m *Memory) assembleLocked(inv billing.Invoice) billing.Invoice {
	items := m.items[inv.ID]
	inv.Items = make([]billing.Item, len(items))
	copy(inv.Items, items)
	sort.SliceStable(inv.Items, func(i, j int) bool { return inv.Items[i].CreatedAt.Before(inv.Items[j].CreatedAt) })

	if tx, ok := m.transactions[inv.ID]; ok {
		inv.Transaction = copyTx(tx)
	}
	return inv
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) UpsertPendingTransaction(_ context.Context, tx billing.Transaction) (billing.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertPendingTransaction"); err != nil {
		return billing.Transaction{}, err
	}

	if _, ok := m.invoices[tx.InvoiceID]; !ok {
		return billing.Transaction{}, fmt.Errorf("invoice %s: %w", tx.InvoiceID, billing.ErrNotFound)
	}

	existing, ok := m.transactions[tx.InvoiceID]
	if !ok {
		tx.Status = billing.StatusPending
		tx.CompletedAt = nil
		m.transactions[tx.InvoiceID] = tx
		return *copyTx(tx), nil
	}
	if existing.Status == billing.StatusCompleted {
		return billing.Transaction{}, fmt.Errorf("invoice %s: %w", tx.InvoiceID, billing.ErrAlreadyPaid)
	}

	existing.Status = billing.StatusPending
	existing.Amount = tx.Amount
	existing.SessionID = tx.SessionID
	existing.CompletedAt = nil
	existing.UpdatedAt = tx.UpdatedAt
	m.transactions[tx.InvoiceID] = existing
	return *copyTx(existing), nil
}

func (m *Memory) CompleteTransaction(_ context.Context, tx billing.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CompleteTransaction"); err != nil {
		return false, err
	}

	if _, ok := m.invoices[tx.InvoiceID]; !ok {
		return false, fmt.Errorf("invoice %s: %w", tx.InvoiceID, billing.ErrNotFound)
	}

	existing, ok := m.transactions[tx.InvoiceID]
	if !ok {
		tx.Status = billing.StatusCompleted
		m.transactions[tx.InvoiceID] = *copyTx(tx)
		return true, nil
	}
	if existing.Status == billing.StatusCompleted {
		return false, nil
	}

	existing.Status = billing.StatusCompleted
	existing.CompletedAt = copyTime(tx.CompletedAt)
	existing.UpdatedAt = tx.UpdatedAt
	m.transactions[tx.InvoiceID] = existing
	return true, nil
}

func (m *Memory) ListTransactions(_ context.Context) ([]billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.Transaction, 0, len(m.transactions))
	for invoiceID, tx := range m.transactions {
		listed := copyTx(tx)
		listed.HouseNo = m.invoices[invoiceID].HouseNo
		result = append(result, *listed)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) GetTransaction(_ context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, tx, ok := m.findTxLocked(id)
	if !ok {
		return nil, nil
	}
	return copyTx(tx), nil
}

func (m *Memory) SetTransactionStatus(_ context.Context, id billing.TransactionID, status billing.TransactionStatus, at time.Time) (billing.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoiceID, tx, ok := m.findTxLocked(id)
	if !ok {
		return billing.Transaction{}, fmt.Errorf("transaction %s: %w", id, billing.ErrNotFound)
	}
	if tx.Status == billing.StatusCompleted {
		return billing.Transaction{}, fmt.Errorf("transaction %s is completed: %w", id, billing.ErrConflict)
	}

	tx.Status = status
	tx.UpdatedAt = at
	tx.CompletedAt = nil
	if status == billing.StatusCompleted {
		tx.CompletedAt = &at
	}
	m.transactions[invoiceID] = tx
	return *copyTx(tx), nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id billing.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoiceID, tx, ok := m.findTxLocked(id)
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, billing.ErrNotFound)
	}
	if tx.Status == billing.StatusCompleted {
		return fmt.Errorf("transaction %s is completed: %w", id, billing.ErrConflict)
	}
	delete(m.transactions, invoiceID)
	return nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fail("Ping")
}

func (m *Memory) findTxLocked(id billing.TransactionID) (billing.InvoiceID, billing.Transaction, bool) {
	for invoiceID, tx := range m.transactions {
		if tx.ID == id {
			return invoiceID, tx, true
		}
	}
	return "", billing.Transaction{}, false
}

// =============================================================================
// HELPERS
// =============================================================================

func copyTx(tx billing.Transaction) *billing.Transaction {
	tx.CompletedAt = copyTime(tx.CompletedAt)
	return &tx
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sortOldestFirst(invoices []billing.Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		if invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].ID < invoices[j].ID
		}
		return invoices[i].CreatedAt.Before(invoices[j].CreatedAt)
	})
}
