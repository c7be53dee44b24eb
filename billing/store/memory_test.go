package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
)

var march1 = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newSeeded(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveHouse(ctx, billing.House{ID: "h-1", HouseNo: "A-1", UserID: "user-1"}))
	require.NoError(t, mem.CreateInvoice(ctx, billing.Invoice{
		ID: "inv-1", HouseID: "h-1", UserID: "user-1", CreatedAt: march1,
		Items: []billing.Item{{ID: "it-1", InvoiceID: "inv-1", Category: billing.CategoryMonthlyBill, Amount: decimal.NewFromInt(1000), CreatedAt: march1}},
	}))
	return mem
}

func TestMemory_ReturnsCopies(t *testing.T) {
	mem := newSeeded(t)
	ctx := context.Background()

	inv, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	inv.Items[0].Amount = decimal.NewFromInt(1)
	inv.Items = append(inv.Items, billing.Item{ID: "sneaky"})

	again, err := mem.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, again.Items, 1)
	assert.Equal(t, "1000", again.Total().String())
	assert.Equal(t, "A-1", again.HouseNo)
}

func TestMemory_TransactionLifecycle(t *testing.T) {
	mem := newSeeded(t)
	ctx := context.Background()

	tx, err := mem.UpsertPendingTransaction(ctx, billing.Transaction{
		ID: "tx-1", InvoiceID: "inv-1", UserID: "user-1", Amount: decimal.NewFromInt(1000), SessionID: "cs_1", CreatedAt: march1, UpdatedAt: march1,
	})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, tx.Status)

	paidAt := march1.Add(time.Hour)
	changed, err := mem.CompleteTransaction(ctx, billing.Transaction{ID: "tx-other", InvoiceID: "inv-1", CompletedAt: &paidAt, UpdatedAt: paidAt})
	require.NoError(t, err)
	assert.True(t, changed)

	later := paidAt.Add(time.Hour)
	changed, err = mem.CompleteTransaction(ctx, billing.Transaction{ID: "tx-other", InvoiceID: "inv-1", CompletedAt: &later, UpdatedAt: later})
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = mem.UpsertPendingTransaction(ctx, billing.Transaction{ID: "tx-2", InvoiceID: "inv-1", SessionID: "cs_2"})
	assert.ErrorIs(t, err, billing.ErrAlreadyPaid)

	got, err := mem.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CompletedAt.Equal(paidAt))

	listed, err := mem.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "A-1", listed[0].HouseNo)

	_, err = mem.SetTransactionStatus(ctx, "tx-1", billing.StatusFailed, later)
	assert.ErrorIs(t, err, billing.ErrConflict)
	assert.ErrorIs(t, mem.DeleteTransaction(ctx, "tx-1"), billing.ErrConflict)
}

func TestMemory_Guards(t *testing.T) {
	mem := newSeeded(t)
	ctx := context.Background()

	surcharge := billing.Item{ID: "late-1", InvoiceID: "inv-1", Category: billing.CategoryLateSurcharge, Amount: decimal.NewFromInt(100)}
	require.NoError(t, mem.AppendItem(ctx, surcharge))
	surcharge.ID = "late-2"
	assert.ErrorIs(t, mem.AppendItem(ctx, surcharge), billing.ErrConflict)

	assert.ErrorIs(t, mem.DeleteHouse(ctx, "h-1"), billing.ErrConflict)
	assert.ErrorIs(t, mem.AppendItem(ctx, billing.Item{ID: "x", InvoiceID: "inv-404"}), billing.ErrNotFound)
}

func TestMemory_FailWith(t *testing.T) {
	mem := newSeeded(t)
	ctx := context.Background()

	mem.FailWith("Ping", errors.New("down"))
	err := mem.Ping(ctx)
	assert.ErrorIs(t, err, billing.ErrStoreUnavailable)

	var storeErr *billing.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "Ping", storeErr.Op)

	mem.FailWith("Ping", nil)
	assert.NoError(t, mem.Ping(ctx))
}
