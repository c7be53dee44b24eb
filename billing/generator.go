/*
generator.go - Monthly invoice generation

PURPOSE:
  Creates one invoice per house per calendar month, each carrying a single
  MONTHLY_BILL item priced from the settings snapshot taken at run start.

DESIGN:
  - Idempotent: a house that already has an invoice inside the current
    month window is skipped, so reruns and crash recovery are safe
  - Invoice timestamps are truncated to whole seconds
  - Houses without a resident are counted as failed and skipped
  - Any store error aborts the rest of the run; rows already written stay
    written and are detected as "skipped" by the next run

SEE ALSO:
  - period.go: MonthWindow
  - pricing.go: Prices snapshot
  - scheduler/scheduler.go: Non-overlapping execution
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Job names used by the scheduler and the admin API.
const (
	JobGenerateInvoices = "generate-invoices"
	JobApplySurcharges  = "apply-surcharges"
)

// InvoiceGenerator creates monthly invoices.
type InvoiceGenerator struct {
	Store    Store
	Pricing  *PricingResolver
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
	Logger   *slog.Logger
}

// NewInvoiceGenerator creates a generator using local time and random ids.
func NewInvoiceGenerator(store Store, pricing *PricingResolver, logger *slog.Logger) *InvoiceGenerator {
	return &InvoiceGenerator{
		Store:    store,
		Pricing:  pricing,
		Location: time.Local,
		Now:      time.Now,
		NewID:    uuid.NewString,
		Logger:   orDefault(logger),
	}
}

// Run performs one generation pass over every house.
func (g *InvoiceGenerator) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{Job: JobGenerateInvoices, StartedAt: g.Now()}
	log := g.Logger.With("job", JobGenerateInvoices)

	houses, err := g.Store.ListHouses(ctx)
	if err != nil {
		return g.finish(report), fmt.Errorf("list houses: %w", err)
	}
	if len(houses) == 0 {
		log.Info("no houses found, skipping invoice generation")
		return g.finish(report), nil
	}

	prices, err := g.Pricing.Snapshot(ctx)
	if err != nil {
		return g.finish(report), fmt.Errorf("load prices: %w", err)
	}

	now := g.Now()
	window := MonthWindow(now, g.Location)
	stamp := InvoiceTimestamp(now)
	amount := prices.AmountFor(CategoryMonthlyBill)

	for _, house := range houses {
		if house.UserID == "" {
			log.Warn("house has no resident, skipping", "house_id", house.ID, "house_no", house.HouseNo)
			report.Failed++
			continue
		}

		existing, err := g.Store.FindInvoiceInWindow(ctx, house.ID, window.Start, window.End)
		if err != nil {
			return g.finish(report), fmt.Errorf("check invoice for house %s: %w", house.ID, err)
		}
		if existing != nil {
			log.Debug("invoice already exists for period", "house_id", house.ID, "invoice_id", existing.ID, "period", window)
			report.Skipped++
			continue
		}

		invoiceID := InvoiceID(g.NewID())
		inv := Invoice{
			ID:        invoiceID,
			HouseID:   house.ID,
			UserID:    house.UserID,
			CreatedAt: stamp,
			Items: []Item{{
				ID:        ItemID(g.NewID()),
				InvoiceID: invoiceID,
				Category:  CategoryMonthlyBill,
				Amount:    amount,
				CreatedAt: stamp,
			}},
		}

		if err := g.Store.CreateInvoice(ctx, inv); err != nil {
			switch {
			case errors.Is(err, ErrConflict):
				report.Skipped++
				continue
			case errors.Is(err, ErrNotFound):
				// House removed since ListHouses.
				log.Warn("house disappeared during run, skipping", "house_id", house.ID, "error", err)
				report.Failed++
				continue
			}
			return g.finish(report), fmt.Errorf("create invoice for house %s: %w", house.ID, err)
		}

		report.Generated++
		log.Debug("generated invoice", "house_id", house.ID, "house_no", house.HouseNo, "invoice_id", invoiceID, "amount", amount)
	}

	report = g.finish(report)
	log.Info("invoice generation completed",
		"generated", report.Generated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration())
	return report, nil
}

func (g *InvoiceGenerator) finish(r RunReport) RunReport {
	r.FinishedAt = g.Now()
	return r
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
