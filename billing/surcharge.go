/*
surcharge.go - Late surcharge escalation

PURPOSE:
  Appends one LATE_SURCHARGE item to every invoice that is still unpaid
  once its grace period has elapsed.

ELIGIBILITY:
  An invoice is eligible when it was created on or before the cutoff
  (end of the day GraceDays ago) and has NO transaction at all. Any
  transaction, even a PENDING one that never completes, exempts the
  invoice forever: starting a payment suppresses new surcharges. This
  mirrors the production policy and is kept deliberately.

IDEMPOTENCY:
  Invoices that already carry a LATE_SURCHARGE are skipped. The store also
  rejects a second surcharge with ErrConflict, which is counted as skipped.
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

// DefaultGraceDays is the number of days an invoice may stay unpaid before
// it is surcharged.
const DefaultGraceDays = 5

// SurchargeEscalator appends late fees to overdue invoices.
type SurchargeEscalator struct {
	Store     Store
	Pricing   *PricingResolver
	GraceDays int
	Location  *time.Location
	Now       func() time.Time
	NewID     func() string
	Logger    *slog.Logger
}

// NewSurchargeEscalator creates an escalator with the default grace period.
func NewSurchargeEscalator(store Store, pricing *PricingResolver, logger *slog.Logger) *SurchargeEscalator {
	return &SurchargeEscalator{
		Store:     store,
		Pricing:   pricing,
		GraceDays: DefaultGraceDays,
		Location:  time.Local,
		Now:       time.Now,
		NewID:     uuid.NewString,
		Logger:    orDefault(logger),
	}
}

// Run performs one escalation pass.
func (e *SurchargeEscalator) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{Job: JobApplySurcharges, StartedAt: e.Now()}
	log := e.Logger.With("job", JobApplySurcharges)

	now := e.Now()
	cutoff := GraceCutoff(now, e.GraceDays, e.Location)

	invoices, err := e.Store.ListUnpaidInvoices(ctx, cutoff)
	if err != nil {
		return e.finish(report), fmt.Errorf("list unpaid invoices: %w", err)
	}
	if len(invoices) == 0 {
		log.Debug("no overdue invoices", "cutoff", cutoff)
		return e.finish(report), nil
	}

	prices, err := e.Pricing.Snapshot(ctx)
	if err != nil {
		return e.finish(report), fmt.Errorf("load prices: %w", err)
	}
	amount := prices.AmountFor(CategoryLateSurcharge)

	for _, inv := range invoices {
		if inv.Has(CategoryLateSurcharge) {
			report.Skipped++
			continue
		}
		if !inv.Has(CategoryMonthlyBill) {
			log.Warn("invoice has no monthly bill, not surcharging", "invoice_id", inv.ID)
			report.Failed++
			continue
		}

		item := Item{
			ID:        ItemID(e.NewID()),
			InvoiceID: inv.ID,
			Category:  CategoryLateSurcharge,
			Amount:    amount,
			CreatedAt: InvoiceTimestamp(now),
		}
		if err := e.Store.AppendItem(ctx, item); err != nil {
			switch {
			case errors.Is(err, ErrConflict):
				report.Skipped++
				continue
			case errors.Is(err, ErrNotFound):
				// Invoice removed since ListUnpaidInvoices.
				log.Warn("invoice disappeared during run, skipping", "invoice_id", inv.ID, "error", err)
				report.Failed++
				continue
			}
			return e.finish(report), fmt.Errorf("append surcharge to invoice %s: %w", inv.ID, err)
		}

		report.Generated++
		log.Debug("added late surcharge", "invoice_id", inv.ID, "house_id", inv.HouseID, "amount", amount)
	}

	report = e.finish(report)
	log.Info("late surcharge check completed",
		"added", report.Generated,
		"already_had", report.Skipped,
		"failed", report.Failed,
		"cutoff", cutoff,
		"duration", report.Duration())
	return report, nil
}

func (e *SurchargeEscalator) finish(r RunReport) RunReport {
	r.FinishedAt = e.Now()
	return r
}
