package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"
)

// vendorCategories maps the vendor's investor names onto store categories.
// Names outside this map are rejected rows, not new categories.
var vendorCategories = map[string]string{
	"Foreign_Investor": models.CategoryForeign,
	"Investment_Trust": models.CategoryInvestmentTrust,
	"Dealer_self":      models.CategoryDealer,
}

// FlowWorker ingests institutional buy/sell order flow for active stocks.
type FlowWorker struct {
	store  *marketstore.Store
	client *vendor.Client
}

// NewFlowWorker creates the institutional flow worker
func NewFlowWorker(store *marketstore.Store, client *vendor.Client) *FlowWorker {
	return &FlowWorker{store: store, client: client}
}

// Run fetches, normalizes and upserts order-flow rows for every active stock.
func (w *FlowWorker) Run(ctx context.Context, window Window) (Summary, error) {
	instruments, err := w.store.ActiveInstruments(ctx, "stock")
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Instruments: len(instruments)}
	var firstErr error
	for _, inst := range instruments {
		if err := w.syncOne(ctx, inst.ID, window, &summary); err != nil {
			log.Printf("Error syncing institutional flow for %s: %v", inst.ID, err)
			summary.Failed = append(summary.Failed, inst.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return summary.finish(firstErr)
}

func (w *FlowWorker) syncOne(ctx context.Context, stockID string, window Window, summary *Summary) error {
	last, known, err := w.store.LastFlowDate(ctx, stockID)
	if err != nil {
		return err
	}
	resolved, wanted := resolveWindow(window, last, known, time.Now())
	if !wanted {
		return nil
	}

	records, err := w.client.FetchInstitutionalFlows(ctx, stockID, resolved.Start, resolved.End)
	if err != nil {
		return err
	}
	summary.Fetched += len(records)
	if len(records) == 0 {
		return nil
	}

	flows := NormalizeFlows(records)
	result, err := w.store.UpsertFlows(ctx, flows)
	if err != nil {
		return err
	}
	summary.merge(result)
	return nil
}

// Refetch re-ingests one stock's order flow for a single date.
func (w *FlowWorker) Refetch(ctx context.Context, stockID string, date time.Time) error {
	day := models.DateOnly(date)
	records, err := w.client.FetchInstitutionalFlows(ctx, stockID, day, day)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("vendor returned no flow data for %s on %s", stockID, day.Format("2006-01-02"))
	}
	_, err = w.store.UpsertFlows(ctx, NormalizeFlows(records))
	return err
}

// NormalizeFlows converts vendor flow records into store rows. Unknown
// investor names pass through with the raw name so the upsert layer rejects
// them as individual rows instead of dropping them silently.
func NormalizeFlows(records []vendor.InstFlowRecord) []models.InstitutionalFlow {
	flows := make([]models.InstitutionalFlow, 0, len(records))
	for _, r := range records {
		date, err := parseVendorDate(r.Date)
		if err != nil {
			// keep the row; Validate rejects the zero date with a reason
			date = time.Time{}
		}
		category, ok := vendorCategories[r.Name]
		if !ok {
			category = r.Name
		}
		flows = append(flows, models.InstitutionalFlow{
			Date:       date,
			StockID:    r.StockID,
			Category:   category,
			BuyVolume:  r.Buy,
			SellVolume: r.Sell,
		})
	}
	return flows
}
