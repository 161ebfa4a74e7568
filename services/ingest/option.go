package ingest

import (
	"context"
	"log"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"
)

// OptionBackfill bounds the default option-factor window.
const OptionBackfill = 90 * 24 * time.Hour

// OptionFactorWorker ingests daily derivative factors for option roots.
type OptionFactorWorker struct {
	store  *marketstore.Store
	client *vendor.Client
}

// NewOptionFactorWorker creates the option factor worker
func NewOptionFactorWorker(store *marketstore.Store, client *vendor.Client) *OptionFactorWorker {
	return &OptionFactorWorker{store: store, client: client}
}

// Run fetches, normalizes and upserts option factors for every active option
// root (e.g. TXO).
func (w *OptionFactorWorker) Run(ctx context.Context, window Window) (Summary, error) {
	instruments, err := w.store.ActiveInstruments(ctx, "option")
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Instruments: len(instruments)}
	var firstErr error
	for _, inst := range instruments {
		if err := w.syncOne(ctx, inst.ID, window, &summary); err != nil {
			log.Printf("Error syncing option factors for %s: %v", inst.ID, err)
			summary.Failed = append(summary.Failed, inst.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return summary.finish(firstErr)
}

func (w *OptionFactorWorker) syncOne(ctx context.Context, root string, window Window, summary *Summary) error {
	resolved := window
	if resolved.IsZero() {
		today := models.DateOnly(time.Now())
		resolved = Window{Start: today.Add(-OptionBackfill), End: today}
	}

	records, err := w.client.FetchOptionFactors(ctx, root, resolved.Start, resolved.End)
	if err != nil {
		return err
	}
	summary.Fetched += len(records)
	if len(records) == 0 {
		return nil
	}

	factors := NormalizeOptionFactors(records)
	result, err := w.store.UpsertOptionFactors(ctx, factors)
	if err != nil {
		return err
	}
	summary.merge(result)
	return nil
}

// NormalizeOptionFactors converts vendor factor records into store rows.
func NormalizeOptionFactors(records []vendor.OptionFactorRecord) []models.OptionFactor {
	factors := make([]models.OptionFactor, 0, len(records))
	for _, r := range records {
		date, err := parseVendorDate(r.Date)
		if err != nil {
			date = time.Time{}
		}
		factors = append(factors, models.OptionFactor{
			Date:         date,
			ContractID:   r.ContractID,
			ClosePrice:   r.Close,
			Settlement:   r.Settlement,
			ImpliedVol:   r.ImpliedVol,
			OpenInterest: r.OpenInterest,
		})
	}
	return factors
}
