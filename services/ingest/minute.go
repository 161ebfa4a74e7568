package ingest

import (
	"context"
	"log"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"

	"github.com/shopspring/decimal"
)

// MinuteBackfill bounds the default minute-bar window; the vendor keeps far
// less minute history than daily history.
const MinuteBackfill = 5 * 24 * time.Hour

// MinutePriceWorker ingests intraday minute bars for active stocks.
type MinutePriceWorker struct {
	store  *marketstore.Store
	client *vendor.Client
}

// NewMinutePriceWorker creates the minute price worker
func NewMinutePriceWorker(store *marketstore.Store, client *vendor.Client) *MinutePriceWorker {
	return &MinutePriceWorker{store: store, client: client}
}

// Run fetches, normalizes and upserts minute bars for every active stock.
func (w *MinutePriceWorker) Run(ctx context.Context, window Window) (Summary, error) {
	instruments, err := w.store.ActiveInstruments(ctx, "stock")
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Instruments: len(instruments)}
	var firstErr error
	for _, inst := range instruments {
		if err := w.syncOne(ctx, inst.ID, window, &summary); err != nil {
			log.Printf("Error syncing minute prices for %s: %v", inst.ID, err)
			summary.Failed = append(summary.Failed, inst.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return summary.finish(firstErr)
}

func (w *MinutePriceWorker) syncOne(ctx context.Context, stockID string, window Window, summary *Summary) error {
	now := time.Now()
	resolved := window
	if resolved.IsZero() {
		last, known, err := w.store.LastBarDate(ctx, stockID, models.TimeframeMinute)
		if err != nil {
			return err
		}
		start := models.DateOnly(now).Add(-MinuteBackfill)
		if known && models.DateOnly(last).After(start) {
			start = models.DateOnly(last)
		}
		resolved = Window{Start: start, End: models.DateOnly(now)}
	}

	records, err := w.client.FetchMinutePrices(ctx, stockID, resolved.Start, resolved.End)
	if err != nil {
		return err
	}
	summary.Fetched += len(records)
	if len(records) == 0 {
		return nil
	}

	bars, err := NormalizeMinutePrices(stockID, records)
	if err != nil {
		return err
	}
	result, err := w.store.UpsertBars(ctx, bars)
	if err != nil {
		return err
	}
	summary.merge(result)
	return nil
}

// NormalizeMinutePrices converts vendor minute records into store bars.
func NormalizeMinutePrices(stockID string, records []vendor.MinutePriceRecord) ([]models.Bar, error) {
	bars := make([]models.Bar, 0, len(records))
	for _, r := range records {
		ts, err := parseVendorMinute(r.Time)
		if err != nil {
			return nil, err
		}
		id := r.StockID
		if id == "" {
			id = stockID
		}
		bars = append(bars, models.Bar{
			StockID:   id,
			Timeframe: models.TimeframeMinute,
			TS:        ts,
			Open:      decimal.NewFromFloat(r.Open),
			High:      decimal.NewFromFloat(r.Max),
			Low:       decimal.NewFromFloat(r.Min),
			Close:     decimal.NewFromFloat(r.Close),
			AdjClose:  decimal.NewFromFloat(r.Close),
			Volume:    r.Volume,
		})
	}
	return bars, nil
}
