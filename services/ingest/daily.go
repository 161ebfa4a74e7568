package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"

	"github.com/shopspring/decimal"
)

// DailyPriceWorker ingests daily OHLCV bars for active stocks.
type DailyPriceWorker struct {
	store  *marketstore.Store
	client *vendor.Client
}

// NewDailyPriceWorker creates the daily price worker
func NewDailyPriceWorker(store *marketstore.Store, client *vendor.Client) *DailyPriceWorker {
	return &DailyPriceWorker{store: store, client: client}
}

// Run fetches, normalizes and upserts daily bars for every active stock.
// One stock's failure never blocks the rest of the run.
func (w *DailyPriceWorker) Run(ctx context.Context, window Window) (Summary, error) {
	instruments, err := w.store.ActiveInstruments(ctx, "stock")
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Instruments: len(instruments)}
	var firstErr error
	for _, inst := range instruments {
		if err := w.syncOne(ctx, inst.ID, window, &summary); err != nil {
			log.Printf("Error syncing daily prices for %s: %v", inst.ID, err)
			summary.Failed = append(summary.Failed, inst.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return summary.finish(firstErr)
}

func (w *DailyPriceWorker) syncOne(ctx context.Context, stockID string, window Window, summary *Summary) error {
	last, known, err := w.store.LastBarDate(ctx, stockID, models.TimeframeDaily)
	if err != nil {
		return err
	}
	resolved, wanted := resolveWindow(window, last, known, time.Now())
	if !wanted {
		return nil
	}

	records, err := w.client.FetchDailyPrices(ctx, stockID, resolved.Start, resolved.End)
	if err != nil {
		return err
	}
	summary.Fetched += len(records)
	if len(records) == 0 {
		return nil
	}

	bars, err := NormalizeDailyPrices(records)
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

// Refetch re-ingests one stock's bar for a single date. The integrity
// checker calls this at most once per date per run.
func (w *DailyPriceWorker) Refetch(ctx context.Context, stockID string, date time.Time) error {
	day := models.DateOnly(date)
	records, err := w.client.FetchDailyPrices(ctx, stockID, day, day)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("vendor returned no data for %s on %s", stockID, day.Format("2006-01-02"))
	}
	bars, err := NormalizeDailyPrices(records)
	if err != nil {
		return err
	}
	_, err = w.store.UpsertBars(ctx, bars)
	return err
}

// NormalizeDailyPrices converts vendor daily records into store bars.
func NormalizeDailyPrices(records []vendor.DailyPriceRecord) ([]models.Bar, error) {
	bars := make([]models.Bar, 0, len(records))
	for _, r := range records {
		ts, err := parseVendorDate(r.Date)
		if err != nil {
			return nil, err
		}
		close := decimal.NewFromFloat(r.Close)
		bars = append(bars, models.Bar{
			StockID:   r.StockID,
			Timeframe: models.TimeframeDaily,
			TS:        ts,
			Open:      decimal.NewFromFloat(r.Open),
			High:      decimal.NewFromFloat(r.Max),
			Low:       decimal.NewFromFloat(r.Min),
			Close:     close,
			AdjClose:  close,
			Volume:    r.TradingVolume,
		})
	}
	return bars, nil
}
