package ingest

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/futures"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"

	"github.com/shopspring/decimal"
)

// RollLead is how many calendar days before expiry the continuous series
// rolls to the next contract.
const RollLead = 3 * 24 * time.Hour

// FuturesWorker ingests per-contract daily bars for futures roots,
// auto-registers newly discovered contracts, and rebuilds each root's
// continuous series.
type FuturesWorker struct {
	store    *marketstore.Store
	client   *vendor.Client
	stitcher *futures.Stitcher
}

// NewFuturesWorker creates the futures worker
func NewFuturesWorker(store *marketstore.Store, client *vendor.Client, stitcher *futures.Stitcher) *FuturesWorker {
	return &FuturesWorker{store: store, client: client, stitcher: stitcher}
}

// Run syncs every active futures root. Per-root failures are isolated.
func (w *FuturesWorker) Run(ctx context.Context, window Window) (Summary, error) {
	instruments, err := w.store.ActiveInstruments(ctx, "futures")
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Instruments: len(instruments)}
	var firstErr error
	for _, inst := range instruments {
		if err := w.syncRoot(ctx, inst.ID, window, &summary); err != nil {
			log.Printf("Error syncing futures root %s: %v", inst.ID, err)
			summary.Failed = append(summary.Failed, inst.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return summary.finish(firstErr)
}

func (w *FuturesWorker) syncRoot(ctx context.Context, root string, window Window, summary *Summary) error {
	continuousID := models.ContinuousID(root)
	last, known, err := w.store.LastBarDate(ctx, continuousID, models.TimeframeDaily)
	if err != nil {
		return err
	}
	resolved, wanted := resolveWindow(window, last, known, time.Now())
	if !wanted {
		return nil
	}

	records, err := w.client.FetchFuturesDaily(ctx, root, resolved.Start, resolved.End)
	if err != nil {
		return err
	}
	summary.Fetched += len(records)

	// Contracts seen in the payload but missing from the registry are
	// registered before any stitching happens.
	byCode := groupByContract(root, records)
	for code := range byCode {
		contract, err := buildContract(root, code)
		if err != nil {
			log.Printf("Skipping unrecognized futures contract %s: %v", code, err)
			delete(byCode, code)
			continue
		}
		created, err := w.store.RegisterContract(ctx, contract)
		if err != nil {
			return err
		}
		if created {
			log.Printf("Registered new futures contract %s (expiry %s)", code, contract.ExpiryDate.Format("2006-01-02"))
		}
	}

	for code, contractRecords := range byCode {
		bars := normalizeFuturesBars(code, contractRecords)
		result, err := w.store.UpsertBars(ctx, bars)
		if err != nil {
			return err
		}
		summary.merge(result)
	}

	return w.Restitch(ctx, root, summary)
}

// Restitch rebuilds the continuous series for root from every stored
// contract series and upserts the result. Safe to re-run: the stitcher is
// deterministic and the upsert layer is idempotent.
func (w *FuturesWorker) Restitch(ctx context.Context, root string, summary *Summary) error {
	contracts, err := w.store.ContractsByRoot(ctx, root)
	if err != nil {
		return err
	}
	if len(contracts) == 0 {
		return nil
	}

	barsByCode := make(map[string][]models.Bar, len(contracts))
	for _, c := range contracts {
		bars, err := w.store.DailyBars(ctx, c.Code, c.ExpiryDate.AddDate(-1, 0, 0), c.ExpiryDate)
		if err != nil {
			return err
		}
		barsByCode[c.Code] = bars
	}

	stitched, err := w.stitcher.Stitch(root, contracts, barsByCode)
	if err != nil {
		return err
	}
	result, err := w.store.UpsertBars(ctx, stitched)
	if err != nil {
		return err
	}
	if summary != nil {
		summary.merge(result)
	}
	return nil
}

// groupByContract splits the payload into per-contract record sets. Spread
// and weekly legs (non-numeric contract dates) are left out of the monthly
// continuous pipeline.
func groupByContract(root string, records []vendor.FuturesDailyRecord) map[string][]vendor.FuturesDailyRecord {
	byCode := make(map[string][]vendor.FuturesDailyRecord)
	for _, r := range records {
		if r.FuturesID != root {
			continue
		}
		if len(r.ContractDate) != 6 {
			continue
		}
		if _, err := strconv.Atoi(r.ContractDate); err != nil {
			continue
		}
		code := root + r.ContractDate
		byCode[code] = append(byCode[code], r)
	}
	return byCode
}

// buildContract derives registration fields from a contract code like
// "TXF202412": expiry is the third Wednesday of the delivery month, roll a
// few days before.
func buildContract(root, code string) (*models.FuturesContract, error) {
	suffix := strings.TrimPrefix(code, root)
	if len(suffix) != 6 {
		return nil, fmt.Errorf("contract code %q lacks a YYYYMM delivery month", code)
	}
	year, err := strconv.Atoi(suffix[:4])
	if err != nil {
		return nil, err
	}
	month, err := strconv.Atoi(suffix[4:])
	if err != nil {
		return nil, err
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("delivery month %d out of range in %q", month, code)
	}
	expiry := thirdWednesday(year, time.Month(month))
	return &models.FuturesContract{
		Code:       code,
		Root:       root,
		ExpiryDate: expiry,
		RollDate:   expiry.Add(-RollLead),
	}, nil
}

// thirdWednesday returns the TAIFEX monthly settlement day.
func thirdWednesday(year int, month time.Month) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Wednesday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+14)
}

func normalizeFuturesBars(code string, records []vendor.FuturesDailyRecord) []models.Bar {
	bars := make([]models.Bar, 0, len(records))
	for _, r := range records {
		ts, err := parseVendorDate(r.Date)
		if err != nil {
			ts = time.Time{}
		}
		close := decimal.NewFromFloat(r.Close)
		bars = append(bars, models.Bar{
			StockID:   code,
			Timeframe: models.TimeframeDaily,
			TS:        ts,
			Open:      decimal.NewFromFloat(r.Open),
			High:      decimal.NewFromFloat(r.Max),
			Low:       decimal.NewFromFloat(r.Min),
			Close:     close,
			AdjClose:  close,
			Volume:    r.Volume,
		})
	}
	return bars
}
