package integrity

import (
	"context"
	"fmt"
	"log"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/calendar"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/syncerr"

	"github.com/shopspring/decimal"
)

// Refetcher is the slice of an ingestion worker the checker needs for the
// re-fetch repair path.
type Refetcher interface {
	Refetch(ctx context.Context, stockID string, date time.Time) error
}

// Checker compares expected trading-calendar coverage against stored data,
// classifies gaps, and drives repair. It writes bars only through the upsert
// layer, so re-running on an unchanged dataset mutates nothing.
type Checker struct {
	store      *marketstore.Store
	cal        calendar.Calendar
	refetchers map[string]Refetcher
}

// NewChecker creates a checker. refetchers maps domain name to the worker
// used for the re-fetch repair path; domains without one fall back to
// unresolved.
func NewChecker(store *marketstore.Store, cal calendar.Calendar, refetchers map[string]Refetcher) *Checker {
	return &Checker{store: store, cal: cal, refetchers: refetchers}
}

// Check runs one integrity pass for a domain over [start, end]. stockIDs
// empty means every active stock. Each instrument is its own bulkhead: an
// instrument that cannot be checked gets a report with an unresolved note,
// the rest of the run continues. Reports are persisted append-only.
func (c *Checker) Check(ctx context.Context, domain string, stockIDs []string, start, end time.Time, autoFix bool) ([]models.IntegrityReport, error) {
	switch domain {
	case models.DomainDailyPrice, models.DomainInstFlow:
	default:
		return nil, fmt.Errorf("integrity check not supported for domain %q", domain)
	}

	if len(stockIDs) == 0 {
		instruments, err := c.store.ActiveInstruments(ctx, "stock")
		if err != nil {
			return nil, err
		}
		for _, inst := range instruments {
			stockIDs = append(stockIDs, inst.ID)
		}
	}

	expected, err := c.cal.ExpectedTradingDates(ctx, start, end)
	if err != nil {
		return nil, syncerr.Upstream("integrity.Check", err)
	}

	checkedAt := time.Now()
	// Re-fetch is attempted at most once per (stock, date) per run, whatever
	// order the instruments are visited in.
	requeued := make(map[string]bool)

	var reports []models.IntegrityReport
	for _, stockID := range stockIDs {
		report, err := c.checkInstrument(ctx, domain, stockID, expected, start, end, autoFix, requeued)
		if err != nil {
			log.Printf("Error checking %s/%s: %v", domain, stockID, err)
			report = models.IntegrityReport{StockID: stockID, Domain: domain}
			report.SetGaps([]models.GapEntry{{Resolution: models.ResolutionUnresolved, Detail: err.Error()}})
		}
		report.CheckedAt = checkedAt
		if err := c.store.DB().WithContext(ctx).Create(&report).Error; err != nil {
			return reports, syncerr.Storage("integrity.Check", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (c *Checker) checkInstrument(ctx context.Context, domain, stockID string, expected []time.Time, start, end time.Time, autoFix bool, requeued map[string]bool) (models.IntegrityReport, error) {
	report := models.IntegrityReport{StockID: stockID, Domain: domain}

	var present []time.Time
	var err error
	switch domain {
	case models.DomainDailyPrice:
		present, err = c.store.PresentBarDates(ctx, stockID, models.TimeframeDaily, start, end)
	case models.DomainInstFlow:
		present, err = c.store.PresentFlowDates(ctx, stockID, start, end)
	}
	if err != nil {
		return report, err
	}

	have := make(map[string]bool, len(present))
	for _, d := range present {
		have[models.DateOnly(d).Format("2006-01-02")] = true
	}

	var entries []models.GapEntry
	for _, day := range expected {
		key := day.Format("2006-01-02")
		if have[key] {
			continue
		}
		entries = append(entries, c.resolveGap(ctx, domain, stockID, day, autoFix, requeued))
	}

	if err := report.SetGaps(entries); err != nil {
		return report, err
	}
	return report, nil
}

// resolveGap classifies and, when allowed, repairs one missing date.
func (c *Checker) resolveGap(ctx context.Context, domain, stockID string, day time.Time, autoFix bool, requeued map[string]bool) models.GapEntry {
	entry := models.GapEntry{Date: day.Format("2006-01-02")}

	if !autoFix {
		entry.Resolution = models.ResolutionUnresolved
		return entry
	}

	// Finer-granularity coverage lets the gap be repaired locally: a missing
	// daily bar is derived from that session's minute bars.
	if domain == models.DomainDailyPrice {
		minutes, err := c.store.MinuteBarsForDate(ctx, stockID, day)
		if err != nil {
			entry.Resolution = models.ResolutionUnresolved
			entry.Detail = err.Error()
			return entry
		}
		if len(minutes) > 0 {
			bar := AggregateDaily(stockID, day, minutes)
			if _, err := c.store.UpsertBars(ctx, []models.Bar{bar}); err != nil {
				entry.Resolution = models.ResolutionUnresolved
				entry.Detail = err.Error()
				return entry
			}
			entry.Resolution = models.ResolutionAutoFixed
			entry.Detail = fmt.Sprintf("aggregated %d minute bars", len(minutes))
			return entry
		}
	}

	refetcher, ok := c.refetchers[domain]
	if !ok {
		entry.Resolution = models.ResolutionUnresolved
		entry.Detail = "no refetch path for domain"
		return entry
	}

	key := stockID + "/" + entry.Date
	if requeued[key] {
		entry.Resolution = models.ResolutionRequeued
		entry.Detail = "already requeued this run"
		return entry
	}
	requeued[key] = true

	if err := refetcher.Refetch(ctx, stockID, day); err != nil {
		entry.Resolution = models.ResolutionUnresolved
		entry.Detail = fmt.Sprintf("refetch failed: %v", err)
		return entry
	}
	entry.Resolution = models.ResolutionRequeued
	return entry
}

// AggregateDaily derives a daily bar from one session of minute bars:
// open = first bar's open, close = last bar's close, high = max high,
// low = min low, volume = sum. Placeholder minutes contribute volume only;
// a session of nothing but placeholders yields a placeholder daily bar.
func AggregateDaily(stockID string, day time.Time, minutes []models.Bar) models.Bar {
	bar := models.Bar{
		StockID:   stockID,
		Timeframe: models.TimeframeDaily,
		TS:        models.DateOnly(day),
	}

	first := true
	for _, m := range minutes {
		bar.Volume += m.Volume
		if m.IsPlaceholder() {
			continue
		}
		if first {
			bar.Open = m.Open
			bar.High = m.High
			bar.Low = m.Low
			first = false
		} else {
			bar.High = decimal.Max(bar.High, m.High)
			bar.Low = decimal.Min(bar.Low, m.Low)
		}
		bar.Close = m.Close
	}
	bar.AdjClose = bar.Close
	return bar
}

// Reports returns the newest persisted reports, optionally filtered.
func (c *Checker) Reports(ctx context.Context, domain, stockID string, limit int) ([]models.IntegrityReport, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := c.store.DB().WithContext(ctx).Order("checked_at DESC, id DESC").Limit(limit)
	if domain != "" {
		query = query.Where("domain = ?", domain)
	}
	if stockID != "" {
		query = query.Where("stock_id = ?", stockID)
	}
	var reports []models.IntegrityReport
	if err := query.Find(&reports).Error; err != nil {
		return nil, syncerr.Storage("integrity.Reports", err)
	}
	return reports, nil
}
