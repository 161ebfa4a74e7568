package integrity

import (
	"context"
	"errors"
	"testing"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/calendar"
	"twmarket_backend/services/marketstore"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *marketstore.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := models.MigrateMarketModels(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := models.MigrateJobModels(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return marketstore.NewStore(db)
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func minuteBar(day time.Time, hhmm string, open, high, low, close float64, volume int64) models.Bar {
	t, _ := time.Parse("15:04", hhmm)
	return models.Bar{
		StockID:   "2330",
		Timeframe: models.TimeframeMinute,
		TS:        day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute),
		Open:      dec(open),
		High:      dec(high),
		Low:       dec(low),
		Close:     dec(close),
		AdjClose:  dec(close),
		Volume:    volume,
	}
}

func dailyBar(day time.Time, close float64) models.Bar {
	return models.Bar{
		StockID:   "2330",
		Timeframe: models.TimeframeDaily,
		TS:        day,
		Open:      dec(close - 1),
		High:      dec(close + 2),
		Low:       dec(close - 3),
		Close:     dec(close),
		AdjClose:  dec(close),
		Volume:    1000,
	}
}

func TestAggregateDaily(t *testing.T) {
	day := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	minutes := []models.Bar{
		minuteBar(day, "09:01", 580, 581, 579, 580.5, 100),
		minuteBar(day, "09:02", 580.5, 584, 580, 583, 200),
		// placeholder minute, no trades that minute
		{StockID: "2330", Timeframe: models.TimeframeMinute, TS: day.Add(9*time.Hour + 3*time.Minute), Volume: 50},
		minuteBar(day, "13:30", 583, 583.5, 577, 582, 300),
	}

	bar := AggregateDaily("2330", day, minutes)

	if !bar.Open.Equal(dec(580)) {
		t.Errorf("Expected open 580, got %s", bar.Open)
	}
	if !bar.Close.Equal(dec(582)) {
		t.Errorf("Expected close 582, got %s", bar.Close)
	}
	if !bar.High.Equal(dec(584)) {
		t.Errorf("Expected high 584, got %s", bar.High)
	}
	if !bar.Low.Equal(dec(577)) {
		t.Errorf("Expected low 577, got %s", bar.Low)
	}
	if bar.Volume != 650 {
		t.Errorf("Expected volume 650 including placeholder minutes, got %d", bar.Volume)
	}
	if bar.Timeframe != models.TimeframeDaily || !bar.TS.Equal(day) {
		t.Errorf("Expected daily bar at %v, got %s %v", day, bar.Timeframe, bar.TS)
	}
	if err := bar.Validate(); err != nil {
		t.Errorf("Aggregated bar failed validation: %v", err)
	}
}

func TestAggregateDailyAllPlaceholders(t *testing.T) {
	day := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	minutes := []models.Bar{
		{StockID: "2330", Timeframe: models.TimeframeMinute, TS: day.Add(9 * time.Hour), Volume: 0},
		{StockID: "2330", Timeframe: models.TimeframeMinute, TS: day.Add(9*time.Hour + time.Minute), Volume: 0},
	}
	bar := AggregateDaily("2330", day, minutes)
	if !bar.IsPlaceholder() {
		t.Error("Expected all-placeholder session to aggregate to a placeholder daily bar")
	}
	if err := bar.Validate(); err != nil {
		t.Errorf("Placeholder daily bar failed validation: %v", err)
	}
}

func seedStock(t *testing.T, store *marketstore.Store) {
	t.Helper()
	err := store.RegisterInstrument(context.Background(), &models.Instrument{
		ID: "2330", Name: "TSMC", Market: "TWSE", Type: "stock", Status: "active",
	})
	if err != nil {
		t.Fatalf("Failed to register instrument: %v", err)
	}
}

func tradingDays(days ...time.Time) calendar.Fixed {
	return calendar.Fixed{Dates: days}
}

func TestCheckAutoFixFromMinuteBars(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStock(t, store)

	day1 := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)

	// Daily bars exist for day 1 and day 3; day 2 has only minute coverage
	if _, err := store.UpsertBars(ctx, []models.Bar{dailyBar(day1, 580), dailyBar(day3, 590)}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	minutes := []models.Bar{
		minuteBar(day2, "09:01", 581, 582, 580, 581.5, 100),
		minuteBar(day2, "13:30", 581.5, 586, 581, 585, 400),
	}
	if _, err := store.UpsertBars(ctx, minutes); err != nil {
		t.Fatalf("Seed minutes failed: %v", err)
	}

	checker := NewChecker(store, tradingDays(day1, day2, day3), nil)
	reports, err := checker.Check(ctx, models.DomainDailyPrice, []string{"2330"}, day1, day3, true)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reports))
	}
	if reports[0].GapCount != 1 || reports[0].FixedCount != 1 {
		t.Errorf("Expected 1 gap, 1 fixed, got gaps=%d fixed=%d", reports[0].GapCount, reports[0].FixedCount)
	}
	gaps, err := reports[0].GapEntries()
	if err != nil {
		t.Fatalf("GapEntries failed: %v", err)
	}
	if gaps[0].Resolution != models.ResolutionAutoFixed {
		t.Errorf("Expected auto-fixed resolution, got %s", gaps[0].Resolution)
	}

	// The repaired bar carries the aggregated session values
	bars, err := store.DailyBars(ctx, "2330", day2, day2)
	if err != nil || len(bars) != 1 {
		t.Fatalf("Expected repaired daily bar (err=%v, n=%d)", err, len(bars))
	}
	if !bars[0].Open.Equal(dec(581)) || !bars[0].Close.Equal(dec(585)) || bars[0].Volume != 500 {
		t.Errorf("Unexpected aggregated bar: open=%s close=%s volume=%d",
			bars[0].Open, bars[0].Close, bars[0].Volume)
	}

	// Second pass over the repaired dataset finds nothing to do
	reports, err = checker.Check(ctx, models.DomainDailyPrice, []string{"2330"}, day1, day3, true)
	if err != nil {
		t.Fatalf("Second check failed: %v", err)
	}
	if reports[0].GapCount != 0 {
		t.Errorf("Expected no gaps on second pass, got %d", reports[0].GapCount)
	}
}

type countingRefetcher struct {
	calls map[string]int
	err   error
}

func (r *countingRefetcher) Refetch(ctx context.Context, stockID string, date time.Time) error {
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[stockID+"/"+date.Format("2006-01-02")]++
	return r.err
}

func TestCheckRefetchesAtMostOncePerDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStock(t, store)

	day := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	refetcher := &countingRefetcher{}
	checker := NewChecker(store, tradingDays(day), map[string]Refetcher{
		models.DomainDailyPrice: refetcher,
	})

	// The same instrument listed twice must not trigger a second re-fetch
	reports, err := checker.Check(ctx, models.DomainDailyPrice, []string{"2330", "2330"}, day, day, true)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(reports))
	}
	if got := refetcher.calls["2330/2024-12-02"]; got != 1 {
		t.Errorf("Expected exactly one refetch for the date, got %d", got)
	}
}

func TestCheckRefetchFailureIsUnresolved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStock(t, store)

	day := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	refetcher := &countingRefetcher{err: errors.New("vendor down")}
	checker := NewChecker(store, tradingDays(day), map[string]Refetcher{
		models.DomainDailyPrice: refetcher,
	})

	reports, err := checker.Check(ctx, models.DomainDailyPrice, []string{"2330"}, day, day, true)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	gaps, _ := reports[0].GapEntries()
	if len(gaps) != 1 || gaps[0].Resolution != models.ResolutionUnresolved {
		t.Errorf("Expected unresolved gap after refetch failure, got %+v", gaps)
	}
}

func TestCheckWithoutAutoFixReportsOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStock(t, store)

	day := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	refetcher := &countingRefetcher{}
	checker := NewChecker(store, tradingDays(day), map[string]Refetcher{
		models.DomainDailyPrice: refetcher,
	})

	reports, err := checker.Check(ctx, models.DomainDailyPrice, []string{"2330"}, day, day, false)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if reports[0].GapCount != 1 || reports[0].FixedCount != 0 {
		t.Errorf("Expected reported-only gap, got gaps=%d fixed=%d", reports[0].GapCount, reports[0].FixedCount)
	}
	if len(refetcher.calls) != 0 {
		t.Errorf("Expected no refetches without auto-fix, got %v", refetcher.calls)
	}
}

func TestCheckUnsupportedDomain(t *testing.T) {
	store := newTestStore(t)
	checker := NewChecker(store, tradingDays(), nil)
	if _, err := checker.Check(context.Background(), "minute_price", nil, time.Now(), time.Now(), false); err == nil {
		t.Error("Expected error for unsupported domain")
	}
}
