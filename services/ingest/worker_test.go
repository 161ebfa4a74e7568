package ingest

import (
	"errors"
	"testing"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/vendor"
	"twmarket_backend/syncerr"

	"github.com/shopspring/decimal"
)

func TestResolveWindowExplicit(t *testing.T) {
	w := Window{
		Start: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 6, 0, 0, 0, 0, time.UTC),
	}
	resolved, wanted := resolveWindow(w, time.Time{}, false, time.Now())
	if !wanted {
		t.Fatal("Expected explicit window to be used")
	}
	if !resolved.Start.Equal(w.Start) || !resolved.End.Equal(w.End) {
		t.Errorf("Expected window unchanged, got %+v", resolved)
	}
}

func TestResolveWindowFirstFetch(t *testing.T) {
	now := time.Date(2024, 12, 6, 15, 0, 0, 0, time.UTC)
	resolved, wanted := resolveWindow(Window{}, time.Time{}, false, now)
	if !wanted {
		t.Fatal("Expected a backfill window for an unknown instrument")
	}
	today := models.DateOnly(now)
	if !resolved.End.Equal(today) {
		t.Errorf("Expected end today, got %v", resolved.End)
	}
	if !resolved.Start.Equal(today.Add(-DefaultBackfill)) {
		t.Errorf("Expected default backfill start, got %v", resolved.Start)
	}
}

func TestResolveWindowIncremental(t *testing.T) {
	now := time.Date(2024, 12, 6, 15, 0, 0, 0, time.UTC)
	last := time.Date(2024, 12, 3, 0, 0, 0, 0, time.UTC)
	resolved, wanted := resolveWindow(Window{}, last, true, now)
	if !wanted {
		t.Fatal("Expected an incremental window")
	}
	if !resolved.Start.Equal(time.Date(2024, 12, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected start the day after last, got %v", resolved.Start)
	}
}

func TestResolveWindowAlreadyCurrent(t *testing.T) {
	now := time.Date(2024, 12, 6, 15, 0, 0, 0, time.UTC)
	last := time.Date(2024, 12, 6, 0, 0, 0, 0, time.UTC)
	if _, wanted := resolveWindow(Window{}, last, true, now); wanted {
		t.Error("Expected nothing to fetch when already current")
	}
}

func TestSummaryFinishBulkhead(t *testing.T) {
	err := errors.New("vendor timeout")

	// Some instruments failed: summary reports them, run still succeeds
	s := Summary{Instruments: 3, Failed: []string{"2330"}}
	if _, runErr := s.finish(err); runErr != nil {
		t.Errorf("Expected partial failure to be absorbed, got %v", runErr)
	}

	// Every instrument failed: the error surfaces so the guard retries
	s = Summary{Instruments: 2, Failed: []string{"2330", "2317"}}
	if _, runErr := s.finish(err); runErr == nil {
		t.Error("Expected total failure to surface")
	}
}

func TestNormalizeDailyPrices(t *testing.T) {
	records := []vendor.DailyPriceRecord{{
		Date:          "2024-12-02",
		StockID:       "2330",
		Open:          580,
		Max:           585,
		Min:           578,
		Close:         583,
		TradingVolume: 25000000,
	}}
	bars, err := NormalizeDailyPrices(records)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("Expected 1 bar, got %d", len(bars))
	}
	b := bars[0]
	if b.StockID != "2330" || b.Timeframe != models.TimeframeDaily {
		t.Errorf("Unexpected key fields %s/%s", b.StockID, b.Timeframe)
	}
	if !b.Close.Equal(decimal.NewFromInt(583)) || !b.AdjClose.Equal(b.Close) {
		t.Errorf("Unexpected close %s adj %s", b.Close, b.AdjClose)
	}
	if err := b.Validate(); err != nil {
		t.Errorf("Normalized bar failed validation: %v", err)
	}
}

func TestNormalizeDailyPricesBadDate(t *testing.T) {
	records := []vendor.DailyPriceRecord{{Date: "12/02/2024", StockID: "2330"}}
	_, err := NormalizeDailyPrices(records)
	if err == nil {
		t.Fatal("Expected error for malformed date")
	}
	if syncerr.KindOf(err) != syncerr.KindValidation {
		t.Errorf("Expected validation error kind, got %v", syncerr.KindOf(err))
	}
}

func TestNormalizeFlowsCategoryMapping(t *testing.T) {
	records := []vendor.InstFlowRecord{
		{Date: "2024-12-02", StockID: "2330", Name: "Foreign_Investor", Buy: 1000, Sell: 400},
		{Date: "2024-12-02", StockID: "2330", Name: "Hedge_Fund", Buy: 10, Sell: 5},
	}
	flows := NormalizeFlows(records)
	if len(flows) != 2 {
		t.Fatalf("Expected both rows kept, got %d", len(flows))
	}
	if flows[0].Category != models.CategoryForeign {
		t.Errorf("Expected mapped category, got %s", flows[0].Category)
	}
	// Unknown names carry through raw so validation rejects the single row
	if flows[1].Category != "Hedge_Fund" {
		t.Errorf("Expected raw category to pass through, got %s", flows[1].Category)
	}
	if err := flows[0].Validate(); err != nil {
		t.Errorf("Expected mapped row to validate, got %v", err)
	}
	if err := flows[1].Validate(); err == nil {
		t.Error("Expected unmapped row to fail validation")
	}
}

func TestThirdWednesday(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
		day   int
	}{
		{2024, time.December, 18},
		{2025, time.January, 15},
		{2025, time.June, 18},
	}
	for _, c := range cases {
		got := thirdWednesday(c.year, c.month)
		if got.Day() != c.day || got.Weekday() != time.Wednesday {
			t.Errorf("thirdWednesday(%d, %s) = %v, expected day %d", c.year, c.month, got, c.day)
		}
	}
}

func TestBuildContract(t *testing.T) {
	contract, err := buildContract("TXF", "TXF202412")
	if err != nil {
		t.Fatalf("buildContract failed: %v", err)
	}
	if contract.ExpiryDate.Day() != 18 || contract.ExpiryDate.Month() != time.December {
		t.Errorf("Expected expiry 2024-12-18, got %v", contract.ExpiryDate)
	}
	if !contract.RollDate.Equal(contract.ExpiryDate.Add(-RollLead)) {
		t.Errorf("Expected roll %s before expiry, got %v", RollLead, contract.RollDate)
	}
	if err := contract.Validate(); err != nil {
		t.Errorf("Built contract failed validation: %v", err)
	}

	if _, err := buildContract("TXF", "TXF2024W2"); err == nil {
		t.Error("Expected error for weekly contract code")
	}
}

func TestGroupByContractFiltersLegs(t *testing.T) {
	records := []vendor.FuturesDailyRecord{
		{FuturesID: "TXF", ContractDate: "202412", Close: 23000},
		{FuturesID: "TXF", ContractDate: "202412/202501", Close: 50}, // spread leg
		{FuturesID: "MXF", ContractDate: "202412", Close: 23000},     // other root
		{FuturesID: "TXF", ContractDate: "202501", Close: 23100},
	}
	byCode := groupByContract("TXF", records)
	if len(byCode) != 2 {
		t.Fatalf("Expected 2 contracts, got %d", len(byCode))
	}
	if len(byCode["TXF202412"]) != 1 || len(byCode["TXF202501"]) != 1 {
		t.Errorf("Unexpected grouping %v", byCode)
	}
}
