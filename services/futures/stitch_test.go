package futures

import (
	"testing"
	"time"

	"twmarket_backend/models"

	"github.com/shopspring/decimal"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func day(d int) time.Time {
	return time.Date(2024, 12, d, 0, 0, 0, 0, time.UTC)
}

func contractBar(code string, ts time.Time, close float64) models.Bar {
	c := dec(close)
	return models.Bar{
		StockID:   code,
		Timeframe: models.TimeframeDaily,
		TS:        ts,
		Open:      c.Sub(decimal.NewFromInt(1)),
		High:      c.Add(decimal.NewFromInt(2)),
		Low:       c.Sub(decimal.NewFromInt(3)),
		Close:     c,
		AdjClose:  c,
		Volume:    5000,
	}
}

// Two contracts rolling on Dec 13. The December contract closes at 100 on the
// roll day, the January contract at 104: the difference method must lift the
// December segment by 4.
func twoContracts() ([]models.FuturesContract, map[string][]models.Bar) {
	contracts := []models.FuturesContract{
		{Code: "TXF202412", Root: "TXF", ExpiryDate: day(18), RollDate: day(13)},
		{Code: "TXF202501", Root: "TXF", ExpiryDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), RollDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)},
	}
	bars := map[string][]models.Bar{
		"TXF202412": {
			contractBar("TXF202412", day(11), 98),
			contractBar("TXF202412", day(12), 99),
			contractBar("TXF202412", day(13), 100),
			contractBar("TXF202412", day(16), 101), // after roll, excluded
		},
		"TXF202501": {
			contractBar("TXF202501", day(12), 103),
			contractBar("TXF202501", day(13), 104),
			contractBar("TXF202501", day(16), 105),
			contractBar("TXF202501", day(17), 106),
		},
	}
	return contracts, bars
}

func TestStitchDifferenceNoJumpAtRoll(t *testing.T) {
	contracts, bars := twoContracts()
	s := NewStitcher(MethodDifference)

	out, err := s.Stitch("TXF", contracts, bars)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}

	// Dec 11-13 from the old contract (shifted by +4), Dec 16-17 from the new
	if len(out) != 5 {
		t.Fatalf("Expected 5 continuous bars, got %d", len(out))
	}
	for _, b := range out {
		if b.StockID != "TXF.CONT" {
			t.Errorf("Expected continuous id TXF.CONT, got %s", b.StockID)
		}
	}

	byDay := make(map[int]models.Bar)
	for _, b := range out {
		byDay[b.TS.Day()] = b
	}
	if !byDay[13].Close.Equal(dec(104)) {
		t.Errorf("Expected roll-day close 104 (100 + 4), got %s", byDay[13].Close)
	}
	if !byDay[12].Close.Equal(dec(103)) {
		t.Errorf("Expected Dec 12 close 103 (99 + 4), got %s", byDay[12].Close)
	}
	if !byDay[16].Close.Equal(dec(105)) {
		t.Errorf("Expected newest segment unadjusted, got %s", byDay[16].Close)
	}

	// No artificial jump: adjusted old close on the roll day equals the new
	// contract's close that day
	step := byDay[16].Close.Sub(byDay[13].Close)
	if !step.Equal(dec(1)) {
		t.Errorf("Expected 1-point step across roll, got %s", step)
	}
}

func TestStitchRatio(t *testing.T) {
	contracts, bars := twoContracts()
	s := NewStitcher(MethodRatio)

	out, err := s.Stitch("TXF", contracts, bars)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	byDay := make(map[int]models.Bar)
	for _, b := range out {
		byDay[b.TS.Day()] = b
	}
	// 100 * (104/100) = 104
	if !byDay[13].Close.Equal(dec(104)) {
		t.Errorf("Expected ratio-adjusted roll-day close 104, got %s", byDay[13].Close)
	}
	// 99 * 1.04 = 102.96
	if !byDay[12].Close.Equal(dec(99).Mul(dec(104).Div(dec(100)))) {
		t.Errorf("Unexpected ratio-adjusted close %s", byDay[12].Close)
	}
}

func TestStitchDeterministic(t *testing.T) {
	contracts, bars := twoContracts()
	s := NewStitcher(MethodDifference)

	first, err := s.Stitch("TXF", contracts, bars)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	second, err := s.Stitch("TXF", contracts, bars)
	if err != nil {
		t.Fatalf("Second stitch failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("Expected identical output lengths, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].TS.Equal(second[i].TS) || !first[i].Close.Equal(second[i].Close) {
			t.Errorf("Output differs at %d: %v/%s vs %v/%s",
				i, first[i].TS, first[i].Close, second[i].TS, second[i].Close)
		}
	}
}

func TestStitchPlaceholderStaysZero(t *testing.T) {
	contracts, bars := twoContracts()
	bars["TXF202412"] = append(bars["TXF202412"], models.Bar{
		StockID:   "TXF202412",
		Timeframe: models.TimeframeDaily,
		TS:        day(10),
		Volume:    0,
	})
	s := NewStitcher(MethodDifference)

	out, err := s.Stitch("TXF", contracts, bars)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	for _, b := range out {
		if b.TS.Day() == 10 {
			if !b.IsPlaceholder() {
				t.Errorf("Expected placeholder to survive adjustment, got close=%s", b.Close)
			}
			return
		}
	}
	t.Error("Placeholder bar missing from output")
}

func TestStitchMissingRollCloseFallsBack(t *testing.T) {
	contracts, bars := twoContracts()
	// Drop the old contract's roll-day bar: Dec 12's close (99) is the fallback
	bars["TXF202412"] = bars["TXF202412"][:2]
	s := NewStitcher(MethodDifference)

	out, err := s.Stitch("TXF", contracts, bars)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	byDay := make(map[int]models.Bar)
	for _, b := range out {
		byDay[b.TS.Day()] = b
	}
	// adjustment = 104 - 99 = 5
	if !byDay[12].Close.Equal(dec(104)) {
		t.Errorf("Expected fallback-adjusted close 104 (99 + 5), got %s", byDay[12].Close)
	}
}

func TestStitchNoContracts(t *testing.T) {
	s := NewStitcher(MethodDifference)
	if _, err := s.Stitch("TXF", nil, nil); err == nil {
		t.Error("Expected error for empty contract list")
	}
}
