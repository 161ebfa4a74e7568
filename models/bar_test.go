package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func validBar() Bar {
	return Bar{
		StockID:   "2330",
		Timeframe: TimeframeDaily,
		TS:        time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
		Open:      dec(580),
		High:      dec(585),
		Low:       dec(578),
		Close:     dec(583),
		AdjClose:  dec(583),
		Volume:    25000000,
	}
}

func TestBarValidate(t *testing.T) {
	b := validBar()
	if err := b.Validate(); err != nil {
		t.Errorf("Expected valid bar, got %v", err)
	}
}

func TestBarValidateHighBelowLow(t *testing.T) {
	b := validBar()
	b.High = dec(570)
	if err := b.Validate(); err == nil {
		t.Error("Expected error for high below low")
	}
}

func TestBarValidateCloseOutsideRange(t *testing.T) {
	b := validBar()
	b.Close = dec(590)
	if err := b.Validate(); err == nil {
		t.Error("Expected error for close above high")
	}

	b = validBar()
	b.Close = dec(570)
	if err := b.Validate(); err == nil {
		t.Error("Expected error for close below low")
	}
}

func TestBarValidateMixedZero(t *testing.T) {
	b := validBar()
	b.Open = decimal.Zero
	if err := b.Validate(); err == nil {
		t.Error("Expected error for mixed zero and non-zero OHLC")
	}
}

func TestBarValidateNegativeVolume(t *testing.T) {
	b := validBar()
	b.Volume = -1
	if err := b.Validate(); err == nil {
		t.Error("Expected error for negative volume")
	}
}

func TestBarPlaceholderIsValid(t *testing.T) {
	b := Bar{
		StockID:   "2330",
		Timeframe: TimeframeMinute,
		TS:        time.Date(2024, 12, 2, 9, 17, 0, 0, time.UTC),
		Volume:    0,
	}
	if !b.IsPlaceholder() {
		t.Error("Expected all-zero bar to be a placeholder")
	}
	if err := b.Validate(); err != nil {
		t.Errorf("Expected placeholder bar to validate, got %v", err)
	}
}

func TestBarSameValues(t *testing.T) {
	a := validBar()
	b := validBar()
	if !a.SameValues(&b) {
		t.Error("Expected identical bars to compare equal")
	}
	b.Volume++
	if a.SameValues(&b) {
		t.Error("Expected differing volume to compare unequal")
	}
}

func TestDateOnly(t *testing.T) {
	ts := time.Date(2024, 12, 2, 13, 25, 41, 999, time.UTC)
	day := DateOnly(ts)
	if day.Hour() != 0 || day.Minute() != 0 || day.Second() != 0 || day.Nanosecond() != 0 {
		t.Errorf("Expected midnight, got %v", day)
	}
	if day.Year() != 2024 || day.Month() != time.December || day.Day() != 2 {
		t.Errorf("Expected 2024-12-02, got %v", day)
	}
}

func TestFlowRecompute(t *testing.T) {
	f := InstitutionalFlow{
		Date:       time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
		StockID:    "2330",
		Category:   CategoryForeign,
		BuyVolume:  1000,
		SellVolume: 400,
		NetVolume:  999999, // stale input value must be overwritten
	}
	f.Recompute()
	if f.NetVolume != 600 {
		t.Errorf("Expected net volume 600, got %d", f.NetVolume)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Expected valid flow, got %v", err)
	}
}

func TestFlowValidateUnknownCategory(t *testing.T) {
	f := InstitutionalFlow{
		Date:     time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
		StockID:  "2330",
		Category: "Hedge_Fund",
	}
	if err := f.Validate(); err == nil {
		t.Error("Expected error for unknown investor category")
	}
}

func TestFuturesContractValidate(t *testing.T) {
	c := FuturesContract{
		Code:       "TXF202412",
		Root:       "TXF",
		ExpiryDate: time.Date(2024, 12, 18, 0, 0, 0, 0, time.UTC),
		RollDate:   time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC),
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Expected valid contract, got %v", err)
	}

	c.RollDate = c.ExpiryDate.AddDate(0, 0, 1)
	if err := c.Validate(); err == nil {
		t.Error("Expected error for roll date after expiry")
	}
}

func TestContinuousID(t *testing.T) {
	if got := ContinuousID("TXF"); got != "TXF.CONT" {
		t.Errorf("Expected TXF.CONT, got %s", got)
	}
}
