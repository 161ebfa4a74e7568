package futures

import (
	"fmt"
	"log"
	"sort"
	"time"

	"twmarket_backend/models"

	"github.com/shopspring/decimal"
)

// Back-adjustment methods applied at each roll boundary
type Method string

const (
	MethodDifference Method = "difference"
	MethodRatio      Method = "ratio"
)

// Stitcher builds a continuous futures series from expiring contract series.
// Stitching is pure and deterministic: the same contracts and bars always
// produce the same output, so re-running it and re-upserting is a no-op.
type Stitcher struct {
	method Method
}

// NewStitcher creates a stitcher using the given back-adjustment method
func NewStitcher(method Method) *Stitcher {
	if method != MethodRatio {
		method = MethodDifference
	}
	return &Stitcher{method: method}
}

// Stitch produces one continuous daily series for root. contracts must carry
// valid roll dates; barsByCode maps contract code to its daily bars. Each
// contract contributes the bars after the previous contract's roll date up
// to and including its own roll date (the newest contract contributes
// everything after the previous roll). Older segments are back-adjusted so
// the series shows no artificial jump at rollover.
func (s *Stitcher) Stitch(root string, contracts []models.FuturesContract, barsByCode map[string][]models.Bar) ([]models.Bar, error) {
	if len(contracts) == 0 {
		return nil, fmt.Errorf("no contracts registered for %s", root)
	}

	ordered := make([]models.FuturesContract, len(contracts))
	copy(ordered, contracts)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ExpiryDate.Before(ordered[j].ExpiryDate)
	})
	for i := range ordered {
		if err := ordered[i].Validate(); err != nil {
			return nil, err
		}
	}

	// Cumulative adjustment per contract, accumulated backwards from the
	// newest contract, which stays unadjusted.
	diffs := make([]decimal.Decimal, len(ordered))
	ratios := make([]decimal.Decimal, len(ordered))
	diffs[len(ordered)-1] = decimal.Zero
	ratios[len(ordered)-1] = decimal.NewFromInt(1)
	for i := len(ordered) - 2; i >= 0; i-- {
		diff, ratio := rollAdjustment(&ordered[i], &ordered[i+1], barsByCode)
		diffs[i] = diffs[i+1].Add(diff)
		ratios[i] = ratios[i+1].Mul(ratio)
	}

	continuousID := models.ContinuousID(root)
	var out []models.Bar
	for i := range ordered {
		c := ordered[i]
		bars := sortedBars(barsByCode[c.Code])
		for _, b := range bars {
			day := models.DateOnly(b.TS)
			if i > 0 && !day.After(models.DateOnly(ordered[i-1].RollDate)) {
				continue
			}
			if i < len(ordered)-1 && day.After(models.DateOnly(c.RollDate)) {
				continue
			}
			out = append(out, s.adjust(b, continuousID, diffs[i], ratios[i]))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

// adjust shifts one bar onto the continuous scale. Placeholder bars keep
// their all-zero shape so the OHLC invariant survives adjustment.
func (s *Stitcher) adjust(b models.Bar, continuousID string, diff, ratio decimal.Decimal) models.Bar {
	out := models.Bar{
		StockID:   continuousID,
		Timeframe: models.TimeframeDaily,
		TS:        b.TS,
		Volume:    b.Volume,
	}
	if b.IsPlaceholder() {
		return out
	}
	if s.method == MethodRatio {
		out.Open = b.Open.Mul(ratio)
		out.High = b.High.Mul(ratio)
		out.Low = b.Low.Mul(ratio)
		out.Close = b.Close.Mul(ratio)
	} else {
		out.Open = b.Open.Add(diff)
		out.High = b.High.Add(diff)
		out.Low = b.Low.Add(diff)
		out.Close = b.Close.Add(diff)
	}
	out.AdjClose = out.Close
	return out
}

// rollAdjustment computes the price step between two adjacent contracts on
// the older contract's roll date. Missing roll-day closes fall back to the
// last close at or before the roll date; with no usable close at all the
// adjustment is neutral and logged.
func rollAdjustment(old, next *models.FuturesContract, barsByCode map[string][]models.Bar) (decimal.Decimal, decimal.Decimal) {
	rollDay := models.DateOnly(old.RollDate)
	oldClose, okOld := closeOnOrBefore(barsByCode[old.Code], rollDay)
	nextClose, okNext := closeOnOrBefore(barsByCode[next.Code], rollDay)
	if !okOld || !okNext || oldClose.IsZero() {
		log.Printf("Warning: no usable roll prices between %s and %s, stitching without adjustment", old.Code, next.Code)
		return decimal.Zero, decimal.NewFromInt(1)
	}
	return nextClose.Sub(oldClose), nextClose.Div(oldClose)
}

// closeOnOrBefore returns the last non-placeholder close at or before day.
func closeOnOrBefore(bars []models.Bar, day time.Time) (decimal.Decimal, bool) {
	sorted := sortedBars(bars)
	for i := len(sorted) - 1; i >= 0; i-- {
		if models.DateOnly(sorted[i].TS).After(day) {
			continue
		}
		if sorted[i].IsPlaceholder() {
			continue
		}
		return sorted[i].Close, true
	}
	return decimal.Decimal{}, false
}

func sortedBars(bars []models.Bar) []models.Bar {
	out := make([]models.Bar, len(bars))
	copy(out, bars)
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
