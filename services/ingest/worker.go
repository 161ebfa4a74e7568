package ingest

import (
	"fmt"
	"strings"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"
	"twmarket_backend/syncerr"
)

// DefaultBackfill bounds the first-ever fetch window for an instrument with
// no stored data (~1 year of trading days).
const DefaultBackfill = 365 * 24 * time.Hour

// Window is the fetch range for one run. A zero window means "since the last
// known date + 1 day, up to today".
type Window struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the window must be derived from stored state.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// resolveWindow fills a zero window from the last stored date. known=false
// falls back to the default backfill depth. The second return is false when
// the instrument is already current and there is nothing to fetch.
func resolveWindow(w Window, last time.Time, known bool, now time.Time) (Window, bool) {
	if !w.IsZero() {
		return w, true
	}
	today := models.DateOnly(now)
	if !known {
		return Window{Start: today.Add(-DefaultBackfill), End: today}, true
	}
	start := models.DateOnly(last).AddDate(0, 0, 1)
	if start.After(today) {
		return Window{}, false
	}
	return Window{Start: start, End: today}, true
}

// Summary is what a worker run hands to the job history recorder.
type Summary struct {
	Instruments int
	Fetched     int
	Result      marketstore.UpsertResult
	Failed      []string
}

func (s Summary) String() string {
	line := fmt.Sprintf("instruments=%d fetched=%d %s", s.Instruments, s.Fetched, s.Result)
	if len(s.Failed) > 0 {
		line += fmt.Sprintf(" failed=[%s]", strings.Join(s.Failed, ","))
	}
	return line
}

// merge folds one instrument's upsert result into the run summary.
func (s *Summary) merge(r marketstore.UpsertResult) {
	s.Result.Inserted += r.Inserted
	s.Result.Updated += r.Updated
	s.Result.Rejected += r.Rejected
	s.Result.RowErrors = append(s.Result.RowErrors, r.RowErrors...)
}

// finish applies the bulkhead policy: individual instrument failures are
// reported in the summary, but a run where every instrument failed surfaces
// the upstream error so the dedup timestamp stays unset and the next tick
// retries.
func (s *Summary) finish(firstErr error) (Summary, error) {
	if s.Instruments > 0 && len(s.Failed) == s.Instruments && firstErr != nil {
		return *s, firstErr
	}
	return *s, nil
}

func parseVendorDate(value string) (time.Time, error) {
	t, err := time.Parse(vendor.DateLayout, value)
	if err != nil {
		return time.Time{}, syncerr.Validation("ingest.parseVendorDate", err)
	}
	return t.UTC(), nil
}

func parseVendorMinute(value string) (time.Time, error) {
	t, err := time.Parse(vendor.MinuteTimeLayout, value)
	if err != nil {
		return time.Time{}, syncerr.Validation("ingest.parseVendorMinute", err)
	}
	return t.UTC(), nil
}
