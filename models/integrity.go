package models

import (
	"encoding/json"
	"time"
)

// Gap resolutions recorded by the integrity checker
const (
	ResolutionAutoFixed  = "auto_fixed_by_aggregation"
	ResolutionRequeued   = "requeued_for_refetch"
	ResolutionUnresolved = "unresolved"
)

// GapEntry records one missing trading date and how the checker resolved it.
type GapEntry struct {
	Date       string `json:"date"` // YYYY-MM-DD
	Resolution string `json:"resolution"`
	Detail     string `json:"detail,omitempty"`
}

// IntegrityReport is one instrument's result from a checker run. Reports are
// append-only: each run writes new rows, earlier rows stay as history.
type IntegrityReport struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	StockID    string    `gorm:"size:20;index:idx_report_stock" json:"stock_id"`
	Domain     string    `gorm:"size:30;index:idx_report_stock" json:"domain"`
	Gaps       string    `gorm:"type:text" json:"gaps"` // JSON-encoded []GapEntry, date-ordered
	GapCount   int       `json:"gap_count"`
	FixedCount int       `json:"fixed_count"`
	CheckedAt  time.Time `gorm:"index" json:"checked_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (IntegrityReport) TableName() string {
	return "integrity_reports"
}

// SetGaps serializes entries into the Gaps column.
func (r *IntegrityReport) SetGaps(entries []GapEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	r.Gaps = string(data)
	r.GapCount = len(entries)
	r.FixedCount = 0
	for _, e := range entries {
		if e.Resolution == ResolutionAutoFixed {
			r.FixedCount++
		}
	}
	return nil
}

// GapEntries deserializes the Gaps column.
func (r *IntegrityReport) GapEntries() ([]GapEntry, error) {
	if r.Gaps == "" {
		return nil, nil
	}
	var entries []GapEntry
	if err := json.Unmarshal([]byte(r.Gaps), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
