package calendar

import (
	"context"
	"time"

	"twmarket_backend/models"

	"gorm.io/gorm"
)

// Calendar supplies the expected trading dates for a window. The integrity
// checker treats the result as authoritative ground truth: a date the
// calendar expects but the store lacks is a gap, no second-guessing.
type Calendar interface {
	ExpectedTradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error)
}

// TaiwanCalendar derives trading dates from the weekday grid minus the
// market_holidays table.
type TaiwanCalendar struct {
	db *gorm.DB
}

// NewTaiwanCalendar creates a calendar backed by the holiday table
func NewTaiwanCalendar(db *gorm.DB) *TaiwanCalendar {
	return &TaiwanCalendar{db: db}
}

// ExpectedTradingDates returns every weekday in [start, end] that is not a
// registered holiday, ordered ascending.
func (c *TaiwanCalendar) ExpectedTradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	startDay := models.DateOnly(start)
	endDay := models.DateOnly(end)

	var holidays []models.MarketHoliday
	err := c.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", startDay, endDay).
		Find(&holidays).Error
	if err != nil {
		return nil, err
	}
	closed := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		closed[h.Date.Format("2006-01-02")] = true
	}

	var dates []time.Time
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if closed[d.Format("2006-01-02")] {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// Fixed is a calendar with a preset date list, used in tests and for
// operator-supplied windows.
type Fixed struct {
	Dates []time.Time
}

func (f Fixed) ExpectedTradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	for _, d := range f.Dates {
		day := models.DateOnly(d)
		if day.Before(models.DateOnly(start)) || day.After(models.DateOnly(end)) {
			continue
		}
		dates = append(dates, day)
	}
	return dates, nil
}
