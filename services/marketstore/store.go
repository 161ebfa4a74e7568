package marketstore

import (
	"context"
	"time"

	"twmarket_backend/models"

	"gorm.io/gorm"
)

// Store is the write/read gateway for the partitioned time-series tables.
// All writes go through the idempotent upsert layer in upsert.go; readers
// (workers, integrity checker) use the query helpers below.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over an initialized database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for report persistence
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ActiveInstruments returns active instruments, optionally filtered by type.
func (s *Store) ActiveInstruments(ctx context.Context, instrumentType string) ([]models.Instrument, error) {
	query := s.db.WithContext(ctx).Where("status = ?", "active")
	if instrumentType != "" {
		query = query.Where("type = ?", instrumentType)
	}
	var instruments []models.Instrument
	if err := query.Order("id").Find(&instruments).Error; err != nil {
		return nil, err
	}
	return instruments, nil
}

// RegisterInstrument inserts the instrument if it is not known yet.
func (s *Store) RegisterInstrument(ctx context.Context, inst *models.Instrument) error {
	return s.db.WithContext(ctx).
		Where("id = ?", inst.ID).
		FirstOrCreate(inst).Error
}

// PresentBarDates returns the distinct daily-bar dates stored for a stock in
// [start, end], ordered ascending.
func (s *Store) PresentBarDates(ctx context.Context, stockID, timeframe string, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := s.db.WithContext(ctx).
		Model(&models.Bar{}).
		Where("stock_id = ? AND timeframe = ? AND ts >= ? AND ts <= ?", stockID, timeframe, start, end).
		Order("ts").
		Distinct().
		Pluck("ts", &dates).Error
	if err != nil {
		return nil, err
	}
	return dates, nil
}

// PresentFlowDates returns the distinct order-flow dates stored for a stock
// in [start, end], ordered ascending.
func (s *Store) PresentFlowDates(ctx context.Context, stockID string, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := s.db.WithContext(ctx).
		Model(&models.InstitutionalFlow{}).
		Where("stock_id = ? AND date >= ? AND date <= ?", stockID, start, end).
		Order("date").
		Distinct().
		Pluck("date", &dates).Error
	if err != nil {
		return nil, err
	}
	return dates, nil
}

// LastBarDate returns the newest bar timestamp for a stock and timeframe.
// The second return is false when no bar is stored yet.
func (s *Store) LastBarDate(ctx context.Context, stockID, timeframe string) (time.Time, bool, error) {
	var bar models.Bar
	err := s.db.WithContext(ctx).
		Where("stock_id = ? AND timeframe = ?", stockID, timeframe).
		Order("ts DESC").
		First(&bar).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return bar.TS, true, nil
}

// LastFlowDate returns the newest order-flow date for a stock.
func (s *Store) LastFlowDate(ctx context.Context, stockID string) (time.Time, bool, error) {
	var flow models.InstitutionalFlow
	err := s.db.WithContext(ctx).
		Where("stock_id = ?", stockID).
		Order("date DESC").
		First(&flow).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return flow.Date, true, nil
}

// MinuteBarsForDate returns the stock's minute bars covering one session,
// ordered by timestamp. Used by the aggregation repair.
func (s *Store) MinuteBarsForDate(ctx context.Context, stockID string, date time.Time) ([]models.Bar, error) {
	day := models.DateOnly(date)
	next := day.AddDate(0, 0, 1)
	var bars []models.Bar
	err := s.db.WithContext(ctx).
		Where("stock_id = ? AND timeframe = ? AND ts >= ? AND ts < ?", stockID, models.TimeframeMinute, day, next).
		Order("ts").
		Find(&bars).Error
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// HasMinuteData reports whether any minute bar exists for the session.
func (s *Store) HasMinuteData(ctx context.Context, stockID string, date time.Time) (bool, error) {
	day := models.DateOnly(date)
	next := day.AddDate(0, 0, 1)
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Bar{}).
		Where("stock_id = ? AND timeframe = ? AND ts >= ? AND ts < ?", stockID, models.TimeframeMinute, day, next).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DailyBars returns the stock's daily bars in [start, end], ordered by ts.
func (s *Store) DailyBars(ctx context.Context, stockID string, start, end time.Time) ([]models.Bar, error) {
	var bars []models.Bar
	err := s.db.WithContext(ctx).
		Where("stock_id = ? AND timeframe = ? AND ts >= ? AND ts <= ?", stockID, models.TimeframeDaily, start, end).
		Order("ts").
		Find(&bars).Error
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// ContractsByRoot returns registered futures contracts for a root, ordered by
// expiry ascending.
func (s *Store) ContractsByRoot(ctx context.Context, root string) ([]models.FuturesContract, error) {
	var contracts []models.FuturesContract
	err := s.db.WithContext(ctx).
		Where("root = ?", root).
		Order("expiry_date").
		Find(&contracts).Error
	if err != nil {
		return nil, err
	}
	return contracts, nil
}

// RegisterContract inserts the contract if its code is not known yet and
// reports whether a row was created.
func (s *Store) RegisterContract(ctx context.Context, contract *models.FuturesContract) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("code = ?", contract.Code).
		FirstOrCreate(contract)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
