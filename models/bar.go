package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Timeframe values stored on Bar rows
const (
	TimeframeDaily  = "1d"
	TimeframeMinute = "1m"
)

// Domain names for the time-series tables
const (
	DomainDailyPrice   = "daily_price"
	DomainMinutePrice  = "minute_price"
	DomainInstFlow     = "institutional_flow"
	DomainOptionFactor = "option_factor"
	DomainFuturesDaily = "futures_daily"
)

// Instrument represents a tradable Taiwan-market instrument (stock, futures
// root, option series). The ID is the exchange code, e.g. "2330" or "TXF".
type Instrument struct {
	ID        string    `gorm:"primaryKey;size:20" json:"id"`
	Name      string    `json:"name"`
	Market    string    `json:"market"` // TWSE, TPEX, TAIFEX
	Type      string    `json:"type"`   // stock, futures, option
	Status    string    `gorm:"default:active" json:"status"` // active, delisted, suspended
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bar represents one OHLCV bar at daily or minute resolution.
// Natural key: (stock_id, timeframe, ts).
type Bar struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	StockID   string          `gorm:"size:20;uniqueIndex:uidx_bar_key,priority:1;not null" json:"stock_id"`
	Timeframe string          `gorm:"size:4;uniqueIndex:uidx_bar_key,priority:2;not null" json:"timeframe"`
	TS        time.Time       `gorm:"column:ts;uniqueIndex:uidx_bar_key,priority:3;not null" json:"ts"`
	Open      decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	High      decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low       decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Close     decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	AdjClose  decimal.Decimal `gorm:"type:decimal(15,4)" json:"adj_close"`
	Volume    int64           `json:"volume"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Bar) TableName() string {
	return "bars"
}

// IsPlaceholder reports whether the bar is the all-zero sentinel the vendor
// emits for sessions without a trade. Placeholder rows are kept and flagged,
// never silently filtered.
func (b *Bar) IsPlaceholder() bool {
	return b.Open.IsZero() && b.High.IsZero() && b.Low.IsZero() && b.Close.IsZero()
}

// Validate enforces the OHLC invariants:
//   - high >= low
//   - low <= close <= high, unless the row is the all-zero placeholder
//   - the four OHLC values are all positive or all zero, never mixed
func (b *Bar) Validate() error {
	if b.StockID == "" {
		return fmt.Errorf("missing stock id")
	}
	if b.Timeframe != TimeframeDaily && b.Timeframe != TimeframeMinute {
		return fmt.Errorf("unknown timeframe %q", b.Timeframe)
	}
	if b.TS.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume %d", b.Volume)
	}
	if b.IsPlaceholder() {
		return nil
	}
	if !(b.Open.IsPositive() && b.High.IsPositive() && b.Low.IsPositive() && b.Close.IsPositive()) {
		return fmt.Errorf("mixed zero and non-zero OHLC values")
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("high %s below low %s", b.High, b.Low)
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("close %s outside [%s, %s]", b.Close, b.Low, b.High)
	}
	return nil
}

// SameValues reports whether other carries identical mutable fields, used by
// the upsert layer to keep re-applied batches from counting as updates.
func (b *Bar) SameValues(other *Bar) bool {
	return b.Open.Equal(other.Open) &&
		b.High.Equal(other.High) &&
		b.Low.Equal(other.Low) &&
		b.Close.Equal(other.Close) &&
		b.AdjClose.Equal(other.AdjClose) &&
		b.Volume == other.Volume
}

// DateOnly truncates t to its calendar date in t's location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MigrateMarketModels runs database migrations for market data models
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Instrument{},
		&Bar{},
		&InstitutionalFlow{},
		&OptionFactor{},
		&FuturesContract{},
		&MarketHoliday{},
	)
}
