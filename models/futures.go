package models

import (
	"fmt"
	"time"
)

// FuturesContract represents one expiring TAIFEX contract, e.g. TXF202412.
// Contracts discovered from the vendor are auto-registered before stitching.
type FuturesContract struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Code       string    `gorm:"size:20;uniqueIndex;not null" json:"code"`
	Root       string    `gorm:"size:10;index" json:"root"` // TXF, MXF, ...
	ExpiryDate time.Time `json:"expiry_date"`
	RollDate   time.Time `json:"roll_date"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (FuturesContract) TableName() string {
	return "futures_contracts"
}

// Validate checks the contract registration fields.
func (c *FuturesContract) Validate() error {
	if c.Code == "" || c.Root == "" {
		return fmt.Errorf("missing contract code or root")
	}
	if c.ExpiryDate.IsZero() {
		return fmt.Errorf("missing expiry date for %s", c.Code)
	}
	if c.RollDate.IsZero() || c.RollDate.After(c.ExpiryDate) {
		return fmt.Errorf("roll date must precede expiry for %s", c.Code)
	}
	return nil
}

// ContinuousID returns the synthetic instrument id the stitched series is
// stored under, e.g. "TXF.CONT".
func ContinuousID(root string) string {
	return root + ".CONT"
}

// MarketHoliday marks a weekday the exchange is closed. The trading calendar
// subtracts these rows from the weekday grid.
type MarketHoliday struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      time.Time `gorm:"uniqueIndex;not null" json:"date"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (MarketHoliday) TableName() string {
	return "market_holidays"
}
