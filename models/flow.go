package models

import (
	"fmt"
	"time"
)

// Investor categories reported by the exchange for institutional order flow
const (
	CategoryForeign         = "Foreign"
	CategoryInvestmentTrust = "InvestmentTrust"
	CategoryDealer          = "Dealer"
)

// InstitutionalFlow represents one day of institutional buy/sell volume for a
// stock and investor category. Natural key: (date, stock_id, category).
// NetVolume is derived and recomputed on every write, never trusted from input.
type InstitutionalFlow struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Date       time.Time `gorm:"uniqueIndex:uidx_flow_key,priority:1;not null" json:"date"`
	StockID    string    `gorm:"size:20;uniqueIndex:uidx_flow_key,priority:2;not null" json:"stock_id"`
	Category   string    `gorm:"size:20;uniqueIndex:uidx_flow_key,priority:3;not null" json:"category"`
	BuyVolume  int64     `json:"buy_volume"`
	SellVolume int64     `json:"sell_volume"`
	NetVolume  int64     `json:"net_volume"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (InstitutionalFlow) TableName() string {
	return "institutional_flows"
}

// Recompute overwrites NetVolume from the buy and sell legs.
func (f *InstitutionalFlow) Recompute() {
	f.NetVolume = f.BuyVolume - f.SellVolume
}

// Validate enforces the order-flow invariants.
func (f *InstitutionalFlow) Validate() error {
	if f.StockID == "" {
		return fmt.Errorf("missing stock id")
	}
	if f.Date.IsZero() {
		return fmt.Errorf("missing date")
	}
	switch f.Category {
	case CategoryForeign, CategoryInvestmentTrust, CategoryDealer:
	default:
		return fmt.Errorf("unknown investor category %q", f.Category)
	}
	if f.BuyVolume < 0 || f.SellVolume < 0 {
		return fmt.Errorf("negative volume (buy=%d, sell=%d)", f.BuyVolume, f.SellVolume)
	}
	return nil
}

// SameValues reports whether other carries identical mutable fields.
func (f *InstitutionalFlow) SameValues(other *InstitutionalFlow) bool {
	return f.BuyVolume == other.BuyVolume && f.SellVolume == other.SellVolume
}

// OptionFactor represents one day of derivative factors for an option
// contract. Natural key: (date, contract_id).
type OptionFactor struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Date         time.Time `gorm:"uniqueIndex:uidx_factor_key,priority:1;not null" json:"date"`
	ContractID   string    `gorm:"size:30;uniqueIndex:uidx_factor_key,priority:2;not null" json:"contract_id"`
	ClosePrice   float64   `json:"close_price"`
	Settlement   float64   `json:"settlement"`
	ImpliedVol   float64   `json:"implied_vol"`
	OpenInterest int64     `json:"open_interest"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (OptionFactor) TableName() string {
	return "option_factors"
}

// Validate enforces the option-factor invariants.
func (o *OptionFactor) Validate() error {
	if o.ContractID == "" {
		return fmt.Errorf("missing contract id")
	}
	if o.Date.IsZero() {
		return fmt.Errorf("missing date")
	}
	if o.OpenInterest < 0 {
		return fmt.Errorf("negative open interest %d", o.OpenInterest)
	}
	if o.ClosePrice < 0 || o.Settlement < 0 || o.ImpliedVol < 0 {
		return fmt.Errorf("negative price field")
	}
	return nil
}

// SameValues reports whether other carries identical mutable fields.
func (o *OptionFactor) SameValues(other *OptionFactor) bool {
	return o.ClosePrice == other.ClosePrice &&
		o.Settlement == other.Settlement &&
		o.ImpliedVol == other.ImpliedVol &&
		o.OpenInterest == other.OpenInterest
}
