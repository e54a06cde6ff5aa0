package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places stored for monetary amounts.
const PriceScale = 2

// FitsPriceScale reports whether d is representable with PriceScale decimals.
func FitsPriceScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(PriceScale))
}

type Product struct {
	ID          string
	StoreID     string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Published   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the invariants every persisted product must hold.
func (p Product) Validate() error {
	if p.StoreID == "" {
		return NewValidationError("storeId", "cannot be empty", p.StoreID)
	}
	if p.Name == "" {
		return NewValidationError("name", "cannot be empty", p.Name)
	}
	if !p.Price.IsPositive() {
		return NewValidationError("price", "must be positive", p.Price.String())
	}
	if !FitsPriceScale(p.Price) {
		return NewValidationError("price", "must have at most 2 decimal places", p.Price.String())
	}
	if p.Stock < 0 {
		return NewValidationError("stock", "must be non-negative", p.Stock)
	}
	return nil
}
