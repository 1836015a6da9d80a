// Package catalog reads the reference data quotes and purchases point at.
package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates a missing reference.
var ErrNotFound = errors.New("catalog: not found")

// Client is a customer with its tier discount.
type Client struct {
	ID              int64
	Name            string
	Tier            string
	TierDiscountPct decimal.Decimal
}

// Product is a sellable item with its current list price (tax included).
type Product struct {
	ID       int64
	SKU      string
	Name     string
	Price    decimal.Decimal
	IsActive bool
}

// PaymentMethod carries the surcharge applied when a sale is paid with it.
type PaymentMethod struct {
	ID           int64
	Name         string
	SurchargePct decimal.Decimal
}

// Currency is a quoted currency and the moment its rate was last refreshed.
type Currency struct {
	ID        int64
	Code      string
	Name      string
	Rate      decimal.Decimal
	UpdatedAt time.Time
}

// Stale reports whether the rate is older than maxAge at now.
func (c Currency) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.UpdatedAt) > maxAge
}
