// Package stock tracks physical and committed quantities per product.
package stock

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidQuantity is returned for zero or negative movement quantities.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// ErrNotFound indicates the product has no stock record.
var ErrNotFound = errors.New("stock: record not found")

// Record holds the counters of one product. Committed may exceed Real; callers
// surface that as a warning rather than refusing the operation.
type Record struct {
	ProductID int64           `json:"productId"`
	Real      decimal.Decimal `json:"real"`
	Committed decimal.Decimal `json:"committed"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Available is Real minus Committed and may be negative.
func (r Record) Available() decimal.Decimal {
	return r.Real.Sub(r.Committed)
}

// Overcommitted reports whether more is committed than physically present.
func (r Record) Overcommitted() bool {
	return r.Available().IsNegative()
}

// MovementKind enumerates counter changes.
type MovementKind string

const (
	MovementCommit  MovementKind = "commit"
	MovementRelease MovementKind = "release"
	MovementSettle  MovementKind = "settle"
	MovementReceive MovementKind = "receive"
)

// Movement is the append-only log entry written for every counter change.
type Movement struct {
	Reference      uuid.UUID
	ProductID      int64
	Kind           MovementKind
	Quantity       decimal.Decimal
	RealAfter      decimal.Decimal
	CommittedAfter decimal.Decimal
	RefModule      string
	RefID          int64
	CreatedAt      time.Time
}

// Request asks for a quantity change on one product on behalf of a document.
type Request struct {
	ProductID int64
	Quantity  decimal.Decimal
	RefModule string
	RefID     int64
}

// Warning describes a product left with negative availability.
type Warning struct {
	ProductID int64           `json:"productId"`
	Real      decimal.Decimal `json:"real"`
	Committed decimal.Decimal `json:"committed"`
	Available decimal.Decimal `json:"available"`
}

// Warnings lists the overcommitted records.
func Warnings(records []Record) []Warning {
	var out []Warning
	for _, r := range records {
		if r.Overcommitted() {
			out = append(out, Warning{ProductID: r.ProductID, Real: r.Real, Committed: r.Committed, Available: r.Available()})
		}
	}
	return out
}
