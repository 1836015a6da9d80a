// Package purchases records supplier invoices and books their stock on confirmation.
package purchases

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// RefModule tags stock movements written on behalf of purchases.
const RefModule = "purchase"

// Status is the purchase lifecycle state.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusFinalized      Status = "finalized"
)

var statusLabels = map[string]Status{
	"pendingpayment":  StatusPendingPayment,
	"pendientedepago": StatusPendingPayment,
	"pendiente":       StatusPendingPayment,
	"finalized":       StatusFinalized,
	"finalizado":      StatusFinalized,
	"finalizada":      StatusFinalized,
}

// CanonicalStatus maps stored or legacy labels to a Status.
func CanonicalStatus(raw string) (Status, error) {
	if s, ok := statusLabels[shared.FoldLabel(raw)]; ok {
		return s, nil
	}
	return "", invalid("status", fmt.Sprintf("unknown status %q", raw))
}

// Editable reports whether the purchase may still be changed or deleted.
func (s Status) Editable() bool {
	return s == StatusPendingPayment
}

// Purchase is a supplier invoice. Unit costs are tax inclusive.
type Purchase struct {
	ID            int64
	SupplierID    int64
	InvoiceNumber string
	CurrencyID    *int64
	Date          time.Time
	SurchargePct  decimal.Decimal
	TaxRate       decimal.Decimal
	Total         decimal.Decimal
	Status        Status
	CreatedBy     int64
	ConfirmedBy   *int64
	ConfirmedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Lines         []Line
}

// Line is one product on the invoice.
type Line struct {
	ID         int64
	PurchaseID int64
	ProductID  int64
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
}

// LineInput is a requested line.
type LineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
}

// Input carries the editable fields of a purchase.
type Input struct {
	SupplierID    int64
	InvoiceNumber string
	CurrencyID    *int64
	Date          time.Time
	SurchargePct  decimal.Decimal
	Lines         []LineInput
	ActorID       int64
}

// PriceRecord is one supplier_price_history row.
type PriceRecord struct {
	SupplierID int64
	ProductID  int64
	PurchaseID int64
	UnitCost   decimal.Decimal
	RecordedAt time.Time
}

// ListFilter narrows List.
type ListFilter struct {
	Status     *Status
	SupplierID int64
	Page       int
	PerPage    int
}

func (p Purchase) stockRequests() []stock.Request {
	out := make([]stock.Request, 0, len(p.Lines))
	for _, l := range p.Lines {
		out = append(out, stock.Request{ProductID: l.ProductID, Quantity: l.Quantity, RefModule: RefModule, RefID: p.ID})
	}
	return out
}
