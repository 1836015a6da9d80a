// Package quotes implements the quote to sale lifecycle.
package quotes

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mostrador/mostrador/internal/stock"
)

// RefModule tags stock movements written on behalf of quotes.
const RefModule = "quote"

// Quote is a sales proposal that becomes a sale once finalized. Totals are derived
// from Lines and the pricing inputs at the last save and are never edited directly.
type Quote struct {
	ID                   int64
	ClientID             int64
	PaymentMethodID      int64
	CurrencyID           *int64
	ReservationExpiresAt *time.Time
	Observation          *string
	ClientDiscountPct    decimal.Decimal
	GeneralDiscountPct   decimal.Decimal
	SurchargePct         decimal.Decimal
	Adjustment           decimal.Decimal
	TaxRate              decimal.Decimal
	Subtotal             decimal.Decimal
	Tax                  decimal.Decimal
	Total                decimal.Decimal
	Status               Status
	CreatedBy            int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Lines                []Line
}

// Line is owned by its quote and replaced wholesale on every draft save. UnitPrice is
// the product price captured at that save.
type Line struct {
	ID              int64
	QuoteID         int64
	ProductID       int64
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	LineDiscountPct decimal.Decimal
}

// LineInput is a requested line before prices are resolved.
type LineInput struct {
	ProductID       int64
	Quantity        decimal.Decimal
	LineDiscountPct decimal.Decimal
}

// CreateInput carries the fields accepted when a quote is created.
type CreateInput struct {
	ClientID             int64
	PaymentMethodID      int64
	CurrencyID           *int64
	ReservationExpiresAt *time.Time
	Observation          *string
	Lines                []LineInput
	GeneralDiscountPct   *decimal.Decimal
	SurchargePct         *decimal.Decimal
	Adjustment           *decimal.Decimal
	ActorID              int64
}

// ApplyInput is a transition request. Nil fields are absent from the request; the
// action decides which present fields are honored.
type ApplyInput struct {
	Action               Action
	Lines                []LineInput
	ClientID             *int64
	PaymentMethodID      *int64
	CurrencyID           *int64
	ReservationExpiresAt *time.Time
	Observation          *string
	GeneralDiscountPct   *decimal.Decimal
	Adjustment           *decimal.Decimal
	SurchargePct         *decimal.Decimal
	CancelReason         *string
	ActorID              int64

	// Authorize, when set, is called with the locked current state before any write.
	Authorize func(from Status) error
}

// presentFields names the non-action fields set on the request.
func (in ApplyInput) presentFields() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(in.Lines != nil, "lineItems")
	add(in.ClientID != nil, "clientId")
	add(in.PaymentMethodID != nil, "paymentMethodId")
	add(in.CurrencyID != nil, "currencyId")
	add(in.ReservationExpiresAt != nil, "reservationExpiresAt")
	add(in.Observation != nil, "observation")
	add(in.GeneralDiscountPct != nil, "generalDiscountPct")
	add(in.Adjustment != nil, "adjustment")
	add(in.SurchargePct != nil, "surchargePct")
	add(in.CancelReason != nil, "cancelReason")
	return out
}

// Result is a quote after a successful operation plus the products it left with
// negative availability.
type Result struct {
	Quote    Quote
	Warnings []stock.Warning
}

// ListFilter narrows List.
type ListFilter struct {
	Status   *Status
	ClientID int64
	Page     int
	PerPage  int
}

func (q Quote) stockRequests() []stock.Request {
	out := make([]stock.Request, 0, len(q.Lines))
	for _, l := range q.Lines {
		out = append(out, stock.Request{ProductID: l.ProductID, Quantity: l.Quantity, RefModule: RefModule, RefID: q.ID})
	}
	return out
}
