package purchases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mostrador/mostrador/internal/catalog"
	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/pricing"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// Service runs purchase operations.
type Service struct {
	repo      Repository
	catalog   Catalog
	stock     *stock.Coordinator
	publisher Publisher
	taxRate   decimal.Decimal
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service. publisher may be nil.
func NewService(repo Repository, cat Catalog, coordinator *stock.Coordinator, taxRate decimal.Decimal, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		catalog:   cat,
		stock:     coordinator,
		publisher: publisher,
		taxRate:   taxRate,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns one purchase with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of purchases and the number of matches.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	if filter.PerPage <= 0 || filter.PerPage > 200 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.repo.List(ctx, filter)
}

// Create stores a pending purchase. A second invoice with the same number from the
// same supplier fails with ErrConflict.
func (s *Service) Create(ctx context.Context, in Input) (Purchase, error) {
	if err := validateInput(in); err != nil {
		return Purchase{}, err
	}
	var out Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, err := s.resolve(ctx, in)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		p := Purchase{
			SupplierID:    in.SupplierID,
			InvoiceNumber: strings.TrimSpace(in.InvoiceNumber),
			CurrencyID:    in.CurrencyID,
			Date:          in.Date,
			SurchargePct:  in.SurchargePct,
			TaxRate:       s.taxRate,
			Status:        StatusPendingPayment,
			CreatedBy:     in.ActorID,
			CreatedAt:     now,
			UpdatedAt:     now,
			Lines:         lines,
		}
		p.Total = ComputeTotals(p.Lines, p.SurchargePct, p.TaxRate).Total
		id, err := tx.InsertPurchase(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		if p.Lines, err = tx.ReplaceLines(ctx, id, p.Lines); err != nil {
			return fmt.Errorf("insert purchase lines: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.logger.Info("purchase created",
		slog.Int64("purchase_id", out.ID),
		slog.Int64("supplier_id", out.SupplierID),
		slog.String("invoice", out.InvoiceNumber))
	return out, nil
}

// Update replaces the fields and lines of a pending purchase.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Purchase, error) {
	if err := validateInput(in); err != nil {
		return Purchase{}, err
	}
	var out Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !p.Status.Editable() {
			return fmt.Errorf("%w: purchase %d is %s", ErrInvalidState, id, p.Status)
		}
		lines, err := s.resolve(ctx, in)
		if err != nil {
			return err
		}
		p.SupplierID = in.SupplierID
		p.InvoiceNumber = strings.TrimSpace(in.InvoiceNumber)
		p.CurrencyID = in.CurrencyID
		p.Date = in.Date
		p.SurchargePct = in.SurchargePct
		p.Lines = lines
		p.Total = ComputeTotals(p.Lines, p.SurchargePct, p.TaxRate).Total
		p.UpdatedAt = s.now().UTC()
		if err := tx.UpdatePurchase(ctx, p); err != nil {
			return err
		}
		if p.Lines, err = tx.ReplaceLines(ctx, id, p.Lines); err != nil {
			return fmt.Errorf("replace purchase lines: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// Delete removes a pending purchase.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !p.Status.Editable() {
			return fmt.Errorf("%w: purchase %d is %s", ErrInvalidState, id, p.Status)
		}
		return tx.DeletePurchase(ctx, id)
	})
}

// Confirm finalizes a pending purchase. In one transaction it adds every line to
// real stock, appends the supplier price history and marks the purchase finalized.
// Confirming a finalized purchase fails with ErrInvalidState.
func (s *Service) Confirm(ctx context.Context, id, actorID int64) (Purchase, error) {
	if actorID <= 0 {
		return Purchase{}, invalid("actor", "acting user required")
	}
	var out Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPendingPayment {
			return fmt.Errorf("%w: purchase %d is already %s", ErrInvalidState, id, p.Status)
		}
		if len(p.Lines) == 0 {
			return invalid("lineItems", "a purchase without lines cannot be confirmed")
		}
		if _, err := s.stock.Receive(ctx, tx, p.stockRequests()...); err != nil {
			return err
		}
		now := s.now().UTC()
		for _, l := range p.Lines {
			if err := tx.InsertPriceRecord(ctx, PriceRecord{
				SupplierID: p.SupplierID,
				ProductID:  l.ProductID,
				PurchaseID: p.ID,
				UnitCost:   l.UnitCost,
				RecordedAt: now,
			}); err != nil {
				return fmt.Errorf("price history: %w", err)
			}
		}
		p.Status = StatusFinalized
		p.ConfirmedBy = &actorID
		p.ConfirmedAt = &now
		p.UpdatedAt = now
		if err := tx.UpdatePurchase(ctx, p); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "purchase.confirm",
			Entity:   "purchase",
			EntityID: strconv.FormatInt(p.ID, 10),
			Meta:     map[string]any{"supplier_id": p.SupplierID, "invoice": p.InvoiceNumber, "total": p.Total.String()},
			At:       now,
		}); err != nil {
			return fmt.Errorf("audit purchase: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			s.logger.Warn("purchase confirm rejected", slog.Int64("purchase_id", id), slog.Any("error", err))
		}
		return Purchase{}, err
	}
	s.logger.Info("purchase confirmed", slog.Int64("purchase_id", id), slog.Int64("actor_id", actorID))
	if s.publisher != nil {
		s.publisher.Publish(ctx, notify.Notification{
			Kind:    notify.KindPurchaseConfirmed,
			Title:   "Compra confirmada",
			Message: fmt.Sprintf("Factura %s por %s", out.InvoiceNumber, pricing.Format(pricing.DisplayLocale, out.Total)),
			Ref:     "purchase:" + strconv.FormatInt(out.ID, 10),
		})
	}
	return out, nil
}

// resolve checks the references of in and builds its lines.
func (s *Service) resolve(ctx context.Context, in Input) ([]Line, error) {
	ok, err := s.catalog.SupplierExists(ctx, in.SupplierID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid("supplierId", fmt.Sprintf("supplier %d does not exist", in.SupplierID))
	}
	if in.CurrencyID != nil {
		if _, err := s.catalog.GetCurrency(ctx, *in.CurrencyID); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, invalid("currencyId", fmt.Sprintf("currency %d does not exist", *in.CurrencyID))
			}
			return nil, err
		}
	}
	ids := make([]int64, 0, len(in.Lines))
	for _, l := range in.Lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	lines := make([]Line, 0, len(in.Lines))
	for i, l := range in.Lines {
		if _, ok := products[l.ProductID]; !ok {
			return nil, invalid(fmt.Sprintf("lineItems[%d].productId", i), fmt.Sprintf("product %d does not exist", l.ProductID))
		}
		lines = append(lines, Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	return lines, nil
}

func validateInput(in Input) error {
	if in.ActorID <= 0 {
		return invalid("actor", "acting user required")
	}
	if in.SupplierID <= 0 {
		return invalid("supplierId", "required")
	}
	if strings.TrimSpace(in.InvoiceNumber) == "" {
		return invalid("invoiceNumber", "required")
	}
	if in.Date.IsZero() {
		return invalid("date", "required")
	}
	if err := pricing.ValidatePercent("surcharge", in.SurchargePct); err != nil {
		return invalid("surchargePct", "must be between 0 and 100 with at most 2 decimals")
	}
	if len(in.Lines) == 0 {
		return invalid("lineItems", "at least one line item is required")
	}
	for i, l := range in.Lines {
		if l.ProductID <= 0 {
			return invalid(fmt.Sprintf("lineItems[%d].productId", i), "required")
		}
		if !l.Quantity.IsPositive() {
			return invalid(fmt.Sprintf("lineItems[%d].quantity", i), "must be greater than zero")
		}
		if err := pricing.ValidatePlaces("quantity", l.Quantity, pricing.QuantityPlaces); err != nil {
			return invalid(fmt.Sprintf("lineItems[%d].quantity", i), fmt.Sprintf("at most %d decimals", pricing.QuantityPlaces))
		}
		if l.UnitCost.IsNegative() {
			return invalid(fmt.Sprintf("lineItems[%d].unitCost", i), "must not be negative")
		}
		if err := pricing.ValidatePlaces("unit cost", l.UnitCost, pricing.AmountPlaces); err != nil {
			return invalid(fmt.Sprintf("lineItems[%d].unitCost", i), fmt.Sprintf("at most %d decimals", pricing.AmountPlaces))
		}
	}
	return nil
}
