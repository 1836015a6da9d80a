package quotes

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
	"github.com/mostrador/mostrador/internal/history"
	"github.com/mostrador/mostrador/internal/notify"
	"github.com/mostrador/mostrador/internal/pricing"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// ServiceConfig tunes Service behaviour.
type ServiceConfig struct {
	// TaxRate is stored on each new quote and used for every later recomputation.
	TaxRate decimal.Decimal
	// Publisher, when set, is told about every finalized quote after commit.
	Publisher Publisher
}

// Service runs quote operations. Each operation is one transaction: the quote row is
// locked, its state checked, totals recomputed, stock adjusted and one history event
// appended, or nothing is written at all.
type Service struct {
	repo     Repository
	catalog  Catalog
	stock    *stock.Coordinator
	history  *history.Recorder
	observer TransitionObserver
	logger   *slog.Logger
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService constructs a Service. observer may be nil.
func NewService(repo Repository, cat Catalog, coordinator *stock.Coordinator, recorder *history.Recorder, cfg ServiceConfig, logger *slog.Logger, observer TransitionObserver) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		catalog:  cat,
		stock:    coordinator,
		history:  recorder,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Get returns one quote with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Quote, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of quotes and the total number of matches.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Quote, int, error) {
	if filter.PerPage <= 0 || filter.PerPage > 200 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	return s.repo.List(ctx, filter)
}

// History returns the transition log of a quote, oldest first.
func (s *Service) History(ctx context.Context, id int64) ([]history.Event, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.history.List(ctx, id)
}

// Create inserts a draft quote, commits stock for its lines and records the creation.
func (s *Service) Create(ctx context.Context, in CreateInput) (Result, error) {
	if err := validateCreate(in); err != nil {
		s.observe(actionCreate, err)
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		client, err := s.lookupClient(ctx, in.ClientID)
		if err != nil {
			return err
		}
		payment, err := s.lookupPaymentMethod(ctx, in.PaymentMethodID)
		if err != nil {
			return err
		}
		if err := s.lookupCurrency(ctx, in.CurrencyID); err != nil {
			return err
		}
		lines, err := s.priceLines(ctx, in.Lines)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		q := Quote{
			ClientID:             in.ClientID,
			PaymentMethodID:      in.PaymentMethodID,
			CurrencyID:           in.CurrencyID,
			ReservationExpiresAt: in.ReservationExpiresAt,
			Observation:          trimmed(in.Observation),
			ClientDiscountPct:    client.TierDiscountPct,
			GeneralDiscountPct:   valueOr(in.GeneralDiscountPct, decimal.Zero),
			SurchargePct:         valueOr(in.SurchargePct, payment.SurchargePct),
			Adjustment:           valueOr(in.Adjustment, decimal.Zero),
			TaxRate:              s.cfg.TaxRate,
			Status:               StatusDraft,
			CreatedBy:            in.ActorID,
			CreatedAt:            now,
			UpdatedAt:            now,
			Lines:                lines,
		}
		if err := reprice(&q); err != nil {
			return err
		}

		id, err := tx.InsertQuote(ctx, q)
		if err != nil {
			return fmt.Errorf("insert quote: %w", err)
		}
		q.ID = id
		if q.Lines, err = tx.ReplaceLines(ctx, id, q.Lines); err != nil {
			return fmt.Errorf("insert quote lines: %w", err)
		}

		records, err := s.stock.Commit(ctx, tx, q.stockRequests()...)
		if err != nil {
			return err
		}
		if _, err := s.history.Record(ctx, tx, history.Event{
			QuoteID: id,
			ToState: string(StatusDraft),
			Action:  string(actionCreate),
			ActorID: in.ActorID,
		}); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "quote.create",
			Entity:   "quote",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"client_id": q.ClientID, "total": q.Total.String()},
			At:       now,
		}); err != nil {
			return fmt.Errorf("audit quote: %w", err)
		}
		result = Result{Quote: q, Warnings: stock.Warnings(records)}
		return nil
	})
	s.observe(actionCreate, err)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("quote created",
		slog.Int64("quote_id", result.Quote.ID),
		slog.Int64("actor_id", in.ActorID),
		slog.String("total", result.Quote.Total.String()))
	return result, nil
}

// Apply performs a transition on quote id. The current state is read under a row lock
// inside the transaction, so of two racing requests on the same quote only the first
// can see the state it expects.
func (s *Service) Apply(ctx context.Context, id int64, in ApplyInput) (Result, error) {
	if err := validateActor(in); err != nil {
		s.observe(in.Action, err)
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := q.Status
		to, err := Next(from, in.Action)
		if err != nil {
			return err
		}
		if in.Authorize != nil {
			if err := in.Authorize(from); err != nil {
				return err
			}
		}
		// Payload checks run after the legality check so an illegal (state, action)
		// pair always reports ErrInvalidState.
		if err := validateApply(in); err != nil {
			return err
		}

		var records []stock.Record
		switch in.Action {
		case ActionSave:
			records, err = s.save(ctx, tx, &q, in)
		case ActionLock:
			err = rejectFields(in, nil)
		case ActionFinalize:
			if err = rejectFields(in, nil); err == nil {
				records, err = s.finalize(ctx, tx, &q)
			}
		case ActionCancel:
			if err = rejectFields(in, map[string]bool{"cancelReason": true}); err == nil {
				records, err = s.stock.Release(ctx, tx, q.stockRequests()...)
			}
		}
		if err != nil {
			return err
		}

		q.Status = to
		q.UpdatedAt = s.now().UTC()
		if err := tx.UpdateQuote(ctx, q); err != nil {
			return fmt.Errorf("update quote: %w", err)
		}
		if _, err := s.history.Record(ctx, tx, history.Event{
			QuoteID:   q.ID,
			FromState: string(from),
			ToState:   string(to),
			Action:    string(in.Action),
			Reason:    trimmed(in.CancelReason),
			ActorID:   in.ActorID,
		}); err != nil {
			return err
		}
		result = Result{Quote: q, Warnings: stock.Warnings(records)}
		return nil
	})
	s.observe(in.Action, err)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			s.logger.Warn("quote transition rejected",
				slog.Int64("quote_id", id),
				slog.String("action", string(in.Action)),
				slog.Any("error", err))
		}
		return Result{}, err
	}
	s.logger.Info("quote transition",
		slog.Int64("quote_id", id),
		slog.String("action", string(in.Action)),
		slog.String("status", string(result.Quote.Status)),
		slog.Int64("actor_id", in.ActorID))
	if result.Quote.Status == StatusFinalized && s.cfg.Publisher != nil {
		s.cfg.Publisher.Publish(ctx, notify.Notification{
			Kind:    notify.KindQuoteFinalized,
			Title:   "Venta finalizada",
			Message: fmt.Sprintf("Presupuesto %d finalizado por %s", result.Quote.ID, pricing.Format(pricing.DisplayLocale, result.Quote.Total)),
			Ref:     "quote:" + strconv.FormatInt(result.Quote.ID, 10),
		})
	}
	return result, nil
}

// save applies a guardar action. Line items may only change while draft; header
// fields may change while draft or locked.
func (s *Service) save(ctx context.Context, tx TxRepository, q *Quote, in ApplyInput) ([]stock.Record, error) {
	if in.CancelReason != nil {
		return nil, invalid("cancelReason", "only accepted by cancelar")
	}
	if in.Lines != nil && !q.Status.CanEditLines() {
		return nil, fmt.Errorf("%w: line items are frozen once the quote is %s", ErrInvalidState, q.Status)
	}
	if !q.Status.CanEditHeader() {
		return nil, fmt.Errorf("%w: a %s quote cannot be edited", ErrInvalidState, q.Status)
	}
	if in.ClientID != nil {
		client, err := s.lookupClient(ctx, *in.ClientID)
		if err != nil {
			return nil, err
		}
		q.ClientID = client.ID
		q.ClientDiscountPct = client.TierDiscountPct
	}
	if in.PaymentMethodID != nil {
		payment, err := s.lookupPaymentMethod(ctx, *in.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		q.PaymentMethodID = payment.ID
		if in.SurchargePct == nil {
			q.SurchargePct = payment.SurchargePct
		}
	}
	if in.CurrencyID != nil {
		if err := s.lookupCurrency(ctx, in.CurrencyID); err != nil {
			return nil, err
		}
		q.CurrencyID = in.CurrencyID
	}
	if in.ReservationExpiresAt != nil {
		q.ReservationExpiresAt = in.ReservationExpiresAt
	}
	if in.Observation != nil {
		q.Observation = trimmed(in.Observation)
	}
	if in.GeneralDiscountPct != nil {
		q.GeneralDiscountPct = *in.GeneralDiscountPct
	}
	if in.SurchargePct != nil {
		q.SurchargePct = *in.SurchargePct
	}
	if in.Adjustment != nil {
		q.Adjustment = *in.Adjustment
	}

	var records []stock.Record
	if in.Lines != nil {
		lines, err := s.priceLines(ctx, in.Lines)
		if err != nil {
			return nil, err
		}
		prev := q.stockRequests()
		q.Lines = lines
		records, err = s.stock.Reconcile(ctx, tx, prev, q.stockRequests())
		if err != nil {
			return nil, err
		}
		if q.Lines, err = tx.ReplaceLines(ctx, q.ID, q.Lines); err != nil {
			return nil, fmt.Errorf("replace quote lines: %w", err)
		}
	}
	if err := reprice(q); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) finalize(ctx context.Context, tx TxRepository, q *Quote) ([]stock.Record, error) {
	if len(q.Lines) == 0 {
		return nil, invalid("lineItems", "a quote without lines cannot be finalized")
	}
	if err := reprice(q); err != nil {
		return nil, err
	}
	return s.stock.Settle(ctx, tx, q.stockRequests()...)
}

// priceLines resolves products and captures their current prices.
func (s *Service) priceLines(ctx context.Context, inputs []LineInput) ([]Line, error) {
	ids := make([]int64, 0, len(inputs))
	for _, l := range inputs {
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	lines := make([]Line, 0, len(inputs))
	for i, l := range inputs {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, invalid(fmt.Sprintf("lineItems[%d].productId", i), fmt.Sprintf("product %d does not exist", l.ProductID))
		}
		lines = append(lines, Line{
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			UnitPrice:       p.Price,
			LineDiscountPct: l.LineDiscountPct,
		})
	}
	return lines, nil
}

func (s *Service) lookupClient(ctx context.Context, id int64) (catalog.Client, error) {
	c, err := s.catalog.GetClient(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Client{}, invalid("clientId", fmt.Sprintf("client %d does not exist", id))
	}
	return c, err
}

func (s *Service) lookupPaymentMethod(ctx context.Context, id int64) (catalog.PaymentMethod, error) {
	pm, err := s.catalog.GetPaymentMethod(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.PaymentMethod{}, invalid("paymentMethodId", fmt.Sprintf("payment method %d does not exist", id))
	}
	return pm, err
}

func (s *Service) lookupCurrency(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	_, err := s.catalog.GetCurrency(ctx, *id)
	if errors.Is(err, catalog.ErrNotFound) {
		return invalid("currencyId", fmt.Sprintf("currency %d does not exist", *id))
	}
	return err
}

func (s *Service) observe(action Action, err error) {
	if s.observer == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidState):
		result = "invalid_state"
	case errors.Is(err, ErrValidation):
		result = "validation"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrConflict):
		result = "conflict"
	default:
		result = "error"
	}
	s.observer.ObserveQuoteTransition(string(action), result)
}

// reprice recomputes q's totals from its lines and pricing inputs.
func reprice(q *Quote) error {
	lines := make([]pricing.Line, 0, len(q.Lines))
	for _, l := range q.Lines {
		lines = append(lines, pricing.Line{Quantity: l.Quantity, UnitPrice: l.UnitPrice, LineDiscountPct: l.LineDiscountPct})
	}
	in := pricing.Inputs{
		ClientDiscountPct:  q.ClientDiscountPct,
		GeneralDiscountPct: q.GeneralDiscountPct,
		SurchargePct:       q.SurchargePct,
		Adjustment:         q.Adjustment,
		TaxRate:            q.TaxRate,
	}
	if err := pricing.Validate(lines, in); err != nil {
		return invalid("pricing", strings.TrimPrefix(err.Error(), pricing.ErrInvalidInput.Error()+": "))
	}
	totals := pricing.Compute(lines, in)
	q.Subtotal = totals.SubtotalExTax
	q.Tax = totals.Tax
	q.Total = totals.Total
	return nil
}

func validateCreate(in CreateInput) error {
	if in.ActorID <= 0 {
		return invalid("actor", "acting user required")
	}
	if in.ClientID <= 0 {
		return invalid("clientId", "required")
	}
	if in.PaymentMethodID <= 0 {
		return invalid("paymentMethodId", "required")
	}
	if err := validateLines(in.Lines); err != nil {
		return err
	}
	if err := validateAdjustment(in.Adjustment); err != nil {
		return err
	}
	return validatePercents(in.GeneralDiscountPct, in.SurchargePct)
}

func validateActor(in ApplyInput) error {
	if _, err := ParseAction(string(in.Action)); err != nil {
		return err
	}
	if in.ActorID <= 0 {
		return invalid("actor", "acting user required")
	}
	return nil
}

func validateApply(in ApplyInput) error {
	if in.Lines != nil {
		if err := validateLines(in.Lines); err != nil {
			return err
		}
	}
	if in.ClientID != nil && *in.ClientID <= 0 {
		return invalid("clientId", "must be positive")
	}
	if in.PaymentMethodID != nil && *in.PaymentMethodID <= 0 {
		return invalid("paymentMethodId", "must be positive")
	}
	if err := validateAdjustment(in.Adjustment); err != nil {
		return err
	}
	return validatePercents(in.GeneralDiscountPct, in.SurchargePct)
}

func validateAdjustment(v *decimal.Decimal) error {
	if v != nil {
		if err := pricing.ValidatePlaces("adjustment", *v, pricing.AmountPlaces); err != nil {
			return invalid("adjustment", fmt.Sprintf("at most %d decimals", pricing.AmountPlaces))
		}
	}
	return nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return invalid("lineItems", "at least one line item is required")
	}
	for i, l := range lines {
		if l.ProductID <= 0 {
			return invalid(fmt.Sprintf("lineItems[%d].productId", i), "required")
		}
		if !l.Quantity.IsPositive() {
			return invalid(fmt.Sprintf("lineItems[%d].quantity", i), "must be greater than zero")
		}
		if err := pricing.ValidatePlaces("quantity", l.Quantity, pricing.QuantityPlaces); err != nil {
			return invalid(fmt.Sprintf("lineItems[%d].quantity", i), fmt.Sprintf("at most %d decimals", pricing.QuantityPlaces))
		}
		if err := pricing.ValidatePercent("line discount", l.LineDiscountPct); err != nil {
			return invalid(fmt.Sprintf("lineItems[%d].lineDiscountPct", i), percentRule)
		}
	}
	return nil
}

const percentRule = "must be between 0 and 100 with at most 2 decimals"

func validatePercents(general, surcharge *decimal.Decimal) error {
	if general != nil {
		if err := pricing.ValidatePercent("general discount", *general); err != nil {
			return invalid("generalDiscountPct", percentRule)
		}
	}
	if surcharge != nil {
		if err := pricing.ValidatePercent("surcharge", *surcharge); err != nil {
			return invalid("surchargePct", percentRule)
		}
	}
	return nil
}

// rejectFields fails when the request carries a field the action does not accept.
func rejectFields(in ApplyInput, allowed map[string]bool) error {
	for _, f := range in.presentFields() {
		if !allowed[f] {
			return invalid(f, fmt.Sprintf("not accepted by %s", in.Action))
		}
	}
	return nil
}

func valueOr(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v == nil {
		return fallback
	}
	return *v
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
