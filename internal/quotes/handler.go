package quotes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mostrador/mostrador/internal/history"
	"github.com/mostrador/mostrador/internal/platform/httpx"
	"github.com/mostrador/mostrador/internal/pricing"
	"github.com/mostrador/mostrador/internal/rbac"
	"github.com/mostrador/mostrador/internal/shared"
	"github.com/mostrador/mostrador/internal/stock"
)

// Handler exposes quote endpoints as JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
	rbac      rbac.Middleware
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator(), rbac: rbacMW}
}

// MountRoutes registers quote routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermQuotesView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/history", h.history)
	})
	r.With(h.rbac.RequireAny(rbac.PermQuotesCreate)).Post("/", h.create)
	r.With(h.rbac.RequireAny(
		rbac.PermQuotesEdit, rbac.PermQuotesCashier, rbac.PermQuotesFinalize, rbac.PermQuotesCancel,
	)).Put("/{id}", h.apply)
}

type lineItemRequest struct {
	ProductID       int64            `json:"productId" validate:"required,gt=0"`
	Quantity        decimal.Decimal  `json:"quantity"`
	LineDiscountPct *decimal.Decimal `json:"lineDiscountPct,omitempty"`
}

type createRequest struct {
	ClientID             int64             `json:"clientId" validate:"required,gt=0"`
	PaymentMethodID      int64             `json:"paymentMethodId" validate:"required,gt=0"`
	CurrencyID           *int64            `json:"currencyId,omitempty" validate:"omitempty,gt=0"`
	ReservationExpiresAt *time.Time        `json:"reservationExpiresAt,omitempty"`
	Observation          *string           `json:"observation,omitempty" validate:"omitempty,max=2000"`
	LineItems            []lineItemRequest `json:"lineItems" validate:"required,min=1,dive"`
	GeneralDiscountPct   *decimal.Decimal  `json:"generalDiscountPct,omitempty"`
	SurchargePct         *decimal.Decimal  `json:"surchargePct,omitempty"`
	Adjustment           *decimal.Decimal  `json:"adjustment,omitempty"`
}

type applyRequest struct {
	Action               string            `json:"action" validate:"required,oneof=guardar lock finalizar cancelar"`
	LineItems            []lineItemRequest `json:"lineItems,omitempty" validate:"omitempty,dive"`
	ClientID             *int64            `json:"clientId,omitempty" validate:"omitempty,gt=0"`
	PaymentMethodID      *int64            `json:"paymentMethodId,omitempty" validate:"omitempty,gt=0"`
	CurrencyID           *int64            `json:"currencyId,omitempty" validate:"omitempty,gt=0"`
	ReservationExpiresAt *time.Time        `json:"reservationExpiresAt,omitempty"`
	Observation          *string           `json:"observation,omitempty" validate:"omitempty,max=2000"`
	GeneralDiscountPct   *decimal.Decimal  `json:"generalDiscountPct,omitempty"`
	Adjustment           *decimal.Decimal  `json:"adjustment,omitempty"`
	SurchargePct         *decimal.Decimal  `json:"surchargePct,omitempty"`
	CancelReason         *string           `json:"cancelReason,omitempty" validate:"omitempty,max=500"`
}

type lineView struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"productId"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	LineDiscountPct decimal.Decimal `json:"lineDiscountPct"`
}

type quoteView struct {
	ID                   int64           `json:"id"`
	ClientID             int64           `json:"clientId"`
	PaymentMethodID      int64           `json:"paymentMethodId"`
	CurrencyID           *int64          `json:"currencyId,omitempty"`
	Status               Status          `json:"status"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	ReservationExpiresAt *time.Time      `json:"reservationExpiresAt,omitempty"`
	Observation          *string         `json:"observation,omitempty"`
	ClientDiscountPct    decimal.Decimal `json:"clientDiscountPct"`
	GeneralDiscountPct   decimal.Decimal `json:"generalDiscountPct"`
	SurchargePct         decimal.Decimal `json:"surchargePct"`
	Adjustment           decimal.Decimal `json:"adjustment"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Tax                  decimal.Decimal `json:"tax"`
	Total                decimal.Decimal `json:"total"`
	LineItems            []lineView      `json:"lineItems"`
	StockWarnings        []stock.Warning `json:"stockWarnings,omitempty"`
}

type listView struct {
	Items      []quoteView       `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Create(r.Context(), CreateInput{
		ClientID:             req.ClientID,
		PaymentMethodID:      req.PaymentMethodID,
		CurrencyID:           req.CurrencyID,
		ReservationExpiresAt: req.ReservationExpiresAt,
		Observation:          req.Observation,
		Lines:                toLineInputs(req.LineItems),
		GeneralDiscountPct:   req.GeneralDiscountPct,
		SurchargePct:         req.SurchargePct,
		Adjustment:           req.Adjustment,
		ActorID:              actor,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(result.Quote, result.Warnings))
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req applyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	action := Action(req.Action)
	result, err := h.service.Apply(r.Context(), id, ApplyInput{
		Action:               action,
		Lines:                toLineInputs(req.LineItems),
		ClientID:             req.ClientID,
		PaymentMethodID:      req.PaymentMethodID,
		CurrencyID:           req.CurrencyID,
		ReservationExpiresAt: req.ReservationExpiresAt,
		Observation:          req.Observation,
		GeneralDiscountPct:   req.GeneralDiscountPct,
		Adjustment:           req.Adjustment,
		SurchargePct:         req.SurchargePct,
		CancelReason:         req.CancelReason,
		ActorID:              actor,
		Authorize: func(from Status) error {
			return h.rbac.Check(r, permissionFor(action, from))
		},
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(result.Quote, result.Warnings))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(q, nil))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, perPage := shared.PageParams(query)
	filter := ListFilter{Page: page, PerPage: perPage}
	if raw := query.Get("status"); raw != "" {
		status, err := CanonicalStatus(raw)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		filter.Status = &status
	}
	if raw := query.Get("clientId"); raw != "" {
		clientID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || clientID <= 0 {
			h.respondError(w, r, invalid("clientId", "must be a positive integer"))
			return
		}
		filter.ClientID = clientID
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]quoteView, 0, len(items))
	for _, q := range items {
		views = append(views, toView(q, nil))
	}
	httpx.JSON(w, http.StatusOK, listView{Items: views, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) quoteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.FieldErrors{"id": "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.RespondError(w, httpx.FieldErrors{verr.Field: verr.Message})
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, ErrInvalidState):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrInvalidState, err.Error()))
	case errors.Is(err, ErrConflict):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	case errors.Is(err, httpx.ErrForbidden), errors.Is(err, httpx.ErrUnauthorized), errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("quotes request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// permissionFor names the permission an action needs from a given state. Saving a
// locked quote touches cashier-level fields, so it needs the cashier permission.
func permissionFor(action Action, from Status) string {
	switch action {
	case ActionSave:
		if from == StatusLocked {
			return rbac.PermQuotesCashier
		}
		return rbac.PermQuotesEdit
	case ActionLock:
		return rbac.PermQuotesCashier
	case ActionFinalize:
		return rbac.PermQuotesFinalize
	case ActionCancel:
		return rbac.PermQuotesCancel
	}
	return ""
}

func toLineInputs(items []lineItemRequest) []LineInput {
	if items == nil {
		return nil
	}
	out := make([]LineInput, 0, len(items))
	for _, it := range items {
		discount := decimal.Zero
		if it.LineDiscountPct != nil {
			discount = *it.LineDiscountPct
		}
		out = append(out, LineInput{ProductID: it.ProductID, Quantity: it.Quantity, LineDiscountPct: discount})
	}
	return out
}

func toView(q Quote, warnings []stock.Warning) quoteView {
	lines := make([]lineView, 0, len(q.Lines))
	for _, l := range q.Lines {
		lines = append(lines, lineView{
			ID:              l.ID,
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			LineDiscountPct: l.LineDiscountPct,
		})
	}
	return quoteView{
		ID:                   q.ID,
		ClientID:             q.ClientID,
		PaymentMethodID:      q.PaymentMethodID,
		CurrencyID:           q.CurrencyID,
		Status:               q.Status,
		CreatedAt:            q.CreatedAt,
		UpdatedAt:            q.UpdatedAt,
		ReservationExpiresAt: q.ReservationExpiresAt,
		Observation:          q.Observation,
		ClientDiscountPct:    q.ClientDiscountPct,
		GeneralDiscountPct:   q.GeneralDiscountPct,
		SurchargePct:         q.SurchargePct,
		Adjustment:           q.Adjustment,
		Subtotal:             pricing.Round2(q.Subtotal),
		Tax:                  pricing.Round2(q.Tax),
		Total:                pricing.Round2(q.Total),
		LineItems:            lines,
		StockWarnings:        warnings,
	}
}
