package purchases

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mostrador/mostrador/internal/platform/httpx"
	"github.com/mostrador/mostrador/internal/pricing"
	"github.com/mostrador/mostrador/internal/rbac"
	"github.com/mostrador/mostrador/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes purchase endpoints as JSON.
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

// MountRoutes registers purchase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermPurchasesView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermPurchasesEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
	r.With(h.rbac.RequireAny(rbac.PermPurchasesConfirm)).Post("/{id}/confirm", h.confirm)
}

type lineRequest struct {
	ProductID int64           `json:"productId" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unitCost"`
}

type purchaseRequest struct {
	SupplierID    int64            `json:"supplierId" validate:"required,gt=0"`
	InvoiceNumber string           `json:"invoiceNumber" validate:"required,max=64"`
	CurrencyID    *int64           `json:"currencyId,omitempty" validate:"omitempty,gt=0"`
	Date          string           `json:"date" validate:"required,datetime=2006-01-02"`
	SurchargePct  *decimal.Decimal `json:"surchargePct,omitempty"`
	LineItems     []lineRequest    `json:"lineItems" validate:"required,min=1,dive"`
}

type lineView struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"productId"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unitCost"`
}

type purchaseView struct {
	ID            int64           `json:"id"`
	SupplierID    int64           `json:"supplierId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	CurrencyID    *int64          `json:"currencyId,omitempty"`
	Date          string          `json:"date"`
	SurchargePct  decimal.Decimal `json:"surchargePct"`
	Total         decimal.Decimal `json:"total"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Status        Status          `json:"status"`
	ConfirmedBy   *int64          `json:"confirmedBy,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmedAt,omitempty"`
	LineItems     []lineView      `json:"lineItems"`
}

type listView struct {
	Items      []purchaseView    `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	p, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(p))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}
	p, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	p, err := h.service.Confirm(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := purchaseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
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
	if raw := query.Get("supplierId"); raw != "" {
		supplierID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || supplierID <= 0 {
			h.respondError(w, r, invalid("supplierId", "must be a positive integer"))
			return
		}
		filter.SupplierID = supplierID
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]purchaseView, 0, len(items))
	for _, p := range items {
		views = append(views, toView(p))
	}
	httpx.JSON(w, http.StatusOK, listView{Items: views, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return Input{}, false
	}
	var req purchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.RespondError(w, httpx.FieldErrors{"date": "datetime=" + dateLayout})
		return Input{}, false
	}
	in := Input{
		SupplierID:    req.SupplierID,
		InvoiceNumber: req.InvoiceNumber,
		CurrencyID:    req.CurrencyID,
		Date:          date,
		SurchargePct:  decimal.Zero,
		ActorID:       actor,
	}
	if req.SurchargePct != nil {
		in.SurchargePct = *req.SurchargePct
	}
	for _, l := range req.LineItems {
		in.Lines = append(in.Lines, LineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	return in, true
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
	default:
		h.logger.Error("purchases request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func purchaseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.FieldErrors{"id": "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func toView(p Purchase) purchaseView {
	lines := make([]lineView, 0, len(p.Lines))
	for _, l := range p.Lines {
		lines = append(lines, lineView{ID: l.ID, ProductID: l.ProductID, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	totals := ComputeTotals(p.Lines, p.SurchargePct, p.TaxRate)
	return purchaseView{
		ID:            p.ID,
		SupplierID:    p.SupplierID,
		InvoiceNumber: p.InvoiceNumber,
		CurrencyID:    p.CurrencyID,
		Date:          p.Date.Format(dateLayout),
		SurchargePct:  p.SurchargePct,
		Total:         pricing.Round2(p.Total),
		Subtotal:      pricing.Round2(totals.SubtotalExTax),
		Tax:           pricing.Round2(totals.Tax),
		Status:        p.Status,
		ConfirmedBy:   p.ConfirmedBy,
		ConfirmedAt:   p.ConfirmedAt,
		LineItems:     lines,
	}
}
