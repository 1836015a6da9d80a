package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mostrador/mostrador/internal/platform/httpx"
)

// Reader is the read side consumed by Handler.
type Reader interface {
	Get(ctx context.Context, productID int64) (Record, error)
}

// Handler exposes stock levels over HTTP.
type Handler struct {
	logger *slog.Logger
	reader Reader
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, reader Reader) *Handler {
	return &Handler{logger: logger, reader: reader}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{productID}", h.get)
}

type recordView struct {
	ProductID     int64           `json:"productId"`
	Real          decimal.Decimal `json:"real"`
	Committed     decimal.Decimal `json:"committed"`
	Available     decimal.Decimal `json:"available"`
	Overcommitted bool            `json:"overcommitted"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid product id", httpx.ErrValidation))
		return
	}
	rec, err := h.reader.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
			return
		}
		h.logger.Error("stock get", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recordView{
		ProductID:     rec.ProductID,
		Real:          rec.Real,
		Committed:     rec.Committed,
		Available:     rec.Available(),
		Overcommitted: rec.Overcommitted(),
	})
}
