package returns

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/platform/httpx"
	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
)

// Handler exposes sale returns over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

type createRequest struct {
	OrderID      int64         `json:"order_id" validate:"required,gt=0"`
	Note         string        `json:"note" validate:"max=500"`
	RefundMethod string        `json:"refund_method" validate:"max=32"`
	Items        []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type itemRequest struct {
	OrderItemID int64   `json:"order_item_id" validate:"required,gt=0"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
}

// MountRoutes registers the sale return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sale-returns", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actorID, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	input := CreateInput{
		OrderID:      req.OrderID,
		Note:         req.Note,
		RefundMethod: req.RefundMethod,
		ActorID:      actorID,
		Items:        make([]ItemInput, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{OrderItemID: item.OrderItemID, Quantity: item.Quantity})
	}
	sr, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sr)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(r.URL.Query().Get("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order_id query parameter required")
		return
	}
	list, err := h.service.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	sr, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sr)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOrderNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOrderNotReturnable), errors.Is(err, ledger.ErrFIFORestoreMismatch):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrOverReturn):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over Return", err.Error())
	case errors.Is(err, ErrEmptyItems), errors.Is(err, ErrItemNotOnOrder), errors.Is(err, ErrValidation),
		errors.Is(err, salesshared.ErrZeroInvoiceSubtotal), errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("sale return request failed", "path", r.URL.Path, "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
