package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/atlas-pos/atlas-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the ledger read side.
type Handler struct {
	logger *slog.Logger
	reader *Reader

	driftGroup singleflight.Group
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, reader *Reader) *Handler {
	return &Handler{logger: logger, reader: reader}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/levels", h.handleLevel)
	r.Get("/movements", h.handleMovements)
	r.Get("/reconciliation", h.handleReconciliation)
}

func (h *Handler) handleLevel(w http.ResponseWriter, r *http.Request) {
	variantID, branchID, ok := parseKey(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "variant_id and branch_id are required")
		return
	}
	qty, err := h.reader.Quantity(r.Context(), variantID, branchID)
	if err != nil {
		h.logger.Error("get stock level", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"variant_id": variantID,
		"branch_id":  branchID,
		"quantity":   qty,
	})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		Type: MovementType(q.Get("type")),
	}
	filter.VariantID, _ = strconv.ParseInt(q.Get("variant_id"), 10, 64)
	filter.BranchID, _ = strconv.ParseInt(q.Get("branch_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	movements, err := h.reader.Movements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements, "count": len(movements)})
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	// The drift scan is a full-table aggregate; collapse concurrent callers
	// onto one query.
	result, err, _ := h.driftGroup.Do("ledger-drift", func() (any, error) {
		return h.reader.Drift(r.Context())
	})
	if err != nil {
		h.logger.Error("reconciliation scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	drift := result.([]DriftRow)
	httpx.JSON(w, http.StatusOK, map[string]any{"drift": drift, "consistent": len(drift) == 0})
}

func parseKey(r *http.Request) (variantID, branchID int64, ok bool) {
	q := r.URL.Query()
	variantID, err := strconv.ParseInt(q.Get("variant_id"), 10, 64)
	if err != nil || variantID <= 0 {
		return 0, 0, false
	}
	branchID, err = strconv.ParseInt(q.Get("branch_id"), 10, 64)
	if err != nil || branchID <= 0 {
		return 0, 0, false
	}
	return variantID, branchID, true
}
