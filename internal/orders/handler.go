package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pedidoslab/pedidos/internal/domain"
)

// Bounded retry for lock contention. The engine reports contention instead
// of blocking; the transport layer owns the retry policy.
const (
	confirmAttempts = 3
	confirmBackoff  = 50 * time.Millisecond
)

type orderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	Create(ctx context.Context, createdBy string, lines []NewLine) (*domain.Order, error)
	Delete(ctx context.Context, id string) (bool, error)
	AddLine(ctx context.Context, orderID string, line NewLine) (*domain.Order, error)
	RemoveLine(ctx context.Context, orderID, lineID string) (*domain.Order, error)
}

type lifecycle interface {
	Confirm(ctx context.Context, orderID string) (*domain.Order, error)
	Cancel(ctx context.Context, orderID string) (*domain.Order, error)
	Deliver(ctx context.Context, orderID string) (*domain.Order, error)
}

type Handler struct {
	store  orderStore
	engine lifecycle
	logger *slog.Logger
}

func NewHandler(store orderStore, engine lifecycle, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		engine: engine,
		logger: logger,
	}
}

type newLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CreatedBy string           `json:"created_by"`
	Lines     []newLineRequest `json:"lines"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	lines := make([]NewLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			h.writeError(w, http.StatusBadRequest, "validation", "lines require product_id and quantity > 0")
			return
		}
		lines = append(lines, NewLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	order, err := h.store.Create(r.Context(), req.CreatedBy, lines)
	if err != nil {
		h.writeDomainError(w, err, "create order")
		return
	}

	h.logger.Info("order created", "order_id", order.ID, "lines", len(order.Lines))
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "get order")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.List(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "list orders")
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "delete order")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	h.logger.Info("order deleted", "order_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAddLine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req newLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "validation", "product_id and quantity > 0 are required")
		return
	}

	order, err := h.store.AddLine(r.Context(), id, NewLine{ProductID: req.ProductID, Quantity: req.Quantity})
	if err != nil {
		h.writeDomainError(w, err, "add line")
		return
	}

	h.logger.Info("line added", "order_id", id, "product_id", req.ProductID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleRemoveLine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lineID := r.PathValue("lineId")

	order, err := h.store.RemoveLine(r.Context(), id, lineID)
	if err != nil {
		h.writeDomainError(w, err, "remove line")
		return
	}

	h.logger.Info("line removed", "order_id", id, "line_id", lineID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var order *domain.Order
	var err error
	for attempt := 1; attempt <= confirmAttempts; attempt++ {
		order, err = h.engine.Confirm(r.Context(), id)
		if !errors.Is(err, domain.ErrContention) {
			break
		}
		h.logger.Warn("confirmation hit lock contention", "order_id", id, "attempt", attempt)
		select {
		case <-r.Context().Done():
			h.writeError(w, http.StatusServiceUnavailable, "contention", "confirmation timed out under contention")
			return
		case <-time.After(confirmBackoff):
		}
	}
	if err != nil {
		h.writeDomainError(w, err, "confirm order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := h.engine.Cancel(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "cancel order")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := h.engine.Deliver(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "deliver order")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// writeDomainError maps error kinds to statuses. Contention gets a retryable
// status; anything unrecognized is an internal error with no detail leaked.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrLineNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrStateConflict):
		h.writeError(w, http.StatusConflict, "state_conflict", err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, "resource_exhausted", err.Error())
	case errors.Is(err, domain.ErrEmptyOrder), errors.Is(err, domain.ErrProductInactive):
		h.writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrContention):
		h.writeError(w, http.StatusServiceUnavailable, "contention", "order is contended, retry")
	default:
		h.logger.Error("failed to "+op, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
