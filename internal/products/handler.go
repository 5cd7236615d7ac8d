package products

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pedidoslab/pedidos/internal/domain"
)

type productStore interface {
	List(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	Create(ctx context.Context, name string, price int64, stock int, active bool) (*domain.Product, error)
	Update(ctx context.Context, id string, update ProductUpdate) (*domain.Product, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type Handler struct {
	store  productStore
	logger *slog.Logger
}

func NewHandler(store productStore, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	product, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}
	h.writeJSON(w, http.StatusOK, product)
}

type createProductRequest struct {
	Name   string `json:"name"`
	Price  *int64 `json:"price"`
	Stock  int    `json:"stock"`
	Active *bool  `json:"active"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.Name == "" || req.Price == nil {
		h.writeError(w, http.StatusBadRequest, "validation", "name and price are required")
		return
	}
	if *req.Price < 0 || req.Stock < 0 {
		h.writeError(w, http.StatusBadRequest, "validation", "price and stock must not be negative")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	product, err := h.store.Create(r.Context(), req.Name, *req.Price, req.Stock, active)
	if err != nil {
		h.logger.Error("failed to create product", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	h.logger.Info("product created", "product_id", product.ID, "name", product.Name)
	h.writeJSON(w, http.StatusCreated, product)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var update ProductUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if update.Price != nil && *update.Price < 0 {
		h.writeError(w, http.StatusBadRequest, "validation", "price must not be negative")
		return
	}
	if update.Stock != nil && *update.Stock < 0 {
		h.writeError(w, http.StatusBadRequest, "validation", "stock must not be negative")
		return
	}

	product, err := h.store.Update(r.Context(), id, update)
	if err != nil {
		h.logger.Error("failed to update product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}

	h.logger.Info("product updated", "product_id", id)
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to delete product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}
	h.logger.Info("product deleted", "product_id", id)
	w.WriteHeader(http.StatusNoContent)
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
