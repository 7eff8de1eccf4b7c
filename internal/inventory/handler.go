package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/auth"
	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
)

// Stock is the part of the Ledger the HTTP surface reads and restocks through.
type Stock interface {
	Lookup(ctx context.Context, key domain.StockKey) (*domain.StockUnit, error)
	ListProduct(ctx context.Context, productID string) ([]domain.StockUnit, error)
	Restock(ctx context.Context, key domain.StockKey, quantity int) (*domain.StockUnit, error)
}

type Handler struct {
	stock    Stock
	logger   *zap.Logger
	validate *validator.Validate
}

func NewHandler(stock Stock, logger *zap.Logger) *Handler {
	return &Handler{
		stock:    stock,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers the stock endpoints. Reads are public; wrap guards restock.
func (h *Handler) Routes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.HandleFunc("GET /stock/{productId}", h.HandleListProduct)
	mux.HandleFunc("GET /stock/{productId}/{color}/{size}", h.HandleGetStock)
	mux.Handle("POST /stock/{productId}/{color}/{size}/restock", wrap(h.HandleRestock))
}

func (h *Handler) HandleListProduct(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	units, err := h.stock.ListProduct(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err, "failed to list stock", zap.String("product_id", productID))
		return
	}

	h.writeJSON(w, http.StatusOK, units)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	key := keyFrom(r)

	unit, err := h.stock.Lookup(r.Context(), key)
	if err != nil {
		h.fail(w, r, err, "failed to get stock", zap.Stringer("stock_key", key))
		return
	}

	h.writeJSON(w, http.StatusOK, unit)
}

type restockRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

func (h *Handler) HandleRestock(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if !actor.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	key := keyFrom(r)
	unit, err := h.stock.Restock(r.Context(), key, req.Quantity)
	if err != nil {
		h.fail(w, r, err, "failed to restock", zap.Stringer("stock_key", key), zap.Int("quantity", req.Quantity))
		return
	}

	logger.WithTrace(r.Context(), h.logger).Info("stock replenished",
		zap.Stringer("stock_key", key),
		zap.Int("quantity", req.Quantity),
		zap.Int("stock", unit.Stock),
		zap.String("admin_id", actor.UserID),
	)
	h.writeJSON(w, http.StatusOK, unit)
}

func keyFrom(r *http.Request) domain.StockKey {
	return domain.StockKey{
		ProductID: r.PathValue("productId"),
		Color:     r.PathValue("color"),
		Size:      r.PathValue("size"),
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string, fields ...zap.Field) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrProductUnavailable):
		status = http.StatusUnprocessableEntity
	default:
		logger.WithTrace(r.Context(), h.logger).Error(msg, append(fields, zap.Error(err))...)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
