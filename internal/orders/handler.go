package orders

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/auth"
	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
)

type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// Routes registers the order endpoints on mux. Every route expects an actor
// in the request context, see auth.Verifier.Middleware.
func (h *Handler) Routes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("POST /orders", wrap(h.HandleCreate))
	mux.Handle("GET /orders", wrap(h.HandleList))
	mux.Handle("GET /orders/mine", wrap(h.HandleListMine))
	mux.Handle("GET /orders/{id}", wrap(h.HandleGet))
	mux.Handle("PATCH /orders/{id}", wrap(h.HandleUpdate))
	mux.Handle("POST /orders/{id}/cancel", wrap(h.HandleCancel))
	mux.Handle("POST /orders/{id}/return", wrap(h.HandleReturn))
	mux.Handle("GET /orders/{id}/verified-purchase", wrap(h.HandleVerifiedPurchase))
	mux.Handle("GET /orders/{id}/audit", wrap(h.HandleAudit))
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var in CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.UserID = actor.UserID

	order, err := h.manager.CreateOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, "failed to create order", zap.String("user_id", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	order, err := h.manager.GetOrder(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, err, "failed to get order", zap.String("order_id", id))
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.manager.ListOrders(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err, "failed to list orders")
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.manager.ListUserOrders(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err, "failed to list user orders", zap.String("user_id", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var patch OrderPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	order, err := h.manager.UpdateOrder(r.Context(), id, actor, patch)
	if err != nil {
		h.fail(w, r, err, "failed to update order", zap.String("order_id", id))
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeReason(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	order, err := h.manager.CancelOrder(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err, "failed to cancel order", zap.String("order_id", id))
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeReason(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	order, err := h.manager.ReturnOrder(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err, "failed to return order", zap.String("order_id", id))
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleVerifiedPurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	productID := r.URL.Query().Get("product")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product")
		return
	}

	id := r.PathValue("id")
	verified, err := h.manager.VerifiedPurchase(r.Context(), id, actor.UserID, productID)
	if err != nil {
		h.fail(w, r, err, "failed to check purchase", zap.String("order_id", id), zap.String("product_id", productID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	id := r.PathValue("id")
	audit, err := h.manager.AuditPricing(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "failed to audit order pricing", zap.String("order_id", id))
		return
	}

	h.writeJSON(w, http.StatusOK, audit)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
	}
	return actor, ok
}

// decodeReason accepts an empty body.
func (h *Handler) decodeReason(w http.ResponseWriter, r *http.Request) (reasonRequest, bool) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func filterFromQuery(r *http.Request) (domain.OrderFilter, error) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		Status: domain.OrderStatus(q.Get("status")),
		Search: q.Get("search"),
		Sort:   domain.OrderSort(q.Get("sort")),
	}

	var err error
	if v := q.Get("page"); v != "" {
		if filter.Page, err = strconv.Atoi(v); err != nil {
			return filter, errors.New("invalid page")
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			return filter, errors.New("invalid limit")
		}
	}
	return filter, nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, domain.ErrInvalidPricing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(r.Context(), h.logger).Error(msg, append(fields, zap.Error(err))...)
		h.writeError(w, status, "internal server error")
		return
	}

	logger.WithTrace(r.Context(), h.logger).Info(msg, append(fields, zap.Error(err), zap.Int("status", status))...)
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
