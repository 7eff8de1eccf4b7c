package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/logger"
)

// copiedHeaders are returned from the upstream response to the client.
var copiedHeaders = []string{"Content-Type", "WWW-Authenticate"}

type Handler struct {
	ordersProxy    *ServiceProxy
	inventoryProxy *ServiceProxy
	logger         *zap.Logger
}

func NewHandler(ordersProxy, inventoryProxy *ServiceProxy, logger *zap.Logger) *Handler {
	return &Handler{
		ordersProxy:    ordersProxy,
		inventoryProxy: inventoryProxy,
		logger:         logger,
	}
}

func (h *Handler) Routes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("/orders", wrap(h.HandleOrders))
	mux.Handle("/orders/", wrap(h.HandleOrders))
	mux.Handle("/inventory/", wrap(h.HandleInventory))
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

// HandleInventory maps /inventory/... onto the inventory service's /stock/... routes.
func (h *Handler) HandleInventory(w http.ResponseWriter, r *http.Request) {
	path := "/stock/" + strings.TrimPrefix(r.URL.Path, "/inventory/")
	h.proxyRequest(w, r, h.inventoryProxy, path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	log := logger.WithTrace(r.Context(), h.logger)

	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		log.Error("failed to forward request", zap.Error(err), zap.String("path", path))
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range copiedHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}

	w.WriteHeader(resp.StatusCode)

	log.Info("request proxied",
		zap.String("method", r.Method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Error("failed to copy response body", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}
