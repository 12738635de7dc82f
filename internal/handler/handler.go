// Package handler provides the local HTTP API that UI surfaces use to drive carts.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"cartsync/internal/app"
	"cartsync/internal/cart"
	"cartsync/internal/metrics"
	"cartsync/internal/model"
	"cartsync/internal/viewclient"
)

// DefaultView serves requests that reach a handler without a Cart-View header.
const DefaultView = "page"

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	rt       *app.Runtime
	metrics  *metrics.Recorder
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// done is closed by Close so event streams end with the server.
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Handler serving rt. rec may be nil, which disables /metrics.
func New(rt *app.Runtime, rec *metrics.Recorder, logger *slog.Logger) *Handler {
	return &Handler{
		rt:      rt,
		metrics: rec,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done: make(chan struct{}),
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Cart views
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("POST /cart/sync", h.handleSyncCart)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("PUT /cart/items/{productId}", h.handleSetQuantity)
	mux.HandleFunc("DELETE /cart/items/{productId}", h.handleRemoveItem)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)
	mux.HandleFunc("POST /cart/order-placed", h.handleOrderPlaced)
	mux.HandleFunc("GET /cart/badge", h.handleBadge)

	// Session
	mux.HandleFunc("POST /session/login", h.handleLogin)
	mux.HandleFunc("POST /session/logout", h.handleLogout)

	// Guest cart
	mux.HandleFunc("GET /guest-cart", h.handleGetGuestCart)
	mux.HandleFunc("POST /guest-cart/actions", h.handleGuestAction)

	// Cross-view events over websocket
	mux.HandleFunc("GET /events", h.handleEvents)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Infrastructure
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// Close ends open event streams. Call before http.Server.Shutdown, which
// does not track hijacked connections.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Subscribers: h.rt.Notifier().Len(),
	})
}

type healthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

// viewName returns the view named by the Cart-View header.
func viewName(r *http.Request) string {
	if c, ok := viewclient.FromContext(r.Context()); ok {
		return c.View
	}
	return DefaultView
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.apiError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// apiError maps err onto the error envelope. Unexpected errors are logged and
// replaced with a generic internal error.
func (h *Handler) apiError(err error) *model.APIError {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, cart.ErrClosed):
		return &model.APIError{
			Code:       "VIEW_CLOSED",
			Message:    "the cart view was unmounted, retry the request",
			StatusCode: http.StatusConflict,
			Err:        err,
		}
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
		return model.NewInternalError(err)
	}
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
