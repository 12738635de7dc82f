package handler

import (
	"log/slog"
	"net/http"

	"cartsync/internal/cart"
	"cartsync/internal/model"
)

// addItemRequest is the body of POST /cart/items. Quantity defaults to 1.
type addItemRequest struct {
	ProductID model.ProductID `json:"productId"`
	Quantity  int             `json:"quantity"`
}

// setQuantityRequest is the body of PUT /cart/items/{productId}.
type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// view resolves the cart view for the request, mounting it on first use.
// A view that mounted but failed its first sync is still returned; its
// snapshot status says what went wrong.
func (h *Handler) view(w http.ResponseWriter, r *http.Request) (*cart.View, bool) {
	v, err := h.rt.View(r.Context(), viewName(r))
	if v == nil {
		h.writeError(w, err)
		return nil, false
	}
	if err != nil {
		h.logger.DebugContext(r.Context(), "view mounted with sync error",
			slog.String("view", v.Name()),
			slog.String("error", err.Error()),
		)
	}
	return v, true
}

// handleGetCart returns the view's current snapshot.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleSyncCart re-runs fetch-and-reconcile for the view.
// POST /cart/sync
func (h *Handler) handleSyncCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, ok := h.view(w, r)
	if !ok {
		return
	}

	if err := v.Sync(ctx); err != nil {
		h.logger.InfoContext(ctx, "sync finished with error",
			slog.String("view", v.Name()),
			slog.String("error", err.Error()),
		)
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleAddItem adds a product to the cart.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	v, ok := h.view(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "adding item",
		slog.String("view", v.Name()),
		slog.String("product_id", req.ProductID.String()),
		slog.Int("quantity", req.Quantity),
	)

	if err := v.Add(ctx, req.ProductID, req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleSetQuantity changes a line's quantity. Zero removes the line.
// PUT /cart/items/{productId}
func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := model.ProductID(r.PathValue("productId"))

	var req setQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Quantity == nil {
		h.writeError(w, model.NewValidationError("quantity", "required"))
		return
	}

	v, ok := h.view(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "setting quantity",
		slog.String("view", v.Name()),
		slog.String("product_id", id.String()),
		slog.Int("quantity", *req.Quantity),
	)

	if err := v.SetQuantity(ctx, id, *req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleRemoveItem deletes a line.
// DELETE /cart/items/{productId}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := model.ProductID(r.PathValue("productId"))

	v, ok := h.view(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "removing item",
		slog.String("view", v.Name()),
		slog.String("product_id", id.String()),
	)

	if err := v.Remove(ctx, id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleClearCart empties the cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, ok := h.view(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "clearing cart", slog.String("view", v.Name()))

	if err := v.Clear(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleOrderPlaced discards the cart after checkout succeeded.
// POST /cart/order-placed
func (h *Handler) handleOrderPlaced(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, ok := h.view(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "order placed, dropping cart", slog.String("view", v.Name()))

	if err := v.OrderPlaced(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v.Snapshot())
}

// handleBadge returns the navbar count from local storage.
// GET /cart/badge
func (h *Handler) handleBadge(w http.ResponseWriter, r *http.Request) {
	badge, err := h.rt.Badge(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, badge)
}
