package handler

import (
	"io"
	"log/slog"
	"net/http"

	"cartsync/internal/guestcart"
	"cartsync/internal/model"
)

type loginRequest struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	Remember bool   `json:"remember"`
}

// handleLogin stores the credential for a user.
// POST /session/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.rt.Login(r.Context(), req.UserID, req.Token, req.Remember); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogout drops the credential and the user's local cart.
// POST /session/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.Logout(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetGuestCart returns the session-scoped guest cart.
// GET /guest-cart
func (h *Handler) handleGetGuestCart(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.rt.Guest().State())
}

// handleGuestAction applies one reducer action to the guest cart.
// POST /guest-cart/actions
func (h *Handler) handleGuestAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		h.writeError(w, model.NewValidationError("body", "unreadable"))
		return
	}
	action, err := guestcart.ParseAction(body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	state, err := h.rt.Guest().Dispatch(ctx, action)
	if err != nil {
		// The reducer already advanced; only persistence failed.
		h.logger.WarnContext(ctx, "persisting guest cart failed", slog.String("error", err.Error()))
	}
	h.writeJSON(w, http.StatusOK, state)
}
