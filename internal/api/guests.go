package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CreateGuest provisions (or returns) the guest identity for a role and marks
// it active.
func (h *Handler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(chi.URLParam(r, "role"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid role")
		return
	}
	guest, err := h.guests.SwitchRole(r.Context(), role)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to create guest user")
		return
	}
	JSON(w, http.StatusCreated, guest)
}

// GetGuest returns the role's guest identity. Expired identities read as
// absent.
func (h *Handler) GetGuest(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(chi.URLParam(r, "role"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid role")
		return
	}
	guest, err := h.guests.Get(r.Context(), role)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read guest user")
		return
	}
	if guest == nil {
		Error(w, http.StatusNotFound, "no guest user for role")
		return
	}
	JSON(w, http.StatusOK, guest)
}

// ClearGuest removes the role's guest identity.
func (h *Handler) ClearGuest(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(chi.URLParam(r, "role"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := h.guests.Clear(r.Context(), role); err != nil {
		Error(w, http.StatusInternalServerError, "failed to clear guest user")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ClearAllGuests removes both roles' guest identities and the active marker.
func (h *Handler) ClearAllGuests(w http.ResponseWriter, r *http.Request) {
	if err := h.guests.ClearAll(r.Context()); err != nil {
		Error(w, http.StatusInternalServerError, "failed to clear guest users")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ActiveGuestRole reports which role's guest identity is currently active.
func (h *Handler) ActiveGuestRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.guests.ActiveRole(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read active role")
		return
	}
	if !role.Valid() {
		JSON(w, http.StatusOK, map[string]any{"role": nil})
		return
	}
	JSON(w, http.StatusOK, map[string]any{"role": role})
}

// SwitchGuestRole activates the guest identity for the requested role,
// creating it on first use, and points the conversation manager at that role.
func (h *Handler) SwitchGuestRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role, ok := roleParam(body.Role)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid role")
		return
	}

	guest, err := h.guests.SwitchRole(r.Context(), role)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to switch role")
		return
	}
	h.manager.SetActiveRole(role, guest.ID)
	JSON(w, http.StatusOK, guest)
}
