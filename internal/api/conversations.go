package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/baun-edu/baun-server/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ensureRole points the conversation manager at the requested role, loading
// that role's transcripts when the manager is serving a different one.
func (h *Handler) ensureRole(r *http.Request, role domain.Role) error {
	ctx := r.Context()
	if h.manager.ActiveRole() == role {
		return nil
	}
	guest, err := h.guests.SwitchRole(ctx, role)
	if err != nil {
		return err
	}
	return h.manager.LoadForRole(ctx, role, guest.ID, true)
}

// ListConversations returns the role's conversations, most recently updated
// first. Unless defer_create=true, an empty list is replaced by a freshly
// created conversation.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(r.URL.Query().Get("role"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid role")
		return
	}

	guest, err := h.guests.SwitchRole(r.Context(), role)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to resolve guest user")
		return
	}

	deferCreate := r.URL.Query().Get("defer_create") == "true"
	if err := h.manager.LoadForRole(r.Context(), role, guest.ID, deferCreate); err != nil {
		slog.Error("Loading conversations failed", "role", role, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}

	var currentID string
	if current := h.manager.Current(); current != nil {
		currentID = current.ID
	}
	JSON(w, http.StatusOK, map[string]any{
		"conversations":     h.manager.Conversations(),
		"current_id":        currentID,
		"suggested_prompts": h.manager.SuggestedPrompts(),
	})
}

// CreateConversation starts a new conversation for the role and makes it
// current.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
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
	if err := h.ensureRole(r, role); err != nil {
		Error(w, http.StatusInternalServerError, "failed to switch role")
		return
	}

	conv, err := h.manager.Create(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	JSON(w, http.StatusCreated, conv)
}

// SelectConversation makes an existing conversation current. Unknown ids
// leave the selection unchanged.
func (h *Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	h.manager.Select(r.Context(), chi.URLParam(r, "id"))

	var currentID string
	if current := h.manager.Current(); current != nil {
		currentID = current.ID
	}
	JSON(w, http.StatusOK, map[string]string{"current_id": currentID})
}

// SendMessage appends a user message to a conversation and returns the
// conversation including the assistant's reply. Failed generations still
// return 200: the reply carries an error status in the transcript.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Content     string   `json:"content"`
		Attachments []string `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Content == "" {
		Error(w, http.StatusBadRequest, "content cannot be empty")
		return
	}

	h.manager.Select(r.Context(), id)
	current := h.manager.Current()
	if current == nil || current.ID != id {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	conv, err := h.manager.AppendUserMessage(r.Context(), body.Content, body.Attachments)
	if err != nil {
		slog.Error("Appending message failed", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to append message")
		return
	}
	JSON(w, http.StatusOK, conv)
}

// RenameConversation changes a conversation's title.
func (h *Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		Error(w, http.StatusBadRequest, "title cannot be empty")
		return
	}

	h.manager.Rename(r.Context(), chi.URLParam(r, "id"), body.Title)
	JSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

// DeleteConversation removes a single conversation.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DeleteAllConversations removes every conversation belonging to the role.
func (h *Handler) DeleteAllConversations(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(r.URL.Query().Get("role"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid role")
		return
	}
	if err := h.ensureRole(r, role); err != nil {
		Error(w, http.StatusInternalServerError, "failed to switch role")
		return
	}
	if err := h.manager.DeleteAll(r.Context()); err != nil {
		Error(w, http.StatusInternalServerError, "failed to delete conversations")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SuggestedPrompts returns conversation starters for the active role.
func (h *Handler) SuggestedPrompts(w http.ResponseWriter, r *http.Request) {
	if role, ok := roleParam(r.URL.Query().Get("role")); ok {
		if err := h.ensureRole(r, role); err != nil {
			Error(w, http.StatusInternalServerError, "failed to switch role")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]any{"prompts": h.manager.SuggestedPrompts()})
}

// ResolveRole applies the role resolution order: the URL path wins, then the
// stored profile role, then whatever was previously active.
func (h *Handler) ResolveRole(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	profileRole, _ := roleParam(q.Get("profile_role"))
	previous, _ := roleParam(q.Get("previous"))

	resolved := h.resolver.Resolve(q.Get("path"), profileRole, previous)
	if !resolved.Valid() {
		JSON(w, http.StatusOK, map[string]any{"role": nil})
		return
	}
	JSON(w, http.StatusOK, map[string]any{"role": resolved})
}
