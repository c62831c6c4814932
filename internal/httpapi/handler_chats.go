package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"oreai/backend/internal/chat"
)

func (h Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	summaries, err := h.repo.ListSummaries(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": summaries})
}

func (h Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	chatID, err := chat.ValidateChatID(chi.URLParam(r, "chatID"))
	if err != nil {
		writeRequestError(w, err)
		return
	}
	if !h.authorizeSession(w, r, chatID, user.ID) {
		return
	}

	detail, err := h.repo.LoadChat(r.Context(), chatID, user.ID)
	if errors.Is(err, chat.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Chat not found.")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	chatID, err := chat.ValidateChatID(chi.URLParam(r, "chatID"))
	if err != nil {
		writeRequestError(w, err)
		return
	}
	if !h.authorizeSession(w, r, chatID, user.ID) {
		return
	}

	deleted, err := h.repo.DeleteSession(r.Context(), chatID, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Chat not found.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeSession distinguishes a missing session (404) from one owned by
// someone else (403). Writes the error response and reports whether the
// caller may proceed.
func (h Handler) authorizeSession(w http.ResponseWriter, r *http.Request, chatID, userID string) bool {
	owner, exists, err := h.repo.SessionOwner(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return false
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Chat not found.")
		return false
	}
	if owner != userID {
		writeError(w, http.StatusForbidden, "You do not have access to this chat.")
		return false
	}
	return true
}
