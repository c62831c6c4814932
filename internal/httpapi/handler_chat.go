package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"oreai/backend/internal/agent"
	"oreai/backend/internal/chat"
)

// Chat handles one assistant turn: validate, admit, persist the user
// message, stream the assistant's answer as server-sent events, and persist
// what the turn produced. Failures after streaming starts are reported
// in-band; the HTTP status is already committed by then.
func (h Handler) Chat(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, chat.MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if err := chat.AssertBodySize(r.Header, body); err != nil {
		writeRequestError(w, err)
		return
	}

	chatID, message, err := chat.ParseChatRequest(body)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	ctx := r.Context()
	turn := chatTurnLog{
		requestID: chimw.GetReqID(ctx),
		userID:    user.ID,
		chatID:    chatID,
		startedAt: time.Now(),
	}

	owner, exists, err := h.repo.SessionOwner(ctx, chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return
	}
	if exists && owner != user.ID {
		writeError(w, http.StatusForbidden, "You do not have access to this chat.")
		return
	}
	turn.newSession = !exists

	ipHash := chat.HashIP(h.cfg.IPHashSecret, chat.ClientIP(r))
	if reason, err := h.limiter.Allow(ctx, user.ID, ipHash); err != nil {
		turn.rateLimited = reason
		var reqErr *chat.RequestError
		if errors.As(err, &reqErr) {
			turn.write(h.log, err)
			writeRequestError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return
	}

	if !exists {
		if err := h.repo.CreateSession(ctx, chatID, user.ID, chat.TitleFromMessage(message)); err != nil {
			writeError(w, http.StatusInternalServerError, "Something went wrong.")
			return
		}
	}

	if err := h.repo.AppendMessages(ctx, chatID, user.ID, []chat.Message{message}, ipHash); err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return
	}

	history, err := h.repo.LoadRecentMessages(ctx, chatID, user.ID, chat.ContextWindowSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
		return
	}
	knownIDs := make(map[string]struct{}, len(history))
	for _, stored := range history {
		knownIDs[stored.ID] = struct{}{}
	}
	history = chat.SanitizeHistory(history)

	toolSet := h.tools.Resolve(ctx, user.ID, turn.requestID)
	turn.toolCount = len(toolSet)

	events, err := newEventWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming is not supported.")
		return
	}
	_ = events.emit(map[string]any{"type": "start", "chatId": chatID, "isNew": !exists})

	all, runErr := h.runner.Run(ctx, history, agent.Catalog(toolSet), agent.Callbacks{
		OnToken:    events.token,
		OnToolCall: events.toolCall,
	})

	// Persistence must survive a client that disconnected mid-stream.
	persistCtx := context.WithoutCancel(ctx)
	selected := chat.SelectNewAssistantMessages(all, message.ID, knownIDs)
	if len(selected) > 0 {
		if err := h.repo.AppendMessages(persistCtx, chatID, user.ID, selected, ""); err != nil {
			if runErr == nil {
				runErr = err
			}
			h.log.Error("persisting assistant messages",
				"request_id", turn.requestID,
				"chat_id", chatID,
				"error", err,
			)
		} else {
			turn.persisted = len(selected)
		}
	}

	if runErr != nil {
		events.errorEvent("The assistant failed to respond. Please try again.")
	} else {
		_ = events.emit(map[string]any{"type": "done", "chatId": chatID})
	}
	turn.write(h.log, runErr)
}

func writeRequestError(w http.ResponseWriter, err error) {
	var reqErr *chat.RequestError
	if errors.As(err, &reqErr) {
		writeError(w, reqErr.Status, reqErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "Something went wrong.")
}
