package httpapi

import (
	"log/slog"
	"os"
	"time"
)

// NewLogger builds the process-wide structured logger. Chat turns are the
// hot path, so everything they log goes through this as JSON lines.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// chatTurnLog aggregates the fields logged once per chat turn.
type chatTurnLog struct {
	requestID   string
	userID      string
	chatID      string
	newSession  bool
	toolCount   int
	persisted   int
	rateLimited string
	startedAt   time.Time
}

func (l chatTurnLog) write(log *slog.Logger, err error) {
	attrs := []any{
		"request_id", l.requestID,
		"user_id", l.userID,
		"chat_id", l.chatID,
		"new_session", l.newSession,
		"tools_available", l.toolCount,
		"messages_persisted", l.persisted,
		"duration_ms", time.Since(l.startedAt).Milliseconds(),
	}
	if l.rateLimited != "" {
		attrs = append(attrs, "rate_limited_by", l.rateLimited)
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		log.Error("chat turn failed", attrs...)
		return
	}
	log.Info("chat turn completed", attrs...)
}
