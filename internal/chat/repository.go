package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeLayout sorts lexicographically, so created_at comparisons work as
// plain string comparisons in sqlite.
const timeLayout = "2006-01-02 15:04:05.000"

var ErrSessionNotFound = errors.New("chat session not found")

type Summary struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	UpdatedAt          string `json:"updatedAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
}

type Detail struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// Repository is the append-only message store plus session metadata.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) Repository {
	return Repository{db: db, now: time.Now}
}

func (r Repository) timestamp() string {
	return r.now().UTC().Format(timeLayout)
}

// SessionOwner reports which user owns a chat session, if it exists.
func (r Repository) SessionOwner(ctx context.Context, chatID string) (string, bool, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM chat_sessions WHERE id = ?;`, chatID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query session owner: %w", err)
	}
	return userID, true, nil
}

func (r Repository) CreateSession(ctx context.Context, chatID, userID, title string) error {
	now := r.timestamp()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_sessions (id, user_id, title, last_message_preview, created_at, updated_at, last_message_at)
VALUES (?, ?, ?, '', ?, ?, ?);
`, chatID, userID, title, now, now, now)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (r Repository) ListSummaries(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, updated_at, last_message_preview
FROM chat_sessions
WHERE user_id = ?
ORDER BY last_message_at DESC;
`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chat summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0, 16)
	for rows.Next() {
		var summary Summary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.UpdatedAt, &summary.LastMessagePreview); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// LoadChat returns the session plus its full message history, scoped to the
// owning user. Returns ErrSessionNotFound when the session does not exist
// for that user.
func (r Repository) LoadChat(ctx context.Context, chatID, userID string) (Detail, error) {
	var detail Detail
	err := r.db.QueryRowContext(ctx, `
SELECT id, title FROM chat_sessions WHERE id = ? AND user_id = ?;
`, chatID, userID).Scan(&detail.ID, &detail.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return Detail{}, ErrSessionNotFound
	}
	if err != nil {
		return Detail{}, fmt.Errorf("query chat session: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, role, parts_json
FROM chat_messages
WHERE session_id = ? AND user_id = ?
ORDER BY created_at ASC, rowid ASC;
`, chatID, userID)
	if err != nil {
		return Detail{}, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	detail.Messages = make([]Message, 0, 32)
	for rows.Next() {
		var (
			message   Message
			partsJSON string
		)
		if err := rows.Scan(&message.ID, &message.Role, &partsJSON); err != nil {
			return Detail{}, fmt.Errorf("scan chat message: %w", err)
		}
		message.Parts = decodeParts(partsJSON)
		detail.Messages = append(detail.Messages, message)
	}
	return detail, rows.Err()
}

// LoadRecentMessages returns the most recent limit messages in chronological
// order (the bounded context window).
func (r Repository) LoadRecentMessages(ctx context.Context, chatID, userID string, limit int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, role, parts_json FROM (
  SELECT id, role, parts_json, created_at, rowid
  FROM chat_messages
  WHERE session_id = ? AND user_id = ?
  ORDER BY created_at DESC, rowid DESC
  LIMIT ?
)
ORDER BY created_at ASC, rowid ASC;
`, chatID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			message   Message
			partsJSON string
		)
		if err := rows.Scan(&message.ID, &message.Role, &partsJSON); err != nil {
			return nil, fmt.Errorf("scan recent chat message: %w", err)
		}
		message.Parts = decodeParts(partsJSON)
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// AppendMessages appends messages to a session and refreshes the session's
// activity metadata. Inserting an id that already exists is a no-op, so a
// client resubmitting after a transport timeout cannot duplicate rows. The
// ip hash is recorded only on user-authored rows.
func (r Repository) AppendMessages(ctx context.Context, chatID, userID string, messages []Message, ipHash string) error {
	if len(messages) == 0 {
		return nil
	}

	now := r.timestamp()
	for index, message := range messages {
		id := PersistedMessageID(message.ID, chatID, message.Role, index)
		preview := previewFromParts(message.Parts)
		partsJSON, err := json.Marshal(message.Parts)
		if err != nil {
			return fmt.Errorf("marshal message parts: %w", err)
		}

		var rowIPHash any
		if message.Role == "user" && ipHash != "" {
			rowIPHash = ipHash
		}

		if _, err := r.db.ExecContext(ctx, `
INSERT INTO chat_messages (id, session_id, user_id, role, parts_json, text_preview, ip_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, id, chatID, userID, message.Role, string(partsJSON), preview, rowIPHash, now); err != nil {
			return fmt.Errorf("append chat message: %w", err)
		}
	}

	lastPreview := previewFromParts(messages[len(messages)-1].Parts)
	if _, err := r.db.ExecContext(ctx, `
UPDATE chat_sessions
SET last_message_preview = ?, last_message_at = ?, updated_at = ?
WHERE id = ? AND user_id = ?;
`, lastPreview, now, now, chatID, userID); err != nil {
		return fmt.Errorf("update chat session activity: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages. Reports whether a
// session row was actually deleted. Messages go first; foreign_keys is a
// per-connection pragma, so the cascade cannot be relied on across the pool.
func (r Repository) DeleteSession(ctx context.Context, chatID, userID string) (bool, error) {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ? AND user_id = ?;`, chatID, userID); err != nil {
		return false, fmt.Errorf("delete chat messages: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ? AND user_id = ?;`, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("delete chat session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete chat session rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountUserMessagesSince counts user-authored messages in the trailing
// rate-limit window for one user.
func (r Repository) CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM chat_messages
WHERE user_id = ? AND role = 'user' AND created_at >= ?;
`, userID, since.UTC().Format(timeLayout)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count user messages: %w", err)
	}
	return count, nil
}

// CountIPMessagesSince counts user-authored messages in the trailing window
// for one hashed client IP, across all users.
func (r Repository) CountIPMessagesSince(ctx context.Context, ipHash string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM chat_messages
WHERE ip_hash = ? AND role = 'user' AND created_at >= ?;
`, ipHash, since.UTC().Format(timeLayout)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ip messages: %w", err)
	}
	return count, nil
}
