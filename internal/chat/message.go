package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Message struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ExtractText joins the text parts of a message, newline-separated.
func ExtractText(parts []Part) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

// TitleFromMessage derives a session title from the first user message.
func TitleFromMessage(message Message) string {
	text := ExtractText(message.Parts)
	if text == "" {
		return DefaultTitle
	}
	return truncate(text, TitleMaxChars)
}

func previewFromParts(parts []Part) string {
	return truncate(ExtractText(parts), PreviewMaxChars)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// PersistedMessageID returns the message's own id when it has one, otherwise
// a generated id scoped to the session, role, and position so that retried
// appends of the same batch cannot collide with other sessions' rows.
func PersistedMessageID(messageID, sessionID, role string, index int) string {
	if trimmed := strings.TrimSpace(messageID); trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("%s:%s:%d:%s", sessionID, role, index, uuid.NewString())
}

// SanitizeHistory re-validates stored history before it is handed to the
// model: unknown roles are coerced to assistant, non-text parts are dropped,
// and messages left without any text are removed entirely. Corrupted rows
// must not break the model call.
func SanitizeHistory(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, message := range messages {
		role := message.Role
		if role != "user" && role != "assistant" && role != "system" {
			role = "assistant"
		}

		parts := make([]Part, 0, len(message.Parts))
		for _, part := range message.Parts {
			if part.Type == "text" {
				parts = append(parts, Part{Type: "text", Text: part.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}

		out = append(out, Message{ID: message.ID, Role: role, Parts: parts})
	}
	return out
}

func decodeParts(partsJSON string) []Part {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(partsJSON), &raw); err != nil {
		return nil
	}

	parts := make([]Part, 0, len(raw))
	for _, entry := range raw {
		var part Part
		if err := json.Unmarshal(entry, &part); err != nil {
			continue
		}
		if part.Type != "text" {
			continue
		}
		parts = append(parts, Part{Type: "text", Text: part.Text})
	}
	return parts
}

func lastIndexByID(messages []Message, id string) int {
	for index := len(messages) - 1; index >= 0; index-- {
		if messages[index].ID == id {
			return index
		}
	}
	return -1
}

func lastUserIndex(messages []Message) int {
	for index := len(messages) - 1; index >= 0; index-- {
		if messages[index].Role == "user" {
			return index
		}
	}
	return -1
}

// SelectNewAssistantMessages computes exactly the assistant messages produced
// in the current turn from the full message list a completion returns. The
// boundary is the just-sent user message id, falling back to the most recent
// user message when the id is absent; everything after it that is
// assistant-authored, non-empty, and not already known is kept, deduplicated
// by id. The streaming layer may replay earlier messages, so this scan must
// not be replaced by an incremental accumulator.
func SelectNewAssistantMessages(all []Message, requestMessageID string, knownIDs map[string]struct{}) []Message {
	startIndex := lastIndexByID(all, requestMessageID)
	if startIndex < 0 {
		startIndex = lastUserIndex(all)
	}

	candidates := all
	if startIndex >= 0 {
		candidates = all[startIndex+1:]
	}

	selected := make([]Message, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if candidate.Role != "assistant" {
			continue
		}
		if len(candidate.Parts) == 0 || ExtractText(candidate.Parts) == "" {
			continue
		}
		if candidate.ID != "" {
			if _, known := knownIDs[candidate.ID]; known {
				continue
			}
			if _, dup := seen[candidate.ID]; dup {
				continue
			}
			seen[candidate.ID] = struct{}{}
		}
		selected = append(selected, candidate)
	}

	return selected
}
