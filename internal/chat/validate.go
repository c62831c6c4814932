package chat

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// AssertBodySize rejects oversized payloads before parsing. Both the declared
// Content-Length and the actual byte length are checked, since a client can
// lie about either.
func AssertBodySize(headers http.Header, body []byte) error {
	if declared := headers.Get("Content-Length"); declared != "" {
		if length, err := strconv.ParseInt(declared, 10, 64); err == nil && length > MaxBodyBytes {
			return newRequestError(http.StatusRequestEntityTooLarge, "Request body is too large.")
		}
	}

	if len(body) > MaxBodyBytes {
		return newRequestError(http.StatusRequestEntityTooLarge, "Request body is too large.")
	}
	return nil
}

// ParseChatRequest is the hard boundary between arbitrary client input and
// the rest of the pipeline. It is a pure function of its input.
func ParseChatRequest(body []byte) (string, Message, error) {
	var payload struct {
		ID      json.RawMessage `json:"id"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", Message{}, newRequestError(http.StatusBadRequest, "Invalid JSON payload.")
	}

	chatID, err := parseChatID(payload.ID)
	if err != nil {
		return "", Message{}, err
	}

	message, err := parseUserMessage(payload.Message)
	if err != nil {
		return "", Message{}, err
	}

	return chatID, message, nil
}

// ValidateChatID validates an id taken from a route parameter.
func ValidateChatID(raw string) (string, error) {
	chatID := strings.TrimSpace(raw)
	if chatID == "" || len(chatID) > MaxIDLength || !chatIDPattern.MatchString(chatID) {
		return "", newRequestError(http.StatusBadRequest, "Invalid chat id.")
	}
	return chatID, nil
}

func parseChatID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", newRequestError(http.StatusBadRequest, "Invalid chat id.")
	}
	return ValidateChatID(id)
}

func parseUserMessage(raw json.RawMessage) (Message, error) {
	var message struct {
		ID    string `json:"id"`
		Role  string `json:"role"`
		Parts []struct {
			Type string          `json:"type"`
			Text json.RawMessage `json:"text"`
		} `json:"parts"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &message) != nil {
		return Message{}, newRequestError(http.StatusBadRequest, "Invalid message payload.")
	}

	if strings.TrimSpace(message.ID) == "" {
		return Message{}, newRequestError(http.StatusBadRequest, "Invalid message payload.")
	}

	// Clients only ever author user turns. Assistant and system roles are
	// produced server-side and must not be injectable.
	if message.Role != "user" {
		return Message{}, newRequestError(http.StatusBadRequest, "Only user messages are allowed.")
	}

	if len(message.Parts) == 0 {
		return Message{}, newRequestError(http.StatusBadRequest, "Message must include at least one text part.")
	}

	totalChars := 0
	parts := make([]Part, 0, len(message.Parts))
	for _, part := range message.Parts {
		var text string
		if part.Type != "text" || json.Unmarshal(part.Text, &text) != nil {
			return Message{}, newRequestError(http.StatusBadRequest, "Only plain text message parts are allowed.")
		}

		totalChars += len([]rune(text))
		if totalChars > MaxMessageChars {
			return Message{}, newRequestError(http.StatusRequestEntityTooLarge, "Message exceeds maximum length.")
		}

		parts = append(parts, Part{Type: "text", Text: text})
	}

	if totalChars == 0 {
		return Message{}, newRequestError(http.StatusBadRequest, "Message cannot be empty.")
	}

	return Message{ID: message.ID, Role: "user", Parts: parts}, nil
}
