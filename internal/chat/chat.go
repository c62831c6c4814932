// Package chat holds the chat request pipeline: payload validation, the
// message model, the persistence repository, and rate-limit admission.
package chat

import (
	"regexp"
	"time"
)

const (
	// ContextWindowSize is the number of most-recent stored messages loaded
	// as model history for a turn, including the incoming message.
	ContextWindowSize = 50

	MaxBodyBytes    = 64 * 1024
	MaxMessageChars = 2000
	MaxIDLength     = 128

	RateWindow       = time.Minute
	RateLimitPerUser = 20
	RateLimitPerIP   = 40

	DefaultTitle    = "New chat"
	TitleMaxChars   = 64
	PreviewMaxChars = 180
)

// chatIDPattern bounds chat ids to a storage-safe alphabet. Ids are used as
// keys, so path separators and traversal sequences must never get through.
var chatIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func newRequestError(status int, message string) *RequestError {
	return &RequestError{Status: status, Message: message}
}
