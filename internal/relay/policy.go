package relay

import (
	"errors"
)

// Fallback texts substituted for the assistant reply when the responder
// fails, is unconfigured, or returns nothing.
const (
	FallbackResponderFailure      = "Sorry, I encountered an error processing your message."
	FallbackResponderUnconfigured = "Chatbot is not configured with an n8n workflow."
	FallbackEmptyReply            = "No response from chatbot"
)

// Validation failures, reported to the sender only. Nothing is persisted
// when one of these is returned.
var (
	ErrChatbotNotFound = errors.New("chatbot not found")
	ErrChatbotInactive = errors.New("chatbot is not active")
	ErrEmptyContent    = errors.New("message content is required")
)

// StorageError wraps a failed persistence call. It is the one failure the
// relay cannot absorb into a synthetic assistant message; the request aborts
// at whatever stage it reached, with no rollback of earlier writes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// relayOutcome is the result of the responder stage. Exactly one synthetic
// or real assistant message is derived from it, so the conversation always
// progresses once validation passed.
type relayOutcome struct {
	reply string
	err   error
}

// assistantContent maps a responder outcome to the assistant message text.
// The mapping is total: every outcome yields a non-empty content.
func (o relayOutcome) assistantContent() string {
	if o.err != nil {
		return FallbackResponderFailure
	}
	if o.reply == "" {
		return FallbackEmptyReply
	}
	return o.reply
}
