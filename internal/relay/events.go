package relay

import (
	"time"

	"github.com/botforge/botforge/internal/types"
)

// Event names on the websocket wire.
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventMessageNew        = "message:new"
	EventMessageError      = "message:error"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
)

// ClientEvent is the envelope for everything a connection sends us. The
// Event field selects which of the remaining fields are meaningful.
type ClientEvent struct {
	Event          string `json:"event"`
	ConversationId string `json:"conversation_id,omitempty"`
	ChatbotId      string `json:"chatbot_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

// ServerEvent is the envelope for everything we send to a connection.
type ServerEvent struct {
	Event     string         `json:"event"`
	Message   *types.Message `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewMessageEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{
		Event:     EventMessageNew,
		Message:   &msg,
		Timestamp: Now(),
	}
}

func ErrorEvent(text string) *ServerEvent {
	return &ServerEvent{
		Event:     EventMessageError,
		Error:     text,
		Timestamp: Now(),
	}
}

func TypingStartEvent() *ServerEvent {
	return &ServerEvent{
		Event:     EventTypingStart,
		Timestamp: Now(),
	}
}

func TypingStopEvent() *ServerEvent {
	return &ServerEvent{
		Event:     EventTypingStop,
		Timestamp: Now(),
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
