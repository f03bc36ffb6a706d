// Package relay is the real-time conversation core: it fans chat messages
// out to every connection viewing a conversation, sequences the call to the
// chatbot's external workflow, and reconciles the result back into the
// stored conversation and to all subscribers.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/botforge/botforge/internal/database"
	"github.com/botforge/botforge/internal/stats"
	"github.com/botforge/botforge/internal/types"
)

// Responder produces the assistant reply for a user message by invoking the
// chatbot's workflow webhook.
type Responder interface {
	TriggerWorkflow(ctx context.Context, webhookUrl, message string) (string, error)
}

type Relay struct {
	log       *log.Logger
	db        database.BotForgeRepository
	registry  *Registry
	responder Responder
	stats     stats.StatsProvider
	timeout   time.Duration
}

func NewRelay(logger *log.Logger, db database.BotForgeRepository, registry *Registry, responder Responder, statsProvider stats.StatsProvider, responderTimeout time.Duration) *Relay {
	statsProvider.RegisterMetric(stats.MessagesRelayed)
	statsProvider.RegisterMetric(stats.ResponderFailures)

	return &Relay{
		log:       logger,
		db:        db,
		registry:  registry,
		responder: responder,
		stats:     statsProvider,
		timeout:   responderTimeout,
	}
}

type SendRequest struct {
	ChatbotId      string
	ConversationId string
	Content        string
}

// Send runs one relay request through its stages: validate the chatbot,
// resolve the conversation, signal typing, persist and broadcast the user
// message, invoke the responder, persist and broadcast the assistant
// message. The stage order is fixed; a responder failure is absorbed into
// the assistant message content, so every validated request yields exactly
// one assistant reply.
//
// Validation and storage failures are returned to the caller and are never
// broadcast. Once typing has started, every return path stops it first.
func (rl *Relay) Send(ctx context.Context, req SendRequest) (userMsg, assistantMsg types.Message, err error) {
	if req.Content == "" {
		return userMsg, assistantMsg, ErrEmptyContent
	}

	bot, err := rl.db.GetChatbotByExternalId(req.ChatbotId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return userMsg, assistantMsg, ErrChatbotNotFound
		}
		return userMsg, assistantMsg, &StorageError{Op: "get chatbot", Err: err}
	}

	if !bot.IsActive {
		return userMsg, assistantMsg, ErrChatbotInactive
	}

	conv, err := rl.db.FindOrCreateConversation(req.ConversationId, bot.Id, req.Content)
	if err != nil {
		return userMsg, assistantMsg, &StorageError{Op: "find or create conversation", Err: err}
	}

	roomId := conv.Id

	// All viewers see immediate feedback before the external call starts.
	rl.registry.Broadcast(roomId, TypingStartEvent())

	dbUserMsg, err := rl.db.CreateMessage(database.CreateMessageParams{
		ConversationId: conv.Id,
		ChatbotId:      bot.Id,
		Role:           types.RoleUser,
		Content:        req.Content,
	})
	if err != nil {
		rl.registry.Broadcast(roomId, TypingStopEvent())
		return userMsg, assistantMsg, &StorageError{Op: "create user message", Err: err}
	}
	userMsg = wireMessage(dbUserMsg)

	rl.registry.Broadcast(roomId, NewMessageEvent(userMsg))

	outcome := rl.invokeResponder(ctx, bot, req.Content)

	dbAssistantMsg, err := rl.db.CreateMessage(database.CreateMessageParams{
		ConversationId: conv.Id,
		ChatbotId:      bot.Id,
		Role:           types.RoleAssistant,
		Content:        outcome.assistantContent(),
	})
	if err != nil {
		rl.registry.Broadcast(roomId, TypingStopEvent())
		return userMsg, assistantMsg, &StorageError{Op: "create assistant message", Err: err}
	}
	assistantMsg = wireMessage(dbAssistantMsg)

	rl.registry.Broadcast(roomId, TypingStopEvent())
	rl.registry.Broadcast(roomId, NewMessageEvent(assistantMsg))

	rl.stats.Incr(stats.MessagesRelayed)

	return userMsg, assistantMsg, nil
}

// invokeResponder runs the bounded external call. A chatbot with no webhook
// configured skips the call entirely; the outcome carries the fixed
// unconfigured text as its reply so the fallback mapping stays total.
func (rl *Relay) invokeResponder(ctx context.Context, bot database.Chatbot, content string) relayOutcome {
	if bot.WebhookUrl == "" {
		return relayOutcome{reply: FallbackResponderUnconfigured}
	}

	callCtx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	reply, err := rl.responder.TriggerWorkflow(callCtx, bot.WebhookUrl, content)
	if err != nil {
		rl.log.Printf("responder call for chatbot %q failed: %v", bot.ExternalId, err)
		rl.stats.Incr(stats.ResponderFailures)
		return relayOutcome{err: err}
	}

	return relayOutcome{reply: reply}
}

func wireMessage(msg database.Message) types.Message {
	return types.Message{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

// sendErrorText maps a Send error to the text delivered to the originating
// connection only.
func sendErrorText(err error) string {
	switch {
	case errors.Is(err, ErrChatbotNotFound):
		return "Chatbot not found"
	case errors.Is(err, ErrChatbotInactive):
		return "Chatbot is not active"
	case errors.Is(err, ErrEmptyContent):
		return "Message content is required"
	default:
		return "Failed to send message"
	}
}
