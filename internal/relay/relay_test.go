package relay

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/botforge/botforge/internal/database"
	"github.com/botforge/botforge/internal/testutil"
	"github.com/botforge/botforge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockResponder struct {
	mock.Mock
}

func (m *mockResponder) TriggerWorkflow(ctx context.Context, webhookUrl, message string) (string, error) {
	args := m.Called(ctx, webhookUrl, message)
	return args.String(0), args.Error(1)
}

// responderFunc adapts a function to the Responder interface.
type responderFunc func(ctx context.Context, webhookUrl, message string) (string, error)

func (f responderFunc) TriggerWorkflow(ctx context.Context, webhookUrl, message string) (string, error) {
	return f(ctx, webhookUrl, message)
}

func newTestRelay(t *testing.T, db database.BotForgeRepository, reg *Registry, responder Responder, timeout time.Duration) *Relay {
	return NewRelay(testutil.TestLogger(t), db, reg, responder, newTestStats(t), timeout)
}

var (
	activeBot = database.Chatbot{
		Id:         7,
		ExternalId: "c1",
		Name:       "support bot",
		WebhookUrl: "http://n8n.local/webhook/chatbot/c1",
		IsActive:   true,
	}
	testConv = database.Conversation{Id: "conv1", ChatbotId: 7, Title: "hi"}
)

func userMessageParams(content string) any {
	return mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.Role == types.RoleUser && p.Content == content
	})
}

func assistantMessageParams(content string) any {
	return mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.Role == types.RoleAssistant && p.Content == content
	})
}

func eventNames(events []*ServerEvent) []string {
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Event
	}
	return names
}

func TestSendSuccess(t *testing.T) {
	db := &database.MockBotForgeRepository{}
	defer db.AssertExpectations(t)

	reg := newTestRegistry(t)
	viewer := newTestClient(t, reg)
	reg.Join(viewer, "conv1")

	db.On("GetChatbotByExternalId", "c1").Return(activeBot, nil)
	db.On("FindOrCreateConversation", "conv1", 7, "hi").Return(testConv, nil)
	db.On("CreateMessage", userMessageParams("hi")).
		Return(database.Message{Id: 1, ConversationId: "conv1", Role: types.RoleUser, Content: "hi", CreatedAt: Now()}, nil)
	db.On("CreateMessage", assistantMessageParams("hello there")).
		Return(database.Message{Id: 2, ConversationId: "conv1", Role: types.RoleAssistant, Content: "hello there", CreatedAt: Now()}, nil)

	responder := &mockResponder{}
	defer responder.AssertExpectations(t)
	responder.On("TriggerWorkflow", mock.Anything, activeBot.WebhookUrl, "hi").Return("hello there", nil)

	rl := newTestRelay(t, db, reg, responder, time.Second)

	userMsg, assistantMsg, err := rl.Send(context.Background(), SendRequest{
		ChatbotId:      "c1",
		ConversationId: "conv1",
		Content:        "hi",
	})

	assert.NoError(t, err, "expected send to succeed")
	assert.Equal(t, types.RoleUser, userMsg.Role, "expected first persisted message to be the user's")
	assert.Equal(t, "hello there", assistantMsg.Content, "expected assistant reply text")

	events := drainEvents(viewer)
	assert.Equal(t,
		[]string{EventTypingStart, EventMessageNew, EventTypingStop, EventMessageNew},
		eventNames(events),
		"expected typing to bracket the responder call, stop before the assistant message")
	assert.Equal(t, types.RoleUser, events[1].Message.Role, "expected the user message broadcast first")
	assert.Equal(t, types.RoleAssistant, events[3].Message.Role, "expected the assistant message broadcast last")
}

func TestSendResponderTimeout(t *testing.T) {
	db := &database.MockBotForgeRepository{}
	defer db.AssertExpectations(t)

	reg := newTestRegistry(t)
	viewer := newTestClient(t, reg)
	reg.Join(viewer, "conv1")

	db.On("GetChatbotByExternalId", "c1").Return(activeBot, nil)
	db.On("FindOrCreateConversation", "conv1", 7, "hi").Return(testConv, nil)
	db.On("CreateMessage", userMessageParams("hi")).
		Return(database.Message{Id: 1, ConversationId: "conv1", Role: types.RoleUser, Content: "hi"}, nil)
	db.On("CreateMessage", assistantMessageParams(FallbackResponderFailure)).
		Return(database.Message{Id: 2, ConversationId: "conv1", Role: types.RoleAssistant, Content: FallbackResponderFailure}, nil)

	// responder that never replies within the bound
	responder := responderFunc(func(ctx context.Context, webhookUrl, message string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	rl := newTestRelay(t, db, reg, responder, 10*time.Millisecond)

	_, assistantMsg, err := rl.Send(context.Background(), SendRequest{
		ChatbotId:      "c1",
		ConversationId: "conv1",
		Content:        "hi",
	})

	assert.NoError(t, err, "expected timeout to be absorbed into the assistant message")
	assert.Equal(t, FallbackResponderFailure, assistantMsg.Content, "expected the failure fallback text")

	names := eventNames(drainEvents(viewer))
	assert.Equal(t,
		[]string{EventTypingStart, EventMessageNew, EventTypingStop, EventMessageNew},
		names,
		"expected typing:stop before the assistant message on the failure path")
}

func TestSendUnconfiguredChatbot(t *testing.T) {
	db := &database.MockBotForgeRepository{}
	defer db.AssertExpectations(t)

	unconfigured := activeBot
	unconfigured.WebhookUrl = ""

	db.On("GetChatbotByExternalId", "c1").Return(unconfigured, nil)
	db.On("FindOrCreateConversation", "conv1", 7, "hi").Return(testConv, nil)
	db.On("CreateMessage", userMessageParams("hi")).
		Return(database.Message{Id: 1, ConversationId: "conv1", Role: types.RoleUser, Content: "hi"}, nil)
	db.On("CreateMessage", assistantMessageParams(FallbackResponderUnconfigured)).
		Return(database.Message{Id: 2, ConversationId: "conv1", Role: types.RoleAssistant, Content: FallbackResponderUnconfigured}, nil)

	responder := &mockResponder{}
	defer responder.AssertExpectations(t)

	rl := newTestRelay(t, db, newTestRegistry(t), responder, time.Second)

	_, assistantMsg, err := rl.Send(context.Background(), SendRequest{
		ChatbotId:      "c1",
		ConversationId: "conv1",
		Content:        "hi",
	})

	assert.NoError(t, err, "expected unconfigured chatbot to be absorbed into the assistant message")
	assert.Equal(t, FallbackResponderUnconfigured, assistantMsg.Content, "expected the unconfigured fallback text")
	responder.AssertNotCalled(t, "TriggerWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendEmptyResponderReply(t *testing.T) {
	db := &database.MockBotForgeRepository{}
	defer db.AssertExpectations(t)

	db.On("GetChatbotByExternalId", "c1").Return(activeBot, nil)
	db.On("FindOrCreateConversation", "conv1", 7, "hi").Return(testConv, nil)
	db.On("CreateMessage", userMessageParams("hi")).
		Return(database.Message{Id: 1, ConversationId: "conv1", Role: types.RoleUser, Content: "hi"}, nil)
	db.On("CreateMessage", assistantMessageParams(FallbackEmptyReply)).
		Return(database.Message{Id: 2, ConversationId: "conv1", Role: types.RoleAssistant, Content: FallbackEmptyReply}, nil)

	responder := &mockResponder{}
	defer responder.AssertExpectations(t)
	responder.On("TriggerWorkflow", mock.Anything, activeBot.WebhookUrl, "hi").Return("", nil)

	rl := newTestRelay(t, db, newTestRegistry(t), responder, time.Second)

	_, assistantMsg, err := rl.Send(context.Background(), SendRequest{
		ChatbotId:      "c1",
		ConversationId: "conv1",
		Content:        "hi",
	})

	assert.NoError(t, err, "expected empty reply to be absorbed into the assistant message")
	assert.Equal(t, FallbackEmptyReply, assistantMsg.Content, "expected the empty-reply fallback text")
}

func TestSendValidationFailures(t *testing.T) {
	t.Run("chatbot not found", func(t *testing.T) {
		db := &database.MockBotForgeRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatbotByExternalId", "missing").Return(database.Chatbot{}, sql.ErrNoRows)

		rl := newTestRelay(t, db, newTestRegistry(t), &mockResponder{}, time.Second)

		_, _, err := rl.Send(context.Background(), SendRequest{ChatbotId: "missing", Content: "hi"})
		assert.ErrorIs(t, err, ErrChatbotNotFound, "expected not found error")
		db.AssertNotCalled(t, "CreateMessage", mock.Anything)
	})

	t.Run("inactive chatbot persists nothing and signals only the sender", func(t *testing.T) {
		db := &database.MockBotForgeRepository{}
		defer db.AssertExpectations(t)

		inactive := activeBot
		inactive.IsActive = false
		db.On("GetChatbotByExternalId", "c1").Return(inactive, nil)

		reg := newTestRegistry(t)
		sender := newTestClient(t, reg)
		peer := newTestClient(t, reg)
		reg.Join(sender, "conv1")
		reg.Join(peer, "conv1")

		sender.relay = newTestRelay(t, db, reg, &mockResponder{}, time.Second)
		sender.handleSend(ClientEvent{
			Event:          EventMessageSend,
			ChatbotId:      "c1",
			ConversationId: "conv1",
			Content:        "hi",
		})

		events := drainEvents(sender)
		assert.Len(t, events, 1, "expected exactly one event for the sender")
		assert.Equal(t, EventMessageError, events[0].Event, "expected a message:error event")
		assert.Empty(t, drainEvents(peer), "expected no events for other room members")
		db.AssertNotCalled(t, "CreateMessage", mock.Anything)
	})

	t.Run("empty content", func(t *testing.T) {
		db := &database.MockBotForgeRepository{}
		rl := newTestRelay(t, db, newTestRegistry(t), &mockResponder{}, time.Second)

		_, _, err := rl.Send(context.Background(), SendRequest{ChatbotId: "c1"})
		assert.ErrorIs(t, err, ErrEmptyContent, "expected empty content error")
		db.AssertNotCalled(t, "GetChatbotByExternalId", mock.Anything)
	})
}

func TestSendStorageFailure(t *testing.T) {
	db := &database.MockBotForgeRepository{}
	defer db.AssertExpectations(t)

	db.On("GetChatbotByExternalId", "c1").Return(activeBot, nil)
	db.On("FindOrCreateConversation", "conv1", 7, "hi").Return(testConv, nil)
	db.On("CreateMessage", userMessageParams("hi")).
		Return(database.Message{}, errors.New("connection refused"))

	reg := newTestRegistry(t)
	viewer := newTestClient(t, reg)
	reg.Join(viewer, "conv1")

	responder := &mockResponder{}
	defer responder.AssertExpectations(t)

	rl := newTestRelay(t, db, reg, responder, time.Second)

	_, _, err := rl.Send(context.Background(), SendRequest{
		ChatbotId:      "c1",
		ConversationId: "conv1",
		Content:        "hi",
	})

	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr, "expected a storage error")
	responder.AssertNotCalled(t, "TriggerWorkflow", mock.Anything, mock.Anything, mock.Anything)

	names := eventNames(drainEvents(viewer))
	assert.Equal(t, []string{EventTypingStart, EventTypingStop}, names,
		"expected typing:stop to close the episode even when persistence fails")
}

func TestSendErrorText(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		text string
	}{
		{name: "not found", err: ErrChatbotNotFound, text: "Chatbot not found"},
		{name: "inactive", err: ErrChatbotInactive, text: "Chatbot is not active"},
		{name: "empty content", err: ErrEmptyContent, text: "Message content is required"},
		{name: "storage", err: &StorageError{Op: "create user message", Err: errors.New("boom")}, text: "Failed to send message"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.text, sendErrorText(tc.err))
		})
	}
}
