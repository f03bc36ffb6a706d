package database

import (
	"github.com/stretchr/testify/mock"
)

type MockBotForgeRepository struct {
	mock.Mock
}

func (m *MockBotForgeRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockBotForgeRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockBotForgeRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockBotForgeRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockBotForgeRepository) CreateChatbot(params CreateChatbotParams) (Chatbot, error) {
	args := m.Called(params)
	return args.Get(0).(Chatbot), args.Error(1)
}
func (m *MockBotForgeRepository) UpdateChatbot(params UpdateChatbotParams) (Chatbot, error) {
	args := m.Called(params)
	return args.Get(0).(Chatbot), args.Error(1)
}
func (m *MockBotForgeRepository) DeleteChatbot(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockBotForgeRepository) GetChatbotByExternalId(externalId string) (Chatbot, error) {
	args := m.Called(externalId)
	return args.Get(0).(Chatbot), args.Error(1)
}
func (m *MockBotForgeRepository) ListChatbots(ownerId int) ([]Chatbot, error) {
	args := m.Called(ownerId)
	return args.Get(0).([]Chatbot), args.Error(1)
}
func (m *MockBotForgeRepository) GetConversation(id string) (Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockBotForgeRepository) FindOrCreateConversation(id string, chatbotId int, titleSeed string) (Conversation, error) {
	args := m.Called(id, chatbotId, titleSeed)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockBotForgeRepository) ListConversations(chatbotId int) ([]Conversation, error) {
	args := m.Called(chatbotId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockBotForgeRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockBotForgeRepository) ListMessages(conversationId string, limit int) ([]Message, error) {
	args := m.Called(conversationId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
