package database

type BotForgeRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateChatbot(params CreateChatbotParams) (Chatbot, error)
	UpdateChatbot(params UpdateChatbotParams) (Chatbot, error)
	DeleteChatbot(id int) error
	GetChatbotByExternalId(externalId string) (Chatbot, error)
	ListChatbots(ownerId int) ([]Chatbot, error)
	GetConversation(id string) (Conversation, error)
	FindOrCreateConversation(id string, chatbotId int, titleSeed string) (Conversation, error)
	ListConversations(chatbotId int) ([]Conversation, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	ListMessages(conversationId string, limit int) ([]Message, error)
}
