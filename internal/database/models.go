package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Chatbot struct {
	Id            int
	ExternalId    string
	Name          string
	Description   string
	WebhookUrl    string
	WorkflowId    string
	IsActive      bool
	OwnerId       int
	Conversations int
	Messages      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Conversation struct {
	Id        string
	ChatbotId int
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id             int
	ConversationId string
	ChatbotId      int
	Role           string
	Content        string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateChatbotParams struct {
	ExternalId  string
	Name        string
	Description string
	OwnerId     int
}

type UpdateChatbotParams struct {
	Id          int
	Name        string
	Description string
	WebhookUrl  string
	WorkflowId  string
	IsActive    bool
}

type CreateMessageParams struct {
	ConversationId string
	ChatbotId      int
	Role           string
	Content        string
}
