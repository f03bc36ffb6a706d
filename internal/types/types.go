package types

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Chatbot struct {
	Id            int       `json:"id"`
	ExternalId    string    `json:"external_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	WebhookUrl    string    `json:"webhook_url,omitempty"`
	WorkflowId    string    `json:"workflow_id,omitempty"`
	IsActive      bool      `json:"is_active"`
	OwnerId       int       `json:"owner_id"`
	Conversations int       `json:"conversations,omitempty"`
	Messages      int       `json:"messages,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

type Conversation struct {
	Id        string    `json:"id"`
	ChatbotId int       `json:"chatbot_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id             int       `json:"id"`
	ConversationId string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
