package database

import (
	"database/sql"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const conversationTitleLen = 50

func (db *PgBotForgeRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgBotForgeRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgBotForgeRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgBotForgeRepository) CreateChatbot(params CreateChatbotParams) (Chatbot, error) {
	res := db.conn.QueryRow(
		"INSERT INTO chatbots (external_id, name, description, owner_id, is_active, created_at) "+
			"VALUES ($1, $2, $3, $4, TRUE, $5) "+
			"RETURNING id, external_id, name, description, is_active, owner_id, created_at",
		params.ExternalId,
		params.Name,
		params.Description,
		params.OwnerId,
		time.Now().UTC(),
	)

	var bot Chatbot
	err := res.Scan(
		&bot.Id,
		&bot.ExternalId,
		&bot.Name,
		&bot.Description,
		&bot.IsActive,
		&bot.OwnerId,
		&bot.CreatedAt,
	)

	return bot, err
}

func (db *PgBotForgeRepository) UpdateChatbot(params UpdateChatbotParams) (Chatbot, error) {
	res := db.conn.QueryRow(
		"UPDATE chatbots SET name = $2, description = $3, webhook_url = $4, "+
			"workflow_id = $5, is_active = $6, updated_at = $7 WHERE id = $1 "+
			"RETURNING id, external_id, name, description, "+
			"COALESCE(webhook_url, ''), COALESCE(workflow_id, ''), is_active, owner_id, created_at, updated_at",
		params.Id,
		params.Name,
		params.Description,
		nullString(params.WebhookUrl),
		nullString(params.WorkflowId),
		params.IsActive,
		time.Now().UTC(),
	)

	var bot Chatbot
	err := res.Scan(
		&bot.Id,
		&bot.ExternalId,
		&bot.Name,
		&bot.Description,
		&bot.WebhookUrl,
		&bot.WorkflowId,
		&bot.IsActive,
		&bot.OwnerId,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	)

	return bot, err
}

func (db *PgBotForgeRepository) DeleteChatbot(id int) error {
	_, err := db.conn.Exec("DELETE FROM chatbots WHERE id = $1", id)
	return err
}

func (db *PgBotForgeRepository) GetChatbotByExternalId(externalId string) (Chatbot, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, COALESCE(webhook_url, ''), "+
			"COALESCE(workflow_id, ''), is_active, owner_id, created_at, updated_at FROM chatbots "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var bot Chatbot
	err := row.Scan(
		&bot.Id,
		&bot.ExternalId,
		&bot.Name,
		&bot.Description,
		&bot.WebhookUrl,
		&bot.WorkflowId,
		&bot.IsActive,
		&bot.OwnerId,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	)

	return bot, err
}

func (db *PgBotForgeRepository) ListChatbots(ownerId int) ([]Chatbot, error) {
	rows, err := db.conn.Query(
		`SELECT
				c.id,
				c.external_id,
				c.name,
				c.description,
				COALESCE(c.webhook_url, ''),
				COALESCE(c.workflow_id, ''),
				c.is_active,
				c.owner_id,
				c.created_at,
				c.updated_at,
				(SELECT COUNT(*) FROM conversations cv WHERE cv.chatbot_id = c.id),
				(SELECT COUNT(*) FROM messages m WHERE m.chatbot_id = c.id)
		FROM chatbots c
		WHERE c.owner_id = $1
		ORDER BY c.created_at DESC`,
		ownerId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []Chatbot
	for rows.Next() {
		var bot Chatbot
		if err := rows.Scan(
			&bot.Id,
			&bot.ExternalId,
			&bot.Name,
			&bot.Description,
			&bot.WebhookUrl,
			&bot.WorkflowId,
			&bot.IsActive,
			&bot.OwnerId,
			&bot.CreatedAt,
			&bot.UpdatedAt,
			&bot.Conversations,
			&bot.Messages,
		); err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}

	return bots, rows.Err()
}

func (db *PgBotForgeRepository) GetConversation(id string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, chatbot_id, title, created_at, updated_at FROM conversations "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ChatbotId,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)

	return conv, err
}

// FindOrCreateConversation returns the conversation with the given id if it
// exists, otherwise it inserts a new one titled with a truncation of the
// seed content. An empty id gets a freshly generated one. The lookup and
// insert are two statements; two concurrent first messages can each create
// a conversation.
func (db *PgBotForgeRepository) FindOrCreateConversation(id string, chatbotId int, titleSeed string) (Conversation, error) {
	if id != "" {
		conv, err := db.GetConversation(id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, err
		}
	} else {
		id = uuid.NewString()
	}

	res := db.conn.QueryRow(
		"INSERT INTO conversations (id, chatbot_id, title, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, chatbot_id, title, created_at",
		id,
		chatbotId,
		truncateTitle(titleSeed),
		time.Now().UTC(),
	)

	var conv Conversation
	err := res.Scan(
		&conv.Id,
		&conv.ChatbotId,
		&conv.Title,
		&conv.CreatedAt,
	)

	return conv, err
}

func (db *PgBotForgeRepository) ListConversations(chatbotId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT id, chatbot_id, title, created_at, updated_at FROM conversations "+
			"WHERE chatbot_id = $1 ORDER BY created_at DESC",
		chatbotId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(
			&conv.Id,
			&conv.ChatbotId,
			&conv.Title,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

func (db *PgBotForgeRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (conversation_id, chatbot_id, role, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, conversation_id, chatbot_id, role, content, created_at",
		params.ConversationId,
		params.ChatbotId,
		params.Role,
		params.Content,
		time.Now().UTC(),
	)

	var msg Message
	err := res.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.ChatbotId,
		&msg.Role,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgBotForgeRepository) ListMessages(conversationId string, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, conversation_id, chatbot_id, role, content, created_at FROM messages "+
			"WHERE conversation_id = $1 ORDER BY created_at ASC LIMIT $2",
		conversationId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.ChatbotId,
			&msg.Role,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// truncateTitle cuts the seed down to the title column's size, backing up to
// a rune boundary so a multibyte character is never split.
func truncateTitle(s string) string {
	if len(s) <= conversationTitleLen {
		return s
	}

	cut := conversationTitleLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
