package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/botforge/botforge/internal/cache"
	"github.com/botforge/botforge/internal/database"
	"github.com/botforge/botforge/internal/relay"
	"github.com/botforge/botforge/internal/stats"
	"github.com/botforge/botforge/internal/types"
	"github.com/gorilla/websocket"
)

const defaultMessageLimit = 100

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateChatbotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateChatbotRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

type SendMessageRequest struct {
	ConversationId string `json:"conversation_id"`
	Content        string `json:"content"`
}

type SendMessageResponse struct {
	ConversationId   string        `json:"conversation_id"`
	UserMessage      types.Message `json:"user_message"`
	AssistantMessage types.Message `json:"assistant_message"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *App) rateLimit(limiter *cache.RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		res := limiter.Check(r.Context(), host)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(res.ResetAt).Seconds())))
			errResp := NewTooManyRequestsError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	}
}

func (s *App) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	})
}

func (s *App) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
}

func (s *App) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *App) chatbotListCacheKey(userId int) string {
	return cache.Key("chatbots", strconv.Itoa(userId))
}

func (s *App) listChatbots(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if s.cache != nil {
		var cached []types.Chatbot
		if s.cache.Get(r.Context(), s.chatbotListCacheKey(userId), &cached) {
			s.writeJson(w, http.StatusOK, cached)
			return
		}
	}

	dbBots, err := s.db.ListChatbots(userId)
	if err != nil {
		s.log.Println("list chatbots:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	bots := make([]types.Chatbot, 0, len(dbBots))
	for _, bot := range dbBots {
		bots = append(bots, wireChatbot(bot))
	}

	if s.cache != nil {
		s.cache.Set(r.Context(), s.chatbotListCacheKey(userId), bots, cache.TTLShort)
	}

	s.writeJson(w, http.StatusOK, bots)
}

func (s *App) createChatbot(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChatbotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newBot, err := s.db.CreateChatbot(database.CreateChatbotParams{
		ExternalId:  sid,
		Name:        req.Name,
		Description: req.Description,
		OwnerId:     userId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// Provision the workflow after the row exists so the webhook path can
	// embed the chatbot's external id. A provisioning failure leaves the
	// chatbot in place but inactive, for manual configuration later.
	update := database.UpdateChatbotParams{
		Id:          newBot.Id,
		Name:        newBot.Name,
		Description: newBot.Description,
	}

	workflowId, webhookUrl, n8nErr := s.n8n.CreateChatbotWorkflow(r.Context(), newBot.Name, newBot.ExternalId)
	if n8nErr != nil {
		s.log.Println("n8n workflow creation failed:", n8nErr)
		update.IsActive = false
	} else {
		update.WorkflowId = workflowId
		update.WebhookUrl = webhookUrl
		update.IsActive = true
	}

	bot, err := s.db.UpdateChatbot(update)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if s.cache != nil {
		s.cache.Delete(r.Context(), s.chatbotListCacheKey(userId))
	}

	s.writeJson(w, http.StatusCreated, wireChatbot(bot))
}

// ownedChatbot resolves the path id to a chatbot owned by the requesting
// user, writing the error response itself on failure.
func (s *App) ownedChatbot(w http.ResponseWriter, r *http.Request) (database.Chatbot, bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return database.Chatbot{}, false
	}

	bot, err := s.db.GetChatbotByExternalId(r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return database.Chatbot{}, false
	}

	if bot.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return database.Chatbot{}, false
	}

	return bot, true
}

func (s *App) getChatbot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.ownedChatbot(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, wireChatbot(bot))
}

func (s *App) updateChatbot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.ownedChatbot(w, r)
	if !ok {
		return
	}

	var req UpdateChatbotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.UpdateChatbotParams{
		Id:          bot.Id,
		Name:        bot.Name,
		Description: bot.Description,
		WebhookUrl:  bot.WebhookUrl,
		WorkflowId:  bot.WorkflowId,
		IsActive:    bot.IsActive,
	}
	if req.Name != nil {
		params.Name = *req.Name
	}
	if req.Description != nil {
		params.Description = *req.Description
	}
	if req.IsActive != nil {
		params.IsActive = *req.IsActive
	}

	updated, err := s.db.UpdateChatbot(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// keep the n8n workflow's active flag in sync, best-effort
	if req.IsActive != nil && updated.WorkflowId != "" {
		if err := s.n8n.SetWorkflowActive(r.Context(), updated.WorkflowId, updated.IsActive); err != nil {
			s.log.Println("failed to update n8n workflow status:", err)
		}
	}

	if s.cache != nil {
		s.cache.Delete(r.Context(), s.chatbotListCacheKey(updated.OwnerId))
	}

	s.writeJson(w, http.StatusOK, wireChatbot(updated))
}

func (s *App) deleteChatbot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.ownedChatbot(w, r)
	if !ok {
		return
	}

	if bot.WorkflowId != "" {
		if err := s.n8n.DeleteWorkflow(r.Context(), bot.WorkflowId); err != nil {
			s.log.Println("failed to delete n8n workflow:", err)
		}
	}

	if err := s.db.DeleteChatbot(bot.Id); err != nil {
		s.log.Println("delete chatbot:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if s.cache != nil {
		s.cache.Delete(r.Context(), s.chatbotListCacheKey(bot.OwnerId))
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *App) listConversations(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.ownedChatbot(w, r)
	if !ok {
		return
	}

	dbConvs, err := s.db.ListConversations(bot.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convs := make([]types.Conversation, 0, len(dbConvs))
	for _, conv := range dbConvs {
		convs = append(convs, types.Conversation{
			Id:        conv.Id,
			ChatbotId: conv.ChatbotId,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *App) getMessages(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.ownedChatbot(w, r)
	if !ok {
		return
	}

	conversationId := r.URL.Query().Get("conversation_id")
	if conversationId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.db.GetConversation(conversationId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// a conversation id under the wrong chatbot reads as absent
	if conv.ChatbotId != bot.Id {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMessages, err := s.db.ListMessages(conversationId, defaultMessageLimit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, types.Message{
			Id:             msg.Id,
			ConversationId: msg.ConversationId,
			Role:           msg.Role,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

// sendMessage is the REST path through the relay state machine, used by
// clients without a socket. There is no room to broadcast to; both
// persisted messages come back in the response body.
func (s *App) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userMsg, assistantMsg, err := s.relay.Send(r.Context(), relay.SendRequest{
		ChatbotId:      r.PathValue("id"),
		ConversationId: req.ConversationId,
		Content:        req.Content,
	})
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, relay.ErrChatbotNotFound):
			errResp = NewNotFoundError()
		case errors.Is(err, relay.ErrChatbotInactive), errors.Is(err, relay.ErrEmptyContent):
			errResp = NewBadRequestError()
		default:
			s.log.Println("send message:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, SendMessageResponse{
		ConversationId:   userMsg.ConversationId,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	})
}

func (s *App) health(w http.ResponseWriter, r *http.Request) {
	type healthResponse struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}

	resp := healthResponse{
		Status:   "healthy",
		Services: map[string]string{"database": "healthy", "redis": "healthy"},
	}
	statusCode := http.StatusOK

	if err := s.db.Ping(); err != nil {
		resp.Status = "unhealthy"
		resp.Services["database"] = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	if s.cache == nil {
		resp.Services["redis"] = "disabled"
	} else if err := s.cache.Ping(r.Context()); err != nil {
		if resp.Status == "healthy" {
			resp.Status = "degraded"
		}
		resp.Services["redis"] = "unhealthy"
	}

	s.writeJson(w, statusCode, resp)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := relay.NewClient(conn, s.registry, s.relay, s.stats, s.log)
	s.stats.Incr(stats.ActiveConnections)

	go client.Write()
	go client.Read()
}

func wireChatbot(bot database.Chatbot) types.Chatbot {
	return types.Chatbot{
		Id:            bot.Id,
		ExternalId:    bot.ExternalId,
		Name:          bot.Name,
		Description:   bot.Description,
		WebhookUrl:    bot.WebhookUrl,
		WorkflowId:    bot.WorkflowId,
		IsActive:      bot.IsActive,
		OwnerId:       bot.OwnerId,
		Conversations: bot.Conversations,
		Messages:      bot.Messages,
		CreatedAt:     bot.CreatedAt,
		UpdatedAt:     bot.UpdatedAt,
	}
}
