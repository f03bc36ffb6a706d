package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/botforge/botforge/internal/cache"
	"github.com/botforge/botforge/internal/config"
	"github.com/botforge/botforge/internal/database"
	"github.com/botforge/botforge/internal/n8n"
	"github.com/botforge/botforge/internal/relay"
	"github.com/botforge/botforge/internal/stats"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
)

type App struct {
	log            *log.Logger
	db             database.BotForgeRepository
	mux            *http.Server
	registry       *relay.Registry
	relay          *relay.Relay
	n8n            *n8n.Client
	cache          *cache.Cache
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string

	// limiters are nil when redis is not configured; middleware then
	// passes everything through.
	apiLimiter     *cache.RateLimiter
	authLimiter    *cache.RateLimiter
	messageLimiter *cache.RateLimiter

	generateShortId func() (string, error)
}

type Limiters struct {
	Api     *cache.RateLimiter
	Auth    *cache.RateLimiter
	Message *cache.RateLimiter
}

func NewApp(mux *http.ServeMux, logger *log.Logger, registry *relay.Registry, rl *relay.Relay, db database.BotForgeRepository, n8nClient *n8n.Client, c *cache.Cache, limiters Limiters, statsProvider stats.StatsProvider, cfg *config.Config) *App {
	s := &App{
		log:             logger,
		db:              db,
		registry:        registry,
		relay:           rl,
		n8n:             n8nClient,
		cache:           c,
		stats:           statsProvider,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		apiLimiter:      limiters.Api,
		authLimiter:     limiters.Auth,
		messageLimiter:  limiters.Message,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", s.rateLimit(s.authLimiter, s.createAccount))
	mux.HandleFunc("POST /api/auth/login", s.rateLimit(s.authLimiter, s.login))
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/chatbots", s.rateLimit(s.apiLimiter, s.authMiddleware(s.listChatbots)))
	mux.HandleFunc("POST /api/chatbots", s.rateLimit(s.apiLimiter, s.authMiddleware(s.createChatbot)))
	mux.HandleFunc("GET /api/chatbots/{id}", s.rateLimit(s.apiLimiter, s.authMiddleware(s.getChatbot)))
	mux.HandleFunc("PUT /api/chatbots/{id}", s.rateLimit(s.apiLimiter, s.authMiddleware(s.updateChatbot)))
	mux.HandleFunc("DELETE /api/chatbots/{id}", s.rateLimit(s.apiLimiter, s.authMiddleware(s.deleteChatbot)))
	mux.HandleFunc("GET /api/chatbots/{id}/conversations", s.rateLimit(s.apiLimiter, s.authMiddleware(s.listConversations)))
	mux.HandleFunc("GET /api/chatbots/{id}/messages", s.rateLimit(s.apiLimiter, s.authMiddleware(s.getMessages)))
	mux.HandleFunc("POST /api/chatbots/{id}/messages", s.rateLimit(s.messageLimiter, s.authMiddleware(s.sendMessage)))
	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}
