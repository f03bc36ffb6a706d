package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/botforge/botforge/internal/api"
	"github.com/botforge/botforge/internal/cache"
	"github.com/botforge/botforge/internal/config"
	"github.com/botforge/botforge/internal/database"
	"github.com/botforge/botforge/internal/n8n"
	"github.com/botforge/botforge/internal/relay"
	"github.com/botforge/botforge/internal/stats"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr             string
	dsn              string
	redisAddr        string
	signingKey       string
	n8nBaseUrl       string
	n8nApiKey        string
	responderTimeout time.Duration
	allowedOrigins   stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address (empty disables caching and rate limiting)")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&n8nBaseUrl, "n8n-url", "http://localhost:5678/api/v1", "n8n API base URL")
	flag.StringVar(&n8nApiKey, "n8n-api-key", "", "n8n API key")
	flag.DurationVar(&responderTimeout, "responder-timeout", 30*time.Second, "bound on a single workflow webhook call")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[botforge] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingKey, n8nBaseUrl, n8nApiKey, allowedOrigins, responderTimeout)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgBotForgeRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("migrate:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	var (
		appCache *cache.Cache
		limiters api.Limiters
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		appCache = cache.NewCache(rdb, logger)
		limiters = api.Limiters{
			Api:     cache.NewRateLimiter(rdb, logger, time.Minute, 100),
			Auth:    cache.NewRateLimiter(rdb, logger, time.Minute, 5),
			Message: cache.NewRateLimiter(rdb, logger, time.Minute, 20),
		}
	}

	n8nClient := n8n.NewClient(cfg.N8nBaseUrl, cfg.N8nApiKey, logger)

	registry := relay.NewRegistry(logger, statsUpdater)
	messageRelay := relay.NewRelay(logger, dbConn, registry, n8nClient, statsUpdater, cfg.ResponderTimeout)

	srv := api.NewApp(mux, logger, registry, messageRelay, dbConn, n8nClient, appCache, limiters, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
