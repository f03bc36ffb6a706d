package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const defaultResponderTimeout = 30 * time.Second

type Config struct {
	ServerAddr       string
	DatabaseDSN      string
	RedisAddr        string
	SigningKey       []byte
	AllowedOrigins   []string
	N8nBaseUrl       string
	N8nApiKey        string
	ResponderTimeout time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, redisAddr, base64Secret, n8nBaseUrl, n8nApiKey string, allowedOrigins []string, responderTimeout time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if n8nBaseUrl == "" {
		return nil, fmt.Errorf("n8n base URL cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if responderTimeout <= 0 {
		responderTimeout = defaultResponderTimeout
	}

	return &Config{
		ServerAddr:       serverAddr,
		DatabaseDSN:      databaseDSN,
		RedisAddr:        redisAddr,
		SigningKey:       signingKey,
		AllowedOrigins:   allowedOrigins,
		N8nBaseUrl:       n8nBaseUrl,
		N8nApiKey:        n8nApiKey,
		ResponderTimeout: responderTimeout,
	}, nil
}
