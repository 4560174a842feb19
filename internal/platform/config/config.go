// Package config builds runtime configuration from the environment so main
// stays lean. A .env file is honoured in development via godotenv.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Config captures everything the server needs to run. Postgres, Redis and
// Kafka are optional; unset URLs select the in-memory fallbacks.
type Config struct {
	Addr string

	// BaseServiceURL is the externally visible origin embedded in
	// magic-link URLs.
	BaseServiceURL string

	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string

	NotifyBaseURL              string
	NotifyAPIKey               string
	NotifyTemplateConfirmation string
	NotifyTemplateEnquiryToTP  string

	// TokenKey is the hex-encoded 32-byte AES key sealing magic-link
	// tokens.
	TokenKey []byte

	SweepSchedule string
}

// FromEnv builds a Config from TM_-prefixed environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("TM_ADDR", ":8080"),
		BaseServiceURL:             envOr("TM_BASE_SERVICE_URL", "http://localhost:8080"),
		DatabaseURL:                os.Getenv("TM_DATABASE_URL"),
		RedisURL:                   os.Getenv("TM_REDIS_URL"),
		NotifyBaseURL:              os.Getenv("TM_NOTIFY_BASE_URL"),
		NotifyAPIKey:               os.Getenv("TM_NOTIFY_API_KEY"),
		NotifyTemplateConfirmation: os.Getenv("TM_NOTIFY_TEMPLATE_CONFIRMATION"),
		NotifyTemplateEnquiryToTP:  os.Getenv("TM_NOTIFY_TEMPLATE_ENQUIRY_TO_TP"),
		SweepSchedule:              os.Getenv("TM_SWEEP_SCHEDULE"),
	}

	if brokers := os.Getenv("TM_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	keyHex := os.Getenv("TM_TOKEN_KEY")
	if keyHex == "" {
		return Config{}, fmt.Errorf("TM_TOKEN_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return Config{}, fmt.Errorf("TM_TOKEN_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return Config{}, fmt.Errorf("TM_TOKEN_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.TokenKey = key

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
