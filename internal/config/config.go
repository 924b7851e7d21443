package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the voice gate service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	EngineProvider    string
	EngineBaseURL     string
	EngineAPIKey      string
	EngineAssistantID string

	WebhookURL     string
	WebhookTimeout time.Duration

	DatabaseURL string

	AuthUserID    string
	AuthUserEmail string
}

// Load reads an optional .env file, then environment variables, and
// applies safe defaults.
func Load() (Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "voicegate"),
		ShutdownTimeout:   15 * time.Second,
		EngineProvider:    envOrDefault("VOICE_ENGINE_PROVIDER", "auto"),
		EngineBaseURL:     envOrDefault("VOICE_ENGINE_WS_BASE_URL", "wss://api.vapi.ai"),
		EngineAPIKey:      stringsTrimSpace("VOICE_ENGINE_API_KEY"),
		EngineAssistantID: stringsTrimSpace("VOICE_ENGINE_ASSISTANT_ID"),
		WebhookURL:        stringsTrimSpace("NOTIFY_WEBHOOK_URL"),
		WebhookTimeout:    10 * time.Second,
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		AuthUserID:        stringsTrimSpace("AUTH_USER_ID"),
		AuthUserEmail:     stringsTrimSpace("AUTH_USER_EMAIL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WebhookTimeout, err = durationFromEnv("NOTIFY_WEBHOOK_TIMEOUT", cfg.WebhookTimeout)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.EngineProvider)) {
	case "", "auto":
		cfg.EngineProvider = "auto"
	case "vapi", "fake":
		cfg.EngineProvider = strings.ToLower(strings.TrimSpace(cfg.EngineProvider))
	default:
		return Config{}, fmt.Errorf("invalid VOICE_ENGINE_PROVIDER: %q (expected auto|vapi|fake)", cfg.EngineProvider)
	}

	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return Config{}, fmt.Errorf("NOTIFY_WEBHOOK_URL must be an http(s) URL")
		}
	}
	if cfg.WebhookTimeout <= 0 {
		return Config{}, fmt.Errorf("NOTIFY_WEBHOOK_TIMEOUT must be positive")
	}
	if cfg.EngineProvider == "vapi" && cfg.EngineAPIKey == "" {
		return Config{}, fmt.Errorf("VOICE_ENGINE_PROVIDER=vapi but VOICE_ENGINE_API_KEY is not set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
