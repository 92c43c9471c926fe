package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingToken is returned when no bearer credential is configured. The
// process must refuse to start channels without one.
var ErrMissingToken = errors.New("PUSHBULLET_TOKEN or PUSHBULLET_TOKEN_FILE is required")

// Config holds all configuration for the bridge.
type Config struct {
	Addr string
	Env  string

	AccessToken string
	TokenFile   string

	APIBaseURL string
	StreamURL  string

	MaxStored       int
	ReconnectDelay  time.Duration
	FreshnessWindow time.Duration
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:            getEnv("SMS_BRIDGE_ADDR", ":8090"),
		Env:             getEnv("ENV", "development"),
		AccessToken:     strings.TrimSpace(os.Getenv("PUSHBULLET_TOKEN")),
		TokenFile:       strings.TrimSpace(os.Getenv("PUSHBULLET_TOKEN_FILE")),
		APIBaseURL:      getEnv("SMS_BRIDGE_API_BASE", "https://api.pushbullet.com"),
		StreamURL:       getEnv("SMS_BRIDGE_STREAM_URL", "wss://stream.pushbullet.com/websocket"),
		MaxStored:       intEnv("SMS_BRIDGE_MAX_STORED", 100),
		ReconnectDelay:  durationEnv("SMS_BRIDGE_RECONNECT_DELAY", 5*time.Second),
		FreshnessWindow: durationEnv("SMS_BRIDGE_FRESHNESS_WINDOW", 60*time.Second),
	}
	if cfg.AccessToken == "" && cfg.TokenFile == "" {
		return nil, ErrMissingToken
	}
	return cfg, nil
}

// TokenSource builds the credential source configured for this process:
// file-backed when PUSHBULLET_TOKEN_FILE is set, static otherwise.
func (c *Config) TokenSource() (*TokenSource, error) {
	if c.TokenFile != "" {
		return FileTokenSource(c.TokenFile)
	}
	return StaticTokenSource(c.AccessToken), nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func durationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
