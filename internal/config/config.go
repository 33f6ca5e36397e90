// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the chat server configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	// SweepInterval is how often expired sessions are removed.
	SweepInterval time.Duration
	UploadDir     string
	ExportDir     string
	MaxUpload     int64
	// SendsPerMinute limits send_message per session; 0 disables the limit.
	SendsPerMinute int
	Responder      ResponderConfig
	Events         EventsConfig
}

// ResponderConfig selects the model backend.
type ResponderConfig struct {
	// OllamaURL is empty to use the built-in echo responder.
	OllamaURL string
	Model     string
	Timeout   time.Duration
}

// EventsConfig controls feedback publishing.
type EventsConfig struct {
	// NATSURL is empty to disable publishing.
	NATSURL         string
	FeedbackSubject string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/chat.db"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		UploadDir:      getEnv("UPLOAD_DIR", "./data/uploads"),
		ExportDir:      getEnv("EXPORT_DIR", "./data/exports"),
		MaxUpload:      int64(getEnvInt("MAX_UPLOAD_MB", 16)) << 20,
		SendsPerMinute: getEnvInt("SENDS_PER_MINUTE", 20),
		Responder: ResponderConfig{
			OllamaURL: getEnv("OLLAMA_URL", ""),
			Model:     getEnv("OLLAMA_MODEL", "llama3.2"),
			Timeout:   getEnvDuration("OLLAMA_TIMEOUT", 2*time.Minute),
		},
		Events: EventsConfig{
			NATSURL:         getEnv("NATS_URL", ""),
			FeedbackSubject: getEnv("FEEDBACK_SUBJECT", "chat.feedback"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.ExportDir == "" {
		return fmt.Errorf("EXPORT_DIR cannot be empty")
	}
	if c.MaxUpload <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be > 0")
	}
	if c.SendsPerMinute < 0 {
		return fmt.Errorf("SENDS_PER_MINUTE must be >= 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Events.NATSURL != "" && c.Events.FeedbackSubject == "" {
		return fmt.Errorf("FEEDBACK_SUBJECT cannot be empty when NATS_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

// ClientConfig holds the terminal client configuration.
type ClientConfig struct {
	ServerURL string
	SessionID string
	History   string
	NoColor   bool
}

// LoadClient reads the terminal client configuration.
func LoadClient() (*ClientConfig, error) {
	home, _ := os.UserHomeDir()
	cfg := &ClientConfig{
		ServerURL: strings.TrimRight(getEnv("CHAT_SERVER_URL", "http://localhost:8080"), "/"),
		SessionID: getEnv("CHAT_SESSION_ID", ""),
		History:   getEnv("CHAT_HISTORY_FILE", home+"/.aero_chat_history"),
		NoColor:   getEnvBool("NO_COLOR", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the server URL.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("CHAT_SERVER_URL must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("CHAT_SERVER_URL must use http or https")
	}
	return nil
}

// WebSocketURL returns the socket endpoint derived from the server URL.
func (c *ClientConfig) WebSocketURL() string {
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://") + "/ws"
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
