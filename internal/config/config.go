// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Generation backends reported by Config.GenerationBackend.
const (
	GenerationGemini = "gemini"
	GenerationOpenAI = "openai"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	StoreBackend     string
	DatabasePath     string
	RedisURL         string
	LogLevel         string
	AllowedUsers     []int64

	GeminiAPIKey      string
	GeminiModel       string
	ModelURL          string
	ModelName         string
	ModelAPIKey       string
	GenerationTimeout time.Duration
	SystemPrompt      string
	HistoryLimit      int
	HistoryTTL        time.Duration

	TickInterval     time.Duration
	RetryDelay       time.Duration
	CacheTTL         time.Duration
	ContentExclude   []string
	ContentExcludeRe []string

	MetricsAddr string
	SendRate    float64
}

// Load reads configuration from environment variables. Values from a .env
// file in the working directory are used for variables that are not set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		StoreBackend:     strings.ToLower(envOr("STORE_BACKEND", BackendSQLite)),
		DatabasePath:     envOr("DATABASE_PATH", "./data/bot.db"),
		RedisURL:         envOr("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      envOr("GEMINI_MODEL", "gemini-2.5-flash"),
		ModelURL:         os.Getenv("MODEL_URL"),
		ModelName:        os.Getenv("MODEL_NAME"),
		ModelAPIKey:      os.Getenv("MODEL_API_KEY"),
		SystemPrompt:     os.Getenv("SYSTEM_PROMPT"),
		ContentExclude:   envList("CONTENT_EXCLUDE"),
		ContentExcludeRe: envList("CONTENT_EXCLUDE_RE"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	if !slices.Contains([]string{BackendSQLite, BackendRedis}, cfg.StoreBackend) {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want sqlite or redis", cfg.StoreBackend)
	}

	var err error
	if cfg.AllowedUsers, err = parseUsers(os.Getenv("ALLOWED_USERS")); err != nil {
		return nil, err
	}
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"GENERATION_TIMEOUT", &cfg.GenerationTimeout, 10 * time.Second},
		{"HISTORY_TTL", &cfg.HistoryTTL, 60 * time.Second},
		{"TICK_INTERVAL", &cfg.TickInterval, time.Minute},
		{"RETRY_DELAY", &cfg.RetryDelay, 5 * time.Minute},
		{"CACHE_TTL", &cfg.CacheTTL, 2 * time.Hour},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.HistoryLimit, err = envInt("HISTORY_LIMIT", 20); err != nil {
		return nil, err
	}
	if cfg.SendRate, err = envFloat("SEND_RATE", 20); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	return len(c.AllowedUsers) == 0 || slices.Contains(c.AllowedUsers, userID)
}

// GenerationBackend names the configured reply generator, or "" if AI chat
// is disabled. Gemini wins when both are configured.
func (c *Config) GenerationBackend() string {
	switch {
	case c.GeminiAPIKey != "":
		return GenerationGemini
	case c.ModelURL != "":
		return GenerationOpenAI
	}
	return ""
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration like 90s or 5m", key, raw)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, raw)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive number", key, raw)
	}
	return f, nil
}

func parseUsers(raw string) ([]int64, error) {
	var users []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}
