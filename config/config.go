// Package config loads service configuration from environment variables
// and pipeline definitions from YAML files.
package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all engine configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string

	// Serving
	GatewayAddr string
	APIAddr     string

	// Market data source: "ws", "replay" or "redis"
	FeedMode string
	FeedURL  string

	// Redis consumer group (FeedMode "redis")
	ConsumerGroup string
	ConsumerName  string

	// Historical replay (FeedMode "replay")
	ReplayFrom  int64   // unix seconds, 0 = from the beginning
	ReplaySpeed float64 // candles per second, 0 = as fast as possible

	// Instruments
	Symbols           string
	PipelineSymbol    string // instrument the pipeline binds to, default first of Symbols
	BaseIntervalS     int
	ResampleIntervals string // comma-separated seconds, e.g. "60,300,900"

	// Pipeline definition
	PipelineFile string

	// Alerting (all optional)
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is applied first when
// present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		GatewayAddr: getEnv("GATEWAY_ADDR", ":8080"),
		APIAddr:     getEnv("API_ADDR", ":8084"),

		FeedMode: strings.ToLower(getEnv("FEED_MODE", "ws")),
		FeedURL:  getEnv("FEED_URL", "ws://localhost:8081/ws"),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "pipengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", "worker-1"),

		ReplayFrom:  getEnvInt64("REPLAY_FROM", 0),
		ReplaySpeed: getEnvFloat("REPLAY_SPEED", 0),

		Symbols:           getEnv("SYMBOLS", "RELIANCE,TCS,INFY"),
		PipelineSymbol:    getEnv("PIPELINE_SYMBOL", ""),
		BaseIntervalS:     getEnvInt("BASE_INTERVAL_SEC", 1),
		ResampleIntervals: getEnv("RESAMPLE_INTERVALS", "60,300,900"),

		PipelineFile: getEnv("PIPELINE_FILE", "config/pipeline.yaml"),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks cross-field constraints that getEnv defaults cannot.
func (c *Config) Validate() error {
	switch c.FeedMode {
	case "ws", "replay", "redis":
	default:
		return fmt.Errorf("config: unknown FEED_MODE %q (want ws, replay or redis)", c.FeedMode)
	}
	if c.BaseIntervalS <= 0 {
		return fmt.Errorf("config: BASE_INTERVAL_SEC must be positive, got %d", c.BaseIntervalS)
	}
	if len(c.ParseSymbols()) == 0 {
		return fmt.Errorf("config: SYMBOLS is empty")
	}
	return nil
}

// BoundSymbol returns the instrument the pipeline runs on. Results have
// no symbol dimension, so one pipeline processes exactly one instrument;
// the remaining symbols are still recorded, resampled and served.
func (c *Config) BoundSymbol() string {
	if c.PipelineSymbol != "" {
		return c.PipelineSymbol
	}
	symbols := c.ParseSymbols()
	if len(symbols) == 0 {
		return ""
	}
	return symbols[0]
}

// ParseSymbols splits the comma-separated symbol list, dropping blanks.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

// ParseIntervals parses ResampleIntervals into a sorted slice of
// interval durations in seconds. Invalid entries are skipped.
func (c *Config) ParseIntervals() []int {
	parts := strings.Split(c.ResampleIntervals, ",")
	intervals := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid interval value: %q", p)
			continue
		}
		intervals = append(intervals, n)
	}
	sort.Ints(intervals)
	return intervals
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] %s=%q is not a number, using %g", key, v, fallback)
		return fallback
	}
	return f
}
