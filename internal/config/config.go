// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default feed sources checked by the poller when FEED_URLS is not set.
var defaultFeedURLs = []string{
	"https://www.unrealengine.com/zh-CN/rss",
	"https://blog.unity.com/feed",
	"https://www.gamedev.net/articles/feed",
	"https://gamedev.net/blogs/feed/",
	"http://www.yystv.cn/rss/feed",
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	BotName          string
	DatabasePath     string
	CachePath        string
	StatePath        string
	LogLevel         string
	FeedURLs         []string

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	ReplyProbability float64
	HistoryWindow    time.Duration
	RecencyCapacity  int
	MaxEventAge      time.Duration

	PollInterval  time.Duration
	SyncInterval  time.Duration
	CycleTimeout  time.Duration
	MaxPollCycles int64
}

// Load reads configuration from the environment, consulting a .env file
// first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		BotName:          envOrDefault("BOT_NAME", "Neko"),
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/bot.db"),
		CachePath:        envOrDefault("CACHE_PATH", "./data/event_cache.json"),
		StatePath:        envOrDefault("FEED_STATE_PATH", "./data/feed_state.json"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		FeedURLs:         defaultFeedURLs,
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMBaseURL:       envOrDefault("LLM_BASE_URL", "https://api.deepseek.com"),
		LLMModel:         envOrDefault("LLM_MODEL", "deepseek-chat"),
		ReplyProbability: 0.2,
		HistoryWindow:    24 * time.Hour,
		RecencyCapacity:  1000,
		MaxEventAge:      60 * time.Second,
		PollInterval:     30 * time.Minute,
		SyncInterval:     1 * time.Minute,
		CycleTimeout:     300 * time.Second,
		MaxPollCycles:    3,
	}

	if raw := os.Getenv("FEED_URLS"); raw != "" {
		var urls []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				urls = append(urls, s)
			}
		}
		cfg.FeedURLs = urls
	}

	if raw := os.Getenv("REPLY_PROBABILITY"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < 0 || p > 1 {
			return nil, fmt.Errorf("REPLY_PROBABILITY must be a number in [0, 1], got %q", raw)
		}
		cfg.ReplyProbability = p
	}

	if raw := os.Getenv("HISTORY_WINDOW_HOURS"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h < 1 {
			return nil, fmt.Errorf("HISTORY_WINDOW_HOURS must be a positive integer, got %q", raw)
		}
		cfg.HistoryWindow = time.Duration(h) * time.Hour
	}

	if raw := os.Getenv("RECENCY_CAPACITY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("RECENCY_CAPACITY must be a positive integer, got %q", raw)
		}
		cfg.RecencyCapacity = n
	}

	if raw := os.Getenv("POLL_INTERVAL_MINUTES"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 {
			return nil, fmt.Errorf("POLL_INTERVAL_MINUTES must be a positive integer, got %q", raw)
		}
		cfg.PollInterval = time.Duration(m) * time.Minute
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
