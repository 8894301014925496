package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv   string
	HTTPPort string

	QueriesFile   string
	CheckInterval time.Duration

	Listings ListingsConfig
	Rates    RatesConfig
	Telegram TelegramConfig
}

type ListingsConfig struct {
	Adapter  string // mock | http-json
	BaseURL  string
	MaxPages int
}

type RatesConfig struct {
	APIURL          string
	FromCurrency    string
	ToCurrency      string
	SourceSymbol    string
	ConvertedSymbol string
	MaxAge          time.Duration

	// FixedRate bypasses the API and the cache when set; used for
	// in-memory runs without a database.
	FixedRate float64
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

func (t TelegramConfig) Configured() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// LoadEnv reads configuration from the environment with defaults suitable
// for local development. Database settings live in internal/database.
func LoadEnv() *Config {
	return &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		HTTPPort:      getEnv("PORT", "8080"),
		QueriesFile:   getEnv("QUERIES_FILE", "config/queries.json"),
		CheckInterval: getEnvDuration("SCHEDULER_CHECK_INTERVAL", time.Minute),
		Listings: ListingsConfig{
			Adapter:  getEnv("LISTINGS_ADAPTER", "mock"),
			BaseURL:  getEnv("LISTINGS_BASE_URL", ""),
			MaxPages: getEnvInt("LISTINGS_MAX_PAGES", 5),
		},
		Rates: RatesConfig{
			APIURL:          getEnv("RATES_API_URL", "https://tw.rter.info/capi.php"),
			FromCurrency:    getEnv("RATES_FROM", "JPY"),
			ToCurrency:      getEnv("RATES_TO", "TWD"),
			SourceSymbol:    getEnv("RATES_FROM_SYMBOL", "¥"),
			ConvertedSymbol: getEnv("RATES_TO_SYMBOL", "NT$"),
			MaxAge:          getEnvDuration("RATES_MAX_AGE", 12*time.Hour),
			FixedRate:       getEnvFloat("RATES_FIXED", 0),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		},
	}
}

// TrackedQuery is one reconciliation namespace: a named search against
// the listing source, with its own schedule and optional budget in the
// converted currency.
type TrackedQuery struct {
	Name          string `json:"name"`
	Query         string `json:"query"`
	IntervalHours int    `json:"interval_hours"`
	MaxConverted  *int64 `json:"max_converted,omitempty"`
}

// Interval defaults to 4 hours, the original deployment's cadence.
func (q TrackedQuery) Interval() time.Duration {
	if q.IntervalHours <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(q.IntervalHours) * time.Hour
}

type queriesFile struct {
	TrackedQueries []TrackedQuery `json:"tracked_queries"`
}

// LoadQueries reads the tracked-query file. Order is preserved; entries
// without a name or query string are rejected so a typo cannot silently
// drop a namespace.
func LoadQueries(path string) ([]TrackedQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queries file: %w", err)
	}
	var f queriesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse queries file: %w", err)
	}
	for i, q := range f.TrackedQueries {
		if q.Name == "" || q.Query == "" {
			return nil, fmt.Errorf("queries file: entry %d missing name or query", i)
		}
	}
	return f.TrackedQueries, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
