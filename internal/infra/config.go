package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string
	GeoIPDBPath string
	CORSOrigins []string

	ImageGenBaseURL    string
	ImageGenAPIKey     string
	ImageGenMaxImages  int
	ImageGenRatePerMin int

	ExpandConcurrency int
	ExpandCallTimeout time.Duration
	ExpandRetryDelay  time.Duration
	ExpandItemDelay   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),

		ImageGenBaseURL:    getEnv("IMAGEGEN_BASE_URL", "https://api.pixelexpand.ai/v1"),
		ImageGenAPIKey:     os.Getenv("IMAGEGEN_API_KEY"),
		ImageGenMaxImages:  getEnvInt("IMAGEGEN_MAX_IMAGES", 3),
		ImageGenRatePerMin: getEnvInt("IMAGEGEN_RATE_PER_MINUTE", 0),

		ExpandConcurrency: getEnvInt("EXPAND_CONCURRENCY", 2),
		ExpandCallTimeout: time.Millisecond * time.Duration(getEnvInt("EXPAND_CALL_TIMEOUT_MS", 120000)),
		ExpandRetryDelay:  time.Millisecond * time.Duration(getEnvInt("EXPAND_RETRY_DELAY_MS", 2000)),
		ExpandItemDelay:   time.Millisecond * time.Duration(getEnvInt("EXPAND_ITEM_DELAY_MS", 500)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ExpandConcurrency <= 0 {
		return nil, fmt.Errorf("EXPAND_CONCURRENCY must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
