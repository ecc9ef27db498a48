package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity provider
	AuthURL     string
	AuthAnonKey string

	// Backend API
	APIURL string

	// Session persistence（空の場合はメモリ保持）
	DatabaseURL string

	// Analytics（キーが空の場合は無効）
	AnalyticsHost string
	AnalyticsKey  string

	// HTTP clients
	HTTPTimeout time.Duration

	// Session
	TokenRefreshMargin time.Duration
	ResendInterval     time.Duration

	// Rate Limit（req/min）
	RateLimitAuth int

	// Feed check
	FeedCheckTimeout       time.Duration
	FeedCheckMaxConcurrent int
	FeedCheckMaxSize       int64

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.AuthURL = strings.TrimRight(os.Getenv("AUTH_URL"), "/")
	if cfg.AuthURL == "" {
		missing = append(missing, "AUTH_URL")
	}

	cfg.AuthAnonKey = os.Getenv("AUTH_ANON_KEY")
	if cfg.AuthAnonKey == "" {
		missing = append(missing, "AUTH_ANON_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.APIURL = strings.TrimRight(getEnvString("API_URL", "http://localhost:8000"), "/")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:3000"), "/")
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.AnalyticsHost = strings.TrimRight(getEnvString("ANALYTICS_HOST", "https://app.posthog.com"), "/")
	cfg.AnalyticsKey = getEnvString("ANALYTICS_KEY", "")
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.TokenRefreshMargin = getEnvDuration("TOKEN_REFRESH_MARGIN", 60*time.Second)
	cfg.ResendInterval = getEnvDuration("RESEND_INTERVAL", 60*time.Second)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.FeedCheckTimeout = getEnvDuration("FEEDCHECK_TIMEOUT", 10*time.Second)
	cfg.FeedCheckMaxConcurrent = getEnvInt("FEEDCHECK_MAX_CONCURRENT", 5)
	cfg.FeedCheckMaxSize = getEnvInt64("FEEDCHECK_MAX_SIZE", 5242880)
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// AuthCallbackURL はOAuthおよびメール確認のリダイレクト先URLを返す。
func (c *Config) AuthCallbackURL() string {
	return c.BaseURL + "/auth/callback"
}

// PersistSessions はセッションをPostgreSQLに永続化するかどうかを返す。
func (c *Config) PersistSessions() bool {
	return c.DatabaseURL != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
