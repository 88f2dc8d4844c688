// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/forensiclab/internal/auth"
	"github.com/hitoshi/forensiclab/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	OAuthPortalURL string
	OAuthServerURL string // トークン・ユーザー情報エンドポイントのホスト
	AppID          string

	// Session
	SessionMaxAge int

	// Fetch（画像サイズ補完時の画像取得）
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Rate Limit（1分あたり）
	RateLimitGeneral int
	RateLimitUpload  int

	// Workers
	AnalysisRetentionDays int
	RetentionInterval     time.Duration
	BackfillInterval      time.Duration
	BackfillBatchSize     int
	WorkerMetricsPort     string // 空なら公開しない

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数名をすべて含むConfigurationErrorを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.OAuthPortalURL = required("OAUTH_PORTAL_URL")
	cfg.AppID = required("APP_ID")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, model.NewConfigurationError(strings.Join(missing, ", "), "必須の環境変数が設定されていません")
	}

	// Optional fields with defaults
	cfg.OAuthServerURL = getEnvString("OAUTH_SERVER_URL", cfg.OAuthPortalURL)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 20<<20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 20)
	cfg.AnalysisRetentionDays = getEnvInt("ANALYSIS_RETENTION_DAYS", 365)
	cfg.RetentionInterval = getEnvDuration("RETENTION_INTERVAL", 24*time.Hour)
	cfg.BackfillInterval = getEnvDuration("BACKFILL_INTERVAL", time.Minute)
	cfg.BackfillBatchSize = getEnvInt("BACKFILL_BATCH_SIZE", 20)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// Portal はリダイレクトURL生成に渡す設定値を返す。
func (c *Config) Portal() auth.PortalConfig {
	return auth.PortalConfig{
		PortalURL: c.OAuthPortalURL,
		AppID:     c.AppID,
	}
}

// PortalExchange は認可コード交換の設定値を返す。
func (c *Config) PortalExchange() auth.PortalExchangeConfig {
	return auth.PortalExchangeConfig{
		ServerURL: c.OAuthServerURL,
		AppID:     c.AppID,
		Origin:    c.BaseURL,
	}
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
