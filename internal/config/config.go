// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Calendar API
	CalendarID     string
	CalendarAPIURL string
	APITimeout     time.Duration
	APIRateLimit   float64 // req/sec
	APIMaxRetries  int

	// Sync
	SyncWindowPastDays   int
	SyncWindowFutureDays int
	SyncInterval         time.Duration

	// Webhook
	WebhookBaseURL     string
	WebhookSecretToken string
	ChannelTTL         time.Duration
	ChannelRenewCheck  time.Duration

	// Rate Limit（手動同期エンドポイント、req/min）
	RateLimitManualSync int

	// Server
	ServerPort string
}

// デフォルト値
const (
	defaultCalendarAPIURL = "https://www.googleapis.com/calendar/v3"
	defaultSyncInterval   = 5 * time.Minute
	minSyncInterval       = 1 * time.Minute
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.CalendarID = os.Getenv("CALENDAR_ID")
	if cfg.CalendarID == "" {
		missing = append(missing, "CALENDAR_ID")
	}

	cfg.WebhookBaseURL = os.Getenv("WEBHOOK_BASE_URL")
	if cfg.WebhookBaseURL == "" {
		missing = append(missing, "WEBHOOK_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CalendarAPIURL = getEnvString("CALENDAR_API_URL", defaultCalendarAPIURL)
	cfg.APITimeout = getEnvDuration("CALENDAR_API_TIMEOUT", 10*time.Second)
	cfg.APIRateLimit = getEnvFloat("CALENDAR_API_RATE_LIMIT", 5.0)
	cfg.APIMaxRetries = getEnvInt("CALENDAR_API_MAX_RETRIES", 3)
	cfg.SyncWindowPastDays = getEnvInt("SYNC_WINDOW_PAST_DAYS", 10)
	cfg.SyncWindowFutureDays = getEnvInt("SYNC_WINDOW_FUTURE_DAYS", 20)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", defaultSyncInterval)
	cfg.WebhookSecretToken = getEnvString("WEBHOOK_SECRET_TOKEN", "")
	cfg.ChannelTTL = getEnvDuration("WEBHOOK_CHANNEL_TTL", 168*time.Hour)
	cfg.ChannelRenewCheck = getEnvDuration("WEBHOOK_CHANNEL_RENEW_CHECK", 1*time.Hour)
	cfg.RateLimitManualSync = getEnvInt("RATE_LIMIT_MANUAL_SYNC", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	// 同期間隔の下限を強制する（重複実行とAPIレート圧迫の防止）
	if cfg.SyncInterval < minSyncInterval {
		cfg.SyncInterval = minSyncInterval
	}

	return cfg, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
