package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// セッション解決方式
const (
	SessionBackendJWT      = "jwt"
	SessionBackendDatabase = "database"
)

// オンボーディング状態キャッシュの保存先
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL"`
	UpstreamURL string `env:"UPSTREAM_URL"`

	// Route table（未指定の場合は組み込みのデフォルトを使用する）
	RouteTableFile string `env:"ROUTE_TABLE_FILE"`

	// Session
	SessionBackend     string        `env:"SESSION_BACKEND" envDefault:"jwt"`
	JWTSecret          string        `env:"JWT_SECRET"`
	AuthURL            string        `env:"AUTH_URL"`
	AuthAPIKey         string        `env:"AUTH_API_KEY"`
	AuthTimeout        time.Duration `env:"AUTH_TIMEOUT" envDefault:"5s"`
	AccessTokenCookie  string        `env:"ACCESS_TOKEN_COOKIE" envDefault:"sb-access-token"`
	RefreshTokenCookie string        `env:"REFRESH_TOKEN_COOKIE" envDefault:"sb-refresh-token"`
	SessionCookie      string        `env:"SESSION_COOKIE" envDefault:"session_id"`
	SessionMaxAge      int           `env:"SESSION_MAX_AGE" envDefault:"86400"`

	// Cleanup
	SessionRetentionDays int `env:"SESSION_RETENTION_DAYS" envDefault:"7"`

	// Onboarding status cache
	CacheBackend         string        `env:"CACHE_BACKEND" envDefault:"memory"`
	CacheTTL             time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	RedisAddr            string        `env:"REDIS_ADDR"`
	RedisPassword        string        `env:"REDIS_PASSWORD"`
	ProfileEventsChannel string        `env:"PROFILE_EVENTS_CHANNEL" envDefault:"profile_changes"`

	// Webhook
	WebhookSecret    string `env:"WEBHOOK_SECRET"`
	WebhookRateLimit int    `env:"WEBHOOK_RATE_LIMIT" envDefault:"60"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool   `env:"-"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return cfg, nil
}

// validate は必須項目と列挙値を検証する。
func (c *Config) validate() error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.UpstreamURL == "" {
		missing = append(missing, "UPSTREAM_URL")
	}
	if c.SessionBackend == SessionBackendJWT && c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.CacheBackend == CacheBackendRedis && c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch c.SessionBackend {
	case SessionBackendJWT, SessionBackendDatabase:
	default:
		return fmt.Errorf("invalid SESSION_BACKEND %q: must be %q or %q", c.SessionBackend, SessionBackendJWT, SessionBackendDatabase)
	}

	switch c.CacheBackend {
	case CacheBackendNone, CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q: must be one of none, memory, redis", c.CacheBackend)
	}

	u, err := url.Parse(c.UpstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid UPSTREAM_URL %q: must be an absolute http(s) URL", c.UpstreamURL)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("invalid SESSION_MAX_AGE %d: must be positive", c.SessionMaxAge)
	}

	return nil
}

// Upstream はUPSTREAM_URLをパースして返す。Load済みのConfigでは常に成功する。
func (c *Config) Upstream() (*url.URL, error) {
	return url.Parse(c.UpstreamURL)
}
