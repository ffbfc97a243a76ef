// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// セッション永続化ストレージの種類。
const (
	SessionStoragePostgres = "postgres"
	SessionStorageMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendBaseURL   string
	BackendTimeout   time.Duration
	BackendRateLimit float64 // req/sec
	BackendBurst     int

	// Session
	SessionStorage   string
	SessionNamespace string

	// Database
	DatabaseURL        string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	StateRetentionDays int
	CleanupSchedule    string

	// Bulletin
	BulletinFeedURL    string
	BulletinTTL        time.Duration
	BulletinTimeout    time.Duration
	BulletinMaxEntries int

	// Telemedicine
	TelemedicineHosts []string

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	WorkerMetricsPort string
	BaseURL           string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// UsesDatabase はセッションの永続化にPostgreSQLを使うかを返す。
func (c *Config) UsesDatabase() bool {
	return c.SessionStorage == SessionStoragePostgres
}

// Load はカレントディレクトリの.envと環境変数からConfigを読み込む。
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom は指定された.envファイルと環境変数からConfigを読み込む。
// .envファイルが存在しない場合は環境変数のみを使う。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func LoadFrom(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BackendBaseURL = strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/")
	if cfg.BackendBaseURL == "" {
		missing = append(missing, "BACKEND_BASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.SessionStorage = strings.ToLower(getEnvString("SESSION_STORAGE", SessionStoragePostgres))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.UsesDatabase() && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.SessionStorage != SessionStoragePostgres && cfg.SessionStorage != SessionStorageMemory {
		return nil, fmt.Errorf("SESSION_STORAGE must be %q or %q, got %q", SessionStoragePostgres, SessionStorageMemory, cfg.SessionStorage)
	}
	if err := validateHTTPURL("BACKEND_BASE_URL", cfg.BackendBaseURL); err != nil {
		return nil, err
	}

	// Optional fields with defaults
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 10*time.Second)
	cfg.BackendRateLimit = getEnvFloat("BACKEND_RATE_LIMIT", 20)
	cfg.BackendBurst = getEnvInt("BACKEND_BURST", 40)
	cfg.SessionNamespace = getEnvString("SESSION_NAMESPACE", "carelink")
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.StateRetentionDays = getEnvInt("STATE_RETENTION_DAYS", 30)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "@daily")
	cfg.BulletinFeedURL = os.Getenv("BULLETIN_FEED_URL")
	cfg.BulletinTTL = getEnvDuration("BULLETIN_TTL", 15*time.Minute)
	cfg.BulletinTimeout = getEnvDuration("BULLETIN_TIMEOUT", 10*time.Second)
	cfg.BulletinMaxEntries = getEnvInt("BULLETIN_MAX_ENTRIES", 5)
	cfg.TelemedicineHosts = getEnvList("TELEMEDICINE_HOSTS")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = os.Getenv("WORKER_METRICS_PORT")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.StateRetentionDays < 1 {
		return nil, fmt.Errorf("STATE_RETENTION_DAYS must be at least 1, got %d", cfg.StateRetentionDays)
	}

	return cfg, nil
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return nil
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
	if err != nil || f <= 0 {
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

// getEnvList はカンマ区切りの値を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
