package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	OAuth    OAuthConfig
	Catalog  CatalogConfig
	Executor ExecutorConfig
	Payment  PaymentConfig
	Discord  DiscordConfig
	Telegram TelegramConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

// CatalogConfig points at the pricing catalog JSON. Empty path = built-in defaults.
type CatalogConfig struct {
	Path string
}

type ExecutorConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PaymentConfig struct {
	WebhookSecret string
}

type DiscordConfig struct {
	BotToken      string
	CommandPrefix string
}

type TelegramConfig struct {
	WebhookSecret string
}

// AdminConfig seeds the first admin account on startup if none exists.
type AdminConfig struct {
	Email    string
	Password string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Env:          getEnv("ENV", "development"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "oneclaw:oneclaw@tcp(localhost:3306)/oneclaw?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", "change-me-refresh"),
			AccessExpiry:  getDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getDuration("JWT_REFRESH_EXPIRY", 168*time.Hour),
			Issuer:        getEnv("JWT_ISSUER", "oneclaw"),
		},
		OAuth: OAuthConfig{
			GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		},
		Catalog: CatalogConfig{
			Path: os.Getenv("PRICING_CATALOG_PATH"),
		},
		Executor: ExecutorConfig{
			BaseURL: getEnv("EXECUTOR_BASE_URL", "http://localhost:8100"),
			Timeout: getDuration("EXECUTOR_TIMEOUT", 120*time.Second),
		},
		Payment: PaymentConfig{
			WebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		},
		Discord: DiscordConfig{
			BotToken:      os.Getenv("DISCORD_BOT_TOKEN"),
			CommandPrefix: getEnv("DISCORD_COMMAND_PREFIX", "!"),
		},
		Telegram: TelegramConfig{
			WebhookSecret: os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", "admin@oneclaw.local"),
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
