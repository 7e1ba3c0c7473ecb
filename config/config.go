package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Timezone used when formatting timestamps in notifications (IANA name)
	Timezone string

	Telegram TelegramConfig
	SMTP     SMTPConfig
	Database DatabaseConfig
	Scanner  ScannerConfig
}

// TelegramConfig holds Telegram bot credentials
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// SMTPConfig holds outbound email configuration
type SMTPConfig struct {
	Server    string
	Port      int
	User      string
	Password  string
	FromEmail string
	ToEmail   string
	UseSSL    bool
}

// DatabaseConfig holds PostgreSQL connection parameters
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// RedisConfig holds optional Redis cache parameters.
// An empty Host disables caching entirely.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// ScannerConfig holds scan cadence, risk parameters and the symbol universe.
// Symbols maps alias -> vendor symbol and is parsed once at load time from
// SCANNER__SYMBOLS__<ALIAS> environment variables.
type ScannerConfig struct {
	Symbols                   map[string]string
	ScanIntervalSeconds       int
	HeartbeatIntervalMinutes  int
	EmailSummaryIntervalHours int
	RiskPercentage            float64
	DefaultEquity             float64
	MaxParallelScans          int
	HTTPPort                  int

	Redis RedisConfig
}

// symbolEnvPrefix is the prefix for per-symbol environment variables.
const symbolEnvPrefix = "SCANNER__SYMBOLS__"

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Timezone: getEnvOrDefault("APP_TIMEZONE", "Africa/Johannesburg"),

		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM__BOT_TOKEN"),
			ChatID:   os.Getenv("TELEGRAM__CHAT_ID"),
		},

		SMTP: SMTPConfig{
			Server:    os.Getenv("SMTP__SERVER"),
			Port:      getEnvInt("SMTP__PORT", 465),
			User:      os.Getenv("SMTP__USER"),
			Password:  os.Getenv("SMTP__PASSWORD"),
			FromEmail: os.Getenv("SMTP__FROM_EMAIL"),
			ToEmail:   os.Getenv("SMTP__TO_EMAIL"),
			UseSSL:    getEnvOrDefault("SMTP__USE_SSL", "true") == "true",
		},

		Database: DatabaseConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			Name:     os.Getenv("POSTGRES_DB"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
		},

		Scanner: ScannerConfig{
			Symbols:                   loadSymbolsFromEnv(),
			ScanIntervalSeconds:       getEnvInt("SCANNER__SCAN_INTERVAL_SECONDS", 60),
			HeartbeatIntervalMinutes:  getEnvInt("SCANNER__HEARTBEAT_INTERVAL_MINUTES", 15),
			EmailSummaryIntervalHours: getEnvInt("SCANNER__EMAIL_SUMMARY_INTERVAL_HOURS", 2),
			RiskPercentage:            getEnvFloat("SCANNER__RISK_PERCENTAGE", 0.01),
			DefaultEquity:             getEnvFloat("SCANNER__DEFAULT_EQUITY", 10000),
			MaxParallelScans:          getEnvInt("SCANNER__MAX_PARALLEL_SCANS", 1),
			HTTPPort:                  getEnvInt("SCANNER__HTTP_PORT", 8000),

			Redis: RedisConfig{
				Host:     getEnvOrDefault("REDIS_HOST", ""),
				Port:     getEnvOrDefault("REDIS_PORT", "6379"),
				Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			},
		},
	}
}

// loadSymbolsFromEnv parses SCANNER__SYMBOLS__<ALIAS>=<vendor_symbol> pairs.
// The suffix after the prefix is the alias.
func loadSymbolsFromEnv() map[string]string {
	symbols := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, symbolEnvPrefix) {
			continue
		}
		alias := strings.TrimPrefix(key, symbolEnvPrefix)
		if alias != "" && value != "" {
			symbols[alias] = value
		}
	}
	return symbols
}

// Validate checks required fields and returns an aggregated error.
// A validation failure is a fatal startup error.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.BotToken == "" {
		errs = append(errs, "TELEGRAM__BOT_TOKEN is required")
	}
	if c.Telegram.ChatID == "" {
		errs = append(errs, "TELEGRAM__CHAT_ID is required")
	}
	if c.SMTP.Server == "" {
		errs = append(errs, "SMTP__SERVER is required")
	}
	if c.SMTP.User == "" {
		errs = append(errs, "SMTP__USER is required")
	}
	if c.SMTP.Password == "" {
		errs = append(errs, "SMTP__PASSWORD is required")
	}
	if c.Database.User == "" {
		errs = append(errs, "POSTGRES_USER is required")
	}
	if c.Database.Password == "" {
		errs = append(errs, "POSTGRES_PASSWORD is required")
	}
	if c.Database.Name == "" {
		errs = append(errs, "POSTGRES_DB is required")
	}
	if len(c.Scanner.Symbols) == 0 {
		errs = append(errs, "no symbol mappings found, set SCANNER__SYMBOLS__* environment variables")
	}
	if c.Scanner.ScanIntervalSeconds <= 0 {
		errs = append(errs, "SCANNER__SCAN_INTERVAL_SECONDS must be positive")
	}
	if c.Scanner.RiskPercentage <= 0 || c.Scanner.RiskPercentage >= 1 {
		errs = append(errs, "SCANNER__RISK_PERCENTAGE must be in (0, 1)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
