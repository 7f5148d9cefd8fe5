package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"storefront-events/internal/database"
	"storefront-events/internal/infrastructure/email"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Port     int
	LogLevel string

	Postgres database.PostgresConfig

	NotificationBackend string
	MongoURI            string
	MongoDatabase       string

	JWTSecret string
	JWTTTL    time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	WebhookTimeout      time.Duration
	Currency            string
	CODSurcharge        decimal.Decimal

	SMTP           email.SMTPConfig
	EmailWorkers   int
	EmailQueueSize int

	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration

	CORSOrigins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BLUEPRINT_DB_HOST", "localhost")
	v.SetDefault("BLUEPRINT_DB_PORT", "5432")
	v.SetDefault("BLUEPRINT_DB_DATABASE", "storefront")
	v.SetDefault("BLUEPRINT_DB_USERNAME", "postgres")
	v.SetDefault("BLUEPRINT_DB_PASSWORD", "postgres")
	v.SetDefault("BLUEPRINT_DB_SCHEMA", "public")
	v.SetDefault("NOTIFICATION_BACKEND", BackendPostgres)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "storefront")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("CURRENCY", "pkr")
	v.SetDefault("COD_SURCHARGE", "100")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("EMAIL_WORKERS", 2)
	v.SetDefault("EMAIL_QUEUE_SIZE", 256)
	v.SetDefault("RECONCILE_INTERVAL", "1m")
	v.SetDefault("RECONCILE_STALE_AFTER", "15m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	surcharge, err := decimal.NewFromString(v.GetString("COD_SURCHARGE"))
	if err != nil {
		return nil, fmt.Errorf("COD_SURCHARGE: %w", err)
	}

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),
		Postgres: database.PostgresConfig{
			Host:     v.GetString("BLUEPRINT_DB_HOST"),
			Port:     v.GetString("BLUEPRINT_DB_PORT"),
			Database: v.GetString("BLUEPRINT_DB_DATABASE"),
			Username: v.GetString("BLUEPRINT_DB_USERNAME"),
			Password: v.GetString("BLUEPRINT_DB_PASSWORD"),
			Schema:   v.GetString("BLUEPRINT_DB_SCHEMA"),
		},
		NotificationBackend: strings.ToLower(v.GetString("NOTIFICATION_BACKEND")),
		MongoURI:            v.GetString("MONGO_URI"),
		MongoDatabase:       v.GetString("MONGO_DB_NAME"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		JWTTTL:              v.GetDuration("JWT_TTL"),
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		WebhookTimeout:      v.GetDuration("WEBHOOK_TIMEOUT"),
		Currency:            strings.ToLower(v.GetString("CURRENCY")),
		CODSurcharge:        surcharge,
		SMTP: email.SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		EmailWorkers:        v.GetInt("EMAIL_WORKERS"),
		EmailQueueSize:      v.GetInt("EMAIL_QUEUE_SIZE"),
		ReconcileInterval:   v.GetDuration("RECONCILE_INTERVAL"),
		ReconcileStaleAfter: v.GetDuration("RECONCILE_STALE_AFTER"),
		CORSOrigins:         splitList(v.GetString("CORS_ORIGINS")),
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.NotificationBackend {
	case BackendPostgres, BackendMongo:
	default:
		return fmt.Errorf("NOTIFICATION_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMongo, c.NotificationBackend)
	}
	if c.CODSurcharge.IsNegative() {
		return fmt.Errorf("COD_SURCHARGE must not be negative")
	}
	if c.JWTTTL <= 0 || c.WebhookTimeout <= 0 || c.ReconcileInterval <= 0 {
		return fmt.Errorf("JWT_TTL, WEBHOOK_TIMEOUT and RECONCILE_INTERVAL must be positive")
	}
	return nil
}

// RequireSecrets checks the settings the HTTP server cannot run without.
func (c *Config) RequireSecrets() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewLogger builds the process JSON logger.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
