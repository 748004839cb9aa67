package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config agrupa toda la configuración del backend. Se carga una sola vez en
// main y se inyecta a los constructores; la lógica de negocio nunca lee el
// entorno directamente.
type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	SessionSecret string

	// AppBaseURL is the public URL of the app, used to build referral links.
	AppBaseURL string

	// ReminderHour is the local hour (0-23) at which the trial reminder
	// scan runs each day.
	ReminderHour int
}

// Load reads .env (if present) and builds the Config from environment
// variables. Defaults mirror local development.
func Load() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{
		DBUser:              os.Getenv("DB_USER"),
		DBPassword:          os.Getenv("DB_PASSWORD"),
		DBHost:              getenv("DB_HOST", "127.0.0.1"),
		DBPort:              getenv("DB_PORT", "3306"),
		DBName:              getenv("DB_NAME", "aula"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:    getenv("STRIPE_SUCCESS_URL", "https://example.com/checkout/success"),
		StripeCancelURL:     getenv("STRIPE_CANCEL_URL", "https://example.com/checkout/cancel"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            os.Getenv("SMTP_PORT"),
		SMTPUser:            os.Getenv("SMTP_USER"),
		SMTPPass:            os.Getenv("SMTP_PASS"),
		SMTPFrom:            os.Getenv("SMTP_FROM"),
		SessionSecret:       getenv("SESSION_SECRET", "dev-insecure-secret"),
		AppBaseURL:          getenv("APP_BASE_URL", "https://app.example.com"),
		ReminderHour:        8,
	}
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUser
	}
	if v := os.Getenv("REMINDER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.ReminderHour = n
		}
	}
	return cfg
}

// DSN returns the MySQL data source name for the configured database.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// AdminDSN returns a DSN without database, used to create it on first run.
func (c *Config) AdminDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/?parseTime=true", c.DBUser, c.DBPassword, c.DBHost, c.DBPort)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
