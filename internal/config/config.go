package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Cache    CacheConfig
	Database DatabaseConfig
	ReportDB ReportDBConfig
	Billing  BillingConfig
	KV       KVConfig
	Payment  PaymentConfig
	Provider ProviderConfig
	Share    ShareConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"vinreports-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LoginKey    string `envconfig:"LOGIN_KEY" default:""` // Admin dashboard login key
}

// CacheConfig holds plate-lookup cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"1h"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds MySQL connection settings (for user accounts).
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"vinreports"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
}

// ReportDBConfig holds report cache database settings.
type ReportDBConfig struct {
	Type string `envconfig:"REPORT_DB_TYPE" default:"sqlite"` // sqlite, postgres, or mongodb
	Path string `envconfig:"REPORT_DB_PATH" default:"./data/reports.db"`
	// PostgreSQL settings
	Host     string `envconfig:"REPORT_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"REPORT_DB_PORT" default:"5432"`
	Name     string `envconfig:"REPORT_DB_NAME" default:"vinreports"`
	User     string `envconfig:"REPORT_DB_USER" default:"postgres"`
	Password string `envconfig:"REPORT_DB_PASS" default:""`
	SSLMode  string `envconfig:"REPORT_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"vinreports"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"report_cache"`
}

// BillingConfig holds the credit/ledger database settings.
type BillingConfig struct {
	Path string `envconfig:"BILLING_DB_PATH" default:"./data/billing.db"`
}

// KVConfig holds the key/value store settings (consumed receipts, share tokens).
type KVConfig struct {
	Path string `envconfig:"KV_DB_PATH" default:"./data/keys.db"`
}

// PaymentConfig holds external payment processor settings.
type PaymentConfig struct {
	SessionBaseURL string        `envconfig:"PAYMENT_SESSION_BASE_URL" default:"https://api.payproc.example.com"`
	SessionSecret  string        `envconfig:"PAYMENT_SESSION_SECRET" default:""`
	CaptureBaseURL string        `envconfig:"PAYMENT_CAPTURE_BASE_URL" default:"https://api.captureproc.example.com"`
	CaptureSecret  string        `envconfig:"PAYMENT_CAPTURE_SECRET" default:""`
	WebhookSecret  string        `envconfig:"PAYMENT_WEBHOOK_SECRET" default:""`
	SuccessURL     string        `envconfig:"PAYMENT_SUCCESS_URL" default:"http://localhost:8080/checkout/success"`
	CancelURL      string        `envconfig:"PAYMENT_CANCEL_URL" default:"http://localhost:8080/checkout/cancel"`
	Timeout        time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`
	// PriceTable maps processor price ids to credit amounts,
	// e.g. "price_single=1,price_bundle5=5,price_report=1"
	PriceTable string `envconfig:"PAYMENT_PRICE_TABLE" default:""`
}

// ProviderConfig holds external report provider settings.
type ProviderConfig struct {
	BaseURL      string        `envconfig:"PROVIDER_BASE_URL" default:"https://reports.provider.example.com"`
	APIKey       string        `envconfig:"PROVIDER_API_KEY" default:""`
	FetchTimeout time.Duration `envconfig:"PROVIDER_FETCH_TIMEOUT" default:"45s"`
}

// ShareConfig holds share-link settings.
type ShareConfig struct {
	TTL             time.Duration `envconfig:"SHARE_TTL" default:"24h"`
	CleanupInterval time.Duration `envconfig:"SHARE_CLEANUP_INTERVAL" default:"1h"`
	BaseURL         string        `envconfig:"SHARE_BASE_URL" default:"http://localhost:8080"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (r *ReportDBConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		r.User, r.Password, r.Host, r.Port, r.Name, r.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// PriceCredits parses the price table into a priceID -> credits map.
// Malformed entries are skipped.
func (p *PaymentConfig) PriceCredits() map[string]int64 {
	table := make(map[string]int64)
	for _, pair := range strings.Split(p.PriceTable, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		credits, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || credits <= 0 {
			continue
		}
		table[strings.TrimSpace(parts[0])] = credits
	}
	return table
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
