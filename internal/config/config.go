package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"cinema-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`

	LedgerDriver   string `envconfig:"LEDGER_DRIVER" default:"postgres"`
	DBHost         string `envconfig:"DB_HOST" default:"localhost"`
	DBPort         int    `envconfig:"DB_PORT" default:"5432"`
	DBUser         string `envconfig:"DB_USER" default:"postgres"`
	DBPassword     string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName         string `envconfig:"DB_NAME" default:"cinema"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"internal/ledger/migrations"`

	CatalogDBPath         string `envconfig:"CATALOG_DB_PATH" default:"catalog.db"`
	CatalogMigrationsPath string `envconfig:"CATALOG_MIGRATIONS_PATH" default:"internal/catalog/migrations"`

	MongoURI      string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDBName   string `envconfig:"MONGO_DB_NAME" default:"cinema"`
	MongoMaxPool  uint64 `envconfig:"MONGO_MAX_POOL_SIZE" default:"100"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	CartCachePrefix string        `envconfig:"CART_CACHE_PREFIX" default:"cinema:cart"`
	CartCacheTTL    time.Duration `envconfig:"CART_CACHE_TTL" default:"15m"`
	CartCacheJitter time.Duration `envconfig:"CART_CACHE_JITTER" default:"5m"`

	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	OrderEventsTopic  string   `envconfig:"ORDER_EVENTS_TOPIC" default:"order-events"`
	NotificationGroup string   `envconfig:"NOTIFICATION_GROUP" default:"cinema-notifications"`

	PaymentProvider     string        `envconfig:"PAYMENT_PROVIDER" default:"sandbox"`
	PaymentTimeout      time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`
	PaymentReturnURL    string        `envconfig:"PAYMENT_RETURN_URL" default:"http://localhost:8080/payments/complete"`
	Currency            string        `envconfig:"CURRENCY" default:"USD"`
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	OmisePublicKey      string        `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey      string        `envconfig:"OMISE_SECRET_KEY"`
	OmiseSourceType     string        `envconfig:"OMISE_SOURCE_TYPE" default:"promptpay"`
	SandboxBaseURL      string        `envconfig:"SANDBOX_BASE_URL" default:"http://localhost:8080/sandbox/pay"`
	WebhookToken        string        `envconfig:"WEBHOOK_TOKEN"`
	BreakerMaxFailures  uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout  time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"no-reply@cinema.local"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Environment  string `envconfig:"ENV" default:"dev"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	c.LedgerDriver = strings.ToLower(c.LedgerDriver)
	if c.LedgerDriver != "postgres" && c.LedgerDriver != "memory" {
		return fmt.Errorf("LEDGER_DRIVER must be postgres or memory, got %q", c.LedgerDriver)
	}

	c.PaymentProvider = strings.ToLower(c.PaymentProvider)
	switch c.PaymentProvider {
	case "stripe":
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			return errors.New("stripe provider requires STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET")
		}
	case "omise":
		if c.OmisePublicKey == "" || c.OmiseSecretKey == "" {
			return errors.New("omise provider requires OMISE_PUBLIC_KEY and OMISE_SECRET_KEY")
		}
	case "sandbox":
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be stripe, omise or sandbox, got %q", c.PaymentProvider)
	}

	if c.PaymentTimeout <= 0 {
		return errors.New("PAYMENT_TIMEOUT must be positive")
	}
	c.Currency = strings.ToUpper(c.Currency)
	return nil
}
