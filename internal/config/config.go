package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string   `envconfig:"PORT" default:"8080"`
	Environment        string   `envconfig:"ENV" default:"production"`
	LogLevel           string   `envconfig:"LOG_LEVEL" default:"info"`
	DBConnectionString string   `envconfig:"DB_CONNECTION_STRING" required:"true"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Identity: Supabase access tokens
	JWTSecret       string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`
	JWTAdditionalPK string `envconfig:"SUPABASE_JWT_PUBLIC_KEY"`

	// Storage for uploaded assets (S3-compatible)
	S3URL          string `envconfig:"SUPABASE_S3_URL" required:"true"`
	S3Bucket       string `envconfig:"SUPABASE_S3_BUCKET" required:"true"`
	S3Region       string `envconfig:"SUPABASE_S3_REGION" required:"true"`
	S3AccessKey    string `envconfig:"SUPABASE_S3_ACCESS_KEY" required:"true"`
	S3SecretKey    string `envconfig:"SUPABASE_S3_SECRET_KEY" required:"true"`
	AssetURLTTLMin int    `envconfig:"ASSET_URL_TTL_MIN" default:"15"`

	// Stripe
	StripeSecretKey           string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret       string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookSecretName   string `envconfig:"STRIPE_WEBHOOK_SECRET_NAME"`
	StripeWebhookToleranceSec int    `envconfig:"STRIPE_WEBHOOK_TOLERANCE_SEC" default:"300"`
	StripeTimeoutSec          int    `envconfig:"STRIPE_TIMEOUT_SEC" default:"15"`
	StripePriceStarter        string `envconfig:"STRIPE_PRICE_STARTER"`
	StripePriceCreator        string `envconfig:"STRIPE_PRICE_CREATOR"`
	StripePriceAgency         string `envconfig:"STRIPE_PRICE_AGENCY"`
	AppURL                    string `envconfig:"APP_URL" default:"http://localhost:3000"`

	// Generation backend
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIAPIKeyName     string `envconfig:"OPENAI_API_KEY_SECRET_NAME"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel          string `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
	GenerationTimeoutSec int    `envconfig:"GENERATION_TIMEOUT_SEC" default:"60"`

	// Credits
	CanceledBalanceFloor int64 `envconfig:"CANCELED_BALANCE_FLOOR" default:"10"`

	// Rate limiting; disabled when REDIS_URL is empty
	RedisURL              string `envconfig:"REDIS_URL"`
	GenerateRateLimit     int    `envconfig:"GENERATE_RATE_LIMIT" default:"30"`
	GenerateRateWindowSec int    `envconfig:"GENERATE_RATE_WINDOW_SEC" default:"60"`

	// Google Cloud
	GCPProjectID      string `envconfig:"GCP_PROJECT_ID"`
	GCPProjectIDLocal string `envconfig:"GCP_PROJECT_ID_LOCAL"`
	ActivityTopic     string `envconfig:"PUBSUB_ACTIVITY_TOPIC" default:"activity-events"`

	// Reconcile orchestrator settings
	ReconcileQueueName           string `envconfig:"RECONCILE_QUEUE_NAME" default:"balance_reconcile"`
	ReconcilePollTimeoutSec      int    `envconfig:"RECONCILE_POLL_TIMEOUT_SEC" default:"30"`
	ReconcilePollMaxMsg          int    `envconfig:"RECONCILE_POLL_MAX_MSG" default:"10"`
	ReconcileMaxRetries          int    `envconfig:"RECONCILE_MAX_RETRIES" default:"5"`
	ReconcileBackoffInitialSec   int    `envconfig:"RECONCILE_BACKOFF_INITIAL_SEC" default:"1"`
	ReconcileBackoffMaxSec       int    `envconfig:"RECONCILE_BACKOFF_MAX_SEC" default:"60"`
	ReconcileDeadLetterQueueName string `envconfig:"RECONCILE_DEAD_LETTER_QUEUE_NAME" default:"balance_reconcile_dlq"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks constraints that span several fields.
func (c *Config) Validate() error {
	var errs []error
	if c.StripeWebhookSecret == "" && c.StripeWebhookSecretName == "" {
		errs = append(errs, errors.New("one of STRIPE_WEBHOOK_SECRET or STRIPE_WEBHOOK_SECRET_NAME is required"))
	}
	if c.StripeWebhookSecretName != "" && c.GetGCPProjectID() == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET_NAME requires a GCP project id"))
	}
	if c.StripeWebhookToleranceSec <= 0 {
		errs = append(errs, fmt.Errorf("STRIPE_WEBHOOK_TOLERANCE_SEC must be positive, got %d", c.StripeWebhookToleranceSec))
	}
	if c.CanceledBalanceFloor < 0 {
		errs = append(errs, fmt.Errorf("CANCELED_BALANCE_FLOOR must not be negative, got %d", c.CanceledBalanceFloor))
	}
	if c.GenerationTimeoutSec <= 0 || c.StripeTimeoutSec <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT_SEC and STRIPE_TIMEOUT_SEC must be positive"))
	}
	if c.GenerateRateLimit <= 0 || c.GenerateRateWindowSec <= 0 {
		errs = append(errs, errors.New("GENERATE_RATE_LIMIT and GENERATE_RATE_WINDOW_SEC must be positive"))
	}
	return errors.Join(errs...)
}

// GetGCPProjectID returns the project for the current environment.
func (c *Config) GetGCPProjectID() string {
	if c.Environment == "development" && c.GCPProjectIDLocal != "" {
		return c.GCPProjectIDLocal
	}
	return c.GCPProjectID
}

// PriceForPlan returns the configured Stripe price id of a paid plan.
func (c *Config) PriceForPlan(plan string) (string, bool) {
	var id string
	switch plan {
	case "starter":
		id = c.StripePriceStarter
	case "creator":
		id = c.StripePriceCreator
	case "agency":
		id = c.StripePriceAgency
	}
	return id, id != ""
}

func (c *Config) WebhookTolerance() time.Duration {
	return time.Duration(c.StripeWebhookToleranceSec) * time.Second
}

func (c *Config) StripeTimeout() time.Duration {
	return time.Duration(c.StripeTimeoutSec) * time.Second
}

func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

func (c *Config) AssetURLTTL() time.Duration {
	return time.Duration(c.AssetURLTTLMin) * time.Minute
}

func (c *Config) GenerateRateWindow() time.Duration {
	return time.Duration(c.GenerateRateWindowSec) * time.Second
}

// DSN returns the database connection string adjusted for the environment.
// Development connections default to sslmode=disable. Elsewhere the simple
// query protocol is forced because the database sits behind a transaction
// pooler that cannot hold server-side prepared statements.
func (c *Config) DSN() string {
	dsn := c.DBConnectionString
	isURL := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	add := func(param string) {
		switch {
		case !isURL:
			dsn += " " + param
		case strings.Contains(dsn, "?"):
			dsn += "&" + param
		default:
			dsn += "?" + param
		}
	}
	if c.Environment == "development" {
		if !strings.Contains(dsn, "sslmode") {
			add("sslmode=disable")
		}
		return dsn
	}
	if !strings.Contains(dsn, "default_query_exec_mode") {
		add("default_query_exec_mode=simple_protocol")
	}
	return dsn
}
