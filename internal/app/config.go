package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/myshop-backend/internal/clients/redis"
	"github.com/yungbote/myshop-backend/internal/clients/sendgrid"
	"github.com/yungbote/myshop-backend/internal/data/db"
	httpserver "github.com/yungbote/myshop-backend/internal/http"
	"github.com/yungbote/myshop-backend/internal/jobs/tasks"
	"github.com/yungbote/myshop-backend/internal/jobs/worker"
	"github.com/yungbote/myshop-backend/internal/observability"
	"github.com/yungbote/myshop-backend/internal/platform/envutil"
	"github.com/yungbote/myshop-backend/internal/recommend/scorestore"
)

const configPathEnv = "MYSHOP_CONFIG_PATH"

type StripeConfig struct {
	WebhookSecret string        `yaml:"webhook_secret"`
	Tolerance     time.Duration `yaml:"tolerance"`
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	StaleRunning time.Duration `yaml:"stale_running"`
}

type Config struct {
	Env         string                   `yaml:"env"`
	HTTP        httpserver.ServerConfig  `yaml:"http"`
	CORSOrigins []string                 `yaml:"cors_origins"`
	AdminToken  string                   `yaml:"admin_token"`
	Postgres    db.PostgresConfig        `yaml:"postgres"`
	Redis       redis.Config             `yaml:"redis"`
	Stripe      StripeConfig             `yaml:"stripe"`
	Worker      WorkerConfig             `yaml:"worker"`
	Otel        observability.OtelConfig `yaml:"otel"`
	SendGrid    sendgrid.Config          `yaml:"sendgrid"`

	InvoicesPerMinute int           `yaml:"invoices_per_minute"`
	RecommendTempTTL  time.Duration `yaml:"recommend_temp_ttl"`
	QueueMetricsEvery time.Duration `yaml:"queue_metrics_every"`
}

func defaultConfig() *Config {
	w := worker.DefaultConfig()
	return &Config{
		Env: "development",
		HTTP: httpserver.ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   15 * time.Second,
		},
		Postgres: db.PostgresConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "myshop",
			SSLMode: "disable",
		},
		Redis: redis.Config{Addr: "localhost:6379"},
		Worker: WorkerConfig{
			Concurrency:  w.Concurrency,
			PollInterval: w.PollInterval,
			MaxAttempts:  w.MaxAttempts,
			RetryDelay:   w.RetryDelay,
			StaleRunning: w.StaleRunning,
		},
		Otel:              observability.OtelConfig{ServiceName: "myshop", SampleRatio: 0.1},
		InvoicesPerMinute: tasks.DefaultInvoicesPerMinute,
		RecommendTempTTL:  scorestore.DefaultTempTTL,
		QueueMetricsEvery: 15 * time.Second,
	}
}

// LoadConfig reads the optional YAML file named by MYSHOP_CONFIG_PATH, then
// applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := strings.TrimSpace(os.Getenv(configPathEnv)); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", cfg.Env)
	cfg.HTTP.Addr = envutil.String("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.AdminToken = envutil.String("ADMIN_TOKEN", cfg.AdminToken)
	if origins := envutil.String("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	cfg.Postgres.Host = envutil.String("POSTGRES_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = envutil.String("POSTGRES_PORT", cfg.Postgres.Port)
	cfg.Postgres.User = envutil.String("POSTGRES_USER", cfg.Postgres.User)
	cfg.Postgres.Password = envutil.String("POSTGRES_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.Name = envutil.String("POSTGRES_NAME", cfg.Postgres.Name)
	cfg.Postgres.SSLMode = envutil.String("POSTGRES_SSLMODE", cfg.Postgres.SSLMode)

	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envutil.String("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envutil.Int("REDIS_DB", cfg.Redis.DB)

	cfg.Stripe.WebhookSecret = envutil.String("STRIPE_WEBHOOK_SECRET", cfg.Stripe.WebhookSecret)
	cfg.Stripe.Tolerance = envutil.Seconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", cfg.Stripe.Tolerance)

	cfg.SendGrid.APIKey = envutil.String("SENDGRID_API_KEY", cfg.SendGrid.APIKey)
	cfg.SendGrid.FromEmail = envutil.String("SENDGRID_FROM_EMAIL", cfg.SendGrid.FromEmail)
	cfg.SendGrid.FromName = envutil.String("SENDGRID_FROM_NAME", cfg.SendGrid.FromName)
	cfg.SendGrid.BaseURL = envutil.String("SENDGRID_BASE_URL", cfg.SendGrid.BaseURL)

	cfg.Worker.Concurrency = envutil.Int("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.InvoicesPerMinute = envutil.Int("INVOICE_SENDS_PER_MINUTE", cfg.InvoicesPerMinute)
	cfg.RecommendTempTTL = envutil.Seconds("RECOMMEND_TEMP_TTL_SECONDS", cfg.RecommendTempTTL)

	cfg.Otel.Enabled = envutil.Bool("OTEL_ENABLED", cfg.Otel.Enabled)
	cfg.Otel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Otel.Endpoint)
	cfg.Otel.Headers = envutil.String("OTEL_EXPORTER_OTLP_HEADERS", cfg.Otel.Headers)
	cfg.Otel.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Otel.Insecure)
	cfg.Otel.Environment = envutil.String("OTEL_ENVIRONMENT", cfg.Otel.Environment)
	cfg.Otel.SampleRatio = observability.ParseSampleRatio(os.Getenv("OTEL_SAMPLE_RATIO"), cfg.Otel.SampleRatio)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		return errors.New("stripe webhook secret is required (STRIPE_WEBHOOK_SECRET)")
	}
	if c.InvoicesPerMinute <= 0 {
		return fmt.Errorf("invoices_per_minute must be positive, got %d", c.InvoicesPerMinute)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	return nil
}

func (c *Config) workerConfig() worker.Config {
	return worker.Config{
		Concurrency:  c.Worker.Concurrency,
		PollInterval: c.Worker.PollInterval,
		MaxAttempts:  c.Worker.MaxAttempts,
		RetryDelay:   c.Worker.RetryDelay,
		StaleRunning: c.Worker.StaleRunning,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
