package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/voxnote/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Billing       BillingConfig       `yaml:"billing"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Usage         UsageConfig         `yaml:"usage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ClientURL is the browser-facing frontend used for payment redirects
	ClientURL   string   `yaml:"client_url"`
	CORSOrigins []string `yaml:"cors_origins"`
	// Requests per minute per client; 0 disables the limit
	AuthRateLimit int `yaml:"auth_rate_limit"`
	APIRateLimit  int `yaml:"api_rate_limit"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	// PlanSeedFile optionally overrides the built-in plan catalog seed
	PlanSeedFile string `yaml:"plan_seed_file"`
}

// RedisConfig holds Redis settings. Redis is optional.
type RedisConfig struct {
	URL             string        `yaml:"url"`
	WebhookDedupTTL time.Duration `yaml:"webhook_dedup_ttl"`
}

// AuthConfig holds token and password settings
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// BillingConfig holds Stripe settings
type BillingConfig struct {
	StripeSecretKey     string `yaml:"stripe_secret_key"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret"`
	// PriceIDs maps plan type to the Stripe price id
	PriceIDs map[string]string `yaml:"price_ids"`
}

// TranscriptionConfig holds the OpenAI-compatible provider settings
type TranscriptionConfig struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	TranscriptionModel string        `yaml:"transcription_model"`
	CompletionModel    string        `yaml:"completion_model"`
	Timeout            time.Duration `yaml:"timeout"`
	// RequestsPerSecond caps outbound provider calls; 0 disables the limit
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// AudioConfig holds upload and artifact storage settings
type AudioConfig struct {
	// ArtifactBackend is "filesystem" or "s3"
	ArtifactBackend string `yaml:"artifact_backend"`
	UploadDir       string `yaml:"upload_dir"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
	FFprobePath     string `yaml:"ffprobe_path"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3Region        string `yaml:"s3_region"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3AccessKey     string `yaml:"s3_access_key"`
	S3SecretKey     string `yaml:"s3_secret_key"`
	S3UsePathStyle  bool   `yaml:"s3_use_path_style"`
}

// SweeperConfig holds renewal sweeper settings
type SweeperConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Schedule          string        `yaml:"schedule"`
	Workers           int           `yaml:"workers"`
	RowTimeout        time.Duration `yaml:"row_timeout"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	BatchSize         int           `yaml:"batch_size"`
	MaxCatchUpPeriods int           `yaml:"max_catch_up_periods"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
}

// UsageConfig holds usage gate settings
type UsageConfig struct {
	RefundOnFailure bool `yaml:"refund_on_failure"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel           string  `yaml:"log_level"`
	MetricsEnabled     bool    `yaml:"metrics_enabled"`
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the tracing configuration
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ClientURL:       "http://localhost:5173",
			CORSOrigins:     []string{"*"},
			AuthRateLimit:   20,
			APIRateLimit:    300,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnectTimeout:  10 * time.Second,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			WebhookDedupTTL: 72 * time.Hour,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 12,
		},
		Billing: BillingConfig{
			PriceIDs: map[string]string{},
		},
		Transcription: TranscriptionConfig{
			BaseURL:            "https://api.lemonfox.ai/v1",
			TranscriptionModel: "whisper-1",
			CompletionModel:    "llama-70b-chat",
			Timeout:            90 * time.Second,
		},
		Audio: AudioConfig{
			ArtifactBackend: "filesystem",
			UploadDir:       "uploads",
			MaxUploadBytes:  20 * 1024 * 1024,
			FFprobePath:     "ffprobe",
			S3Region:        "us-east-1",
		},
		Sweeper: SweeperConfig{
			Enabled:           true,
			Schedule:          "0 0 * * *",
			Workers:           4,
			RowTimeout:        30 * time.Second,
			RunTimeout:        30 * time.Minute,
			BatchSize:         500,
			MaxCatchUpPeriods: 24,
			LockTTL:           30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "voxnote",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by VOXNOTE_CONFIG_FILE, then environment variables, and validates it.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("VOXNOTE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("VOXNOTE_HOST", s.Host)
	s.Port = getEnv("VOXNOTE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("VOXNOTE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("VOXNOTE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("VOXNOTE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("VOXNOTE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.ClientURL = getEnv("VOXNOTE_CLIENT_URL", getEnv("CLIENT_URL", s.ClientURL))
	s.CORSOrigins = getEnvList("VOXNOTE_CORS_ORIGINS", s.CORSOrigins)
	s.AuthRateLimit = getEnvInt("VOXNOTE_AUTH_RATE_LIMIT", s.AuthRateLimit)
	s.APIRateLimit = getEnvInt("VOXNOTE_API_RATE_LIMIT", s.APIRateLimit)

	d := &c.Database
	d.URL = getEnv("VOXNOTE_DATABASE_URL", getEnv("DATABASE_URL", d.URL))
	d.MaxOpenConns = getEnvInt("VOXNOTE_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("VOXNOTE_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("VOXNOTE_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnectTimeout = getEnvDuration("VOXNOTE_DATABASE_CONNECT_TIMEOUT", d.ConnectTimeout)
	d.AutoMigrate = getEnvBool("VOXNOTE_DATABASE_AUTO_MIGRATE", d.AutoMigrate)
	d.PlanSeedFile = getEnv("VOXNOTE_PLAN_SEED_FILE", d.PlanSeedFile)

	c.Redis.URL = getEnv("VOXNOTE_REDIS_URL", getEnv("REDIS_URL", c.Redis.URL))
	c.Redis.WebhookDedupTTL = getEnvDuration("VOXNOTE_WEBHOOK_DEDUP_TTL", c.Redis.WebhookDedupTTL)

	c.Auth.JWTSecret = getEnv("VOXNOTE_JWT_SECRET", getEnv("JWT_SECRET", c.Auth.JWTSecret))
	c.Auth.TokenTTL = getEnvDuration("VOXNOTE_TOKEN_TTL", c.Auth.TokenTTL)
	c.Auth.BcryptCost = getEnvInt("VOXNOTE_BCRYPT_COST", c.Auth.BcryptCost)

	b := &c.Billing
	b.StripeSecretKey = getEnv("VOXNOTE_STRIPE_SECRET_KEY", getEnv("STRIPE_SECRET_KEY", b.StripeSecretKey))
	b.StripeWebhookSecret = getEnv("VOXNOTE_STRIPE_WEBHOOK_SECRET", getEnv("STRIPE_WEBHOOK_SECRET", b.StripeWebhookSecret))
	if b.PriceIDs == nil {
		b.PriceIDs = map[string]string{}
	}
	for _, planType := range []string{"standard", "pro"} {
		key := "VOXNOTE_STRIPE_PRICE_" + strings.ToUpper(planType)
		if v := os.Getenv(key); v != "" {
			b.PriceIDs[planType] = v
		}
	}

	tr := &c.Transcription
	tr.BaseURL = getEnv("VOXNOTE_TRANSCRIPTION_BASE_URL", tr.BaseURL)
	tr.APIKey = getEnv("VOXNOTE_TRANSCRIPTION_API_KEY", getEnv("LEMONFOX_API_KEY", tr.APIKey))
	tr.TranscriptionModel = getEnv("VOXNOTE_TRANSCRIPTION_MODEL", tr.TranscriptionModel)
	tr.CompletionModel = getEnv("VOXNOTE_COMPLETION_MODEL", tr.CompletionModel)
	tr.Timeout = getEnvDuration("VOXNOTE_TRANSCRIPTION_TIMEOUT", tr.Timeout)
	tr.RequestsPerSecond = getEnvFloat("VOXNOTE_TRANSCRIPTION_RPS", tr.RequestsPerSecond)

	a := &c.Audio
	a.ArtifactBackend = getEnv("VOXNOTE_ARTIFACT_BACKEND", a.ArtifactBackend)
	a.UploadDir = getEnv("VOXNOTE_UPLOAD_DIR", a.UploadDir)
	a.MaxUploadBytes = getEnvInt64("VOXNOTE_MAX_UPLOAD_BYTES", a.MaxUploadBytes)
	a.FFprobePath = getEnv("VOXNOTE_FFPROBE_PATH", a.FFprobePath)
	a.S3Endpoint = getEnv("VOXNOTE_S3_ENDPOINT", a.S3Endpoint)
	a.S3Region = getEnv("VOXNOTE_S3_REGION", a.S3Region)
	a.S3Bucket = getEnv("VOXNOTE_S3_BUCKET", a.S3Bucket)
	a.S3AccessKey = getEnv("VOXNOTE_S3_ACCESS_KEY", a.S3AccessKey)
	a.S3SecretKey = getEnv("VOXNOTE_S3_SECRET_KEY", a.S3SecretKey)
	a.S3UsePathStyle = getEnvBool("VOXNOTE_S3_USE_PATH_STYLE", a.S3UsePathStyle)

	sw := &c.Sweeper
	sw.Enabled = getEnvBool("VOXNOTE_SWEEPER_ENABLED", sw.Enabled)
	sw.Schedule = getEnv("VOXNOTE_SWEEPER_SCHEDULE", sw.Schedule)
	sw.Workers = getEnvInt("VOXNOTE_SWEEPER_WORKERS", sw.Workers)
	sw.RowTimeout = getEnvDuration("VOXNOTE_SWEEPER_ROW_TIMEOUT", sw.RowTimeout)
	sw.RunTimeout = getEnvDuration("VOXNOTE_SWEEPER_RUN_TIMEOUT", sw.RunTimeout)
	sw.BatchSize = getEnvInt("VOXNOTE_SWEEPER_BATCH_SIZE", sw.BatchSize)
	sw.MaxCatchUpPeriods = getEnvInt("VOXNOTE_SWEEPER_MAX_CATCH_UP", sw.MaxCatchUpPeriods)
	sw.LockTTL = getEnvDuration("VOXNOTE_SWEEPER_LOCK_TTL", sw.LockTTL)

	c.Usage.RefundOnFailure = getEnvBool("VOXNOTE_REFUND_ON_FAILURE", c.Usage.RefundOnFailure)

	o := &c.Observability
	o.LogLevel = getEnv("VOXNOTE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("VOXNOTE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("VOXNOTE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("VOXNOTE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("VOXNOTE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("VOXNOTE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("VOXNOTE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("VOXNOTE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Audio.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	switch c.Audio.ArtifactBackend {
	case "filesystem":
		if c.Audio.UploadDir == "" {
			return fmt.Errorf("upload dir is required for filesystem artifacts")
		}
	case "s3":
		if c.Audio.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 artifacts")
		}
	default:
		return fmt.Errorf("invalid artifact backend: %s (must be filesystem or s3)", c.Audio.ArtifactBackend)
	}

	if c.Sweeper.Enabled {
		if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
			return fmt.Errorf("invalid sweeper schedule %q: %w", c.Sweeper.Schedule, err)
		}
	}
	if c.Sweeper.Workers < 1 {
		return fmt.Errorf("sweeper workers must be at least 1")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// BillingEnabled reports whether Stripe credentials are configured
func (c *Config) BillingEnabled() bool {
	return c.Billing.StripeSecretKey != "" && c.Billing.StripeWebhookSecret != ""
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
