package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Workflow     WorkflowConfig
	Media        MediaConfig
	Push         PushConfig
	Slack        SlackConfig
	Scheduler    SchedulerConfig
	Telemetry    TelemetryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitMB           int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string
	Format string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// NotificationConfig bounds the notification fan-out.
type NotificationConfig struct {
	FanOutLimit int
	SendTimeout time.Duration
}

// WorkflowConfig tunes the ticket engine.
type WorkflowConfig struct {
	EvidenceRetention      time.Duration
	EvidencePlaceholderURL string
	DefaultPlant           string
	PolicyFile             string
	MaxEvidenceFiles       int
}

// MediaConfig points at the Cloudinary account storing evidence.
type MediaConfig struct {
	CloudName          string
	APIKey             string
	APISecret          string
	Folder             string
	DeletionQueueKey   string
	CleanupPollSeconds int
}

// Enabled reports whether Cloudinary credentials are present.
func (m MediaConfig) Enabled() bool {
	return m.CloudName != "" && m.APIKey != "" && m.APISecret != ""
}

// PushConfig holds VAPID credentials for browser push.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTLSeconds      int
}

// Enabled reports whether VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// SlackConfig mirrors supervisor notifications to a channel.
type SlackConfig struct {
	BotToken string
	Channel  string
}

// Enabled reports whether the Slack mirror is configured.
func (s SlackConfig) Enabled() bool {
	return s.BotToken != "" && s.Channel != ""
}

// SchedulerConfig holds cron specs for housekeeping jobs.
type SchedulerConfig struct {
	AuditPruneSpec     string
	EvidenceSweepSpec  string
	AuditRetentionDays int
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	retention, err := time.ParseDuration(getEnv("EVIDENCE_RETENTION", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVIDENCE_RETENTION: %w", err)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("invalid EVIDENCE_RETENTION: must be positive")
	}

	sendTimeout, err := time.ParseDuration(getEnv("NOTIFY_SEND_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_SEND_TIMEOUT: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "maintenance-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			BodyLimitMB:           getEnvAsInt("HTTP_BODY_LIMIT_MB", 25),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60*12),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Notification: NotificationConfig{
			FanOutLimit: getEnvAsInt("NOTIFY_FANOUT_LIMIT", 8),
			SendTimeout: sendTimeout,
		},
		Workflow: WorkflowConfig{
			EvidenceRetention:      retention,
			EvidencePlaceholderURL: getEnv("EVIDENCE_PLACEHOLDER_URL", "/img/no-image.avif"),
			DefaultPlant:           getEnv("DEFAULT_PLANT", "KAPPA"),
			PolicyFile:             os.Getenv("WORKFLOW_POLICY_FILE"),
			MaxEvidenceFiles:       getEnvAsInt("EVIDENCE_MAX_FILES", 5),
		},
		Media: MediaConfig{
			CloudName:          os.Getenv("CLOUDINARY_CLOUD_NAME"),
			APIKey:             os.Getenv("CLOUDINARY_API_KEY"),
			APISecret:          os.Getenv("CLOUDINARY_API_SECRET"),
			Folder:             getEnv("CLOUDINARY_FOLDER", "Mantenimiento/Tareas"),
			DeletionQueueKey:   getEnv("MEDIA_DELETION_QUEUE", "media:deletions"),
			CleanupPollSeconds: getEnvAsInt("MEDIA_CLEANUP_POLL_SECONDS", 5),
		},
		Push: PushConfig{
			VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subscriber:      getEnv("VAPID_SUBJECT", "mailto:mantenimiento@example.com"),
			TTLSeconds:      getEnvAsInt("PUSH_TTL_SECONDS", 60*60*24),
		},
		Slack: SlackConfig{
			BotToken: os.Getenv("SLACK_BOT_TOKEN"),
			Channel:  os.Getenv("SLACK_CHANNEL"),
		},
		Scheduler: SchedulerConfig{
			AuditPruneSpec:     getEnv("AUDIT_PRUNE_CRON", "0 3 * * *"),
			EvidenceSweepSpec:  getEnv("EVIDENCE_SWEEP_CRON", "@hourly"),
			AuditRetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 180),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:     getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}

	if cfg.Notification.FanOutLimit <= 0 {
		cfg.Notification.FanOutLimit = 1
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the JWT lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// AuditRetention returns the audit log retention window.
func (s SchedulerConfig) AuditRetention() time.Duration {
	return time.Duration(s.AuditRetentionDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
