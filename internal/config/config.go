package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"briefing_scheduler/internal/priority"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	HTTP       HTTPConfig       `yaml:"http"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Worker     WorkerConfig     `yaml:"worker"`
	Reclaimer  ReclaimerConfig  `yaml:"reclaimer"`
	Content    ContentConfig    `yaml:"content"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Retention  RetentionConfig  `yaml:"retention"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RabbitMQConfig is optional; an empty URL disables job event publishing.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// RedisConfig is optional; an empty URL disables intake rate limiting.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	InternalToken   string        `yaml:"internal_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SchedulingConfig struct {
	// LeadTime is how long before scheduled_at a job becomes claimable.
	LeadTime      time.Duration `yaml:"lead_time"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	MaxAttempts   int           `yaml:"max_attempts"`
	WelcomeETA    time.Duration `yaml:"welcome_eta"`
	UrgentWindow  time.Duration `yaml:"urgent_window"`
	NormalWindow  time.Duration `yaml:"normal_window"`
}

type WorkerConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Concurrency       int           `yaml:"concurrency"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	IDPrefix          string        `yaml:"id_prefix"`
	MaxJobsPerRun     int           `yaml:"max_jobs_per_run"`
}

type ReclaimerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type ContentConfig struct {
	DefaultTTL      time.Duration            `yaml:"default_ttl"`
	TTL             map[string]time.Duration `yaml:"ttl"`
	WarnAfter       time.Duration            `yaml:"warn_after"`
	StaleAfter      time.Duration            `yaml:"stale_after"`
	CleanupInterval time.Duration            `yaml:"cleanup_interval"`
}

type IngestConfig struct {
	Interval time.Duration `yaml:"interval"`
	ECB      APIConfig     `yaml:"ecb"`
}

type APIConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"base_url"`
	PageSize int           `yaml:"page_size"`
	MaxPages int           `yaml:"max_pages"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type GeneratorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Stub    bool          `yaml:"stub"`
}

type ArtifactsConfig struct {
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentials_file"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl"`
	PublicBaseURL   string        `yaml:"public_base_url"`
}

type RetentionConfig struct {
	Jobs      time.Duration `yaml:"jobs"`
	Artifacts time.Duration `yaml:"artifacts"`
	Interval  time.Duration `yaml:"interval"`
	// DeleteArtifacts also removes cleared audio from the bucket. Off by
	// default: paths are only detached from their jobs.
	DeleteArtifacts bool `yaml:"delete_artifacts"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "briefings"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "jobs"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "briefing_job_events"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 15 * time.Second
	}
	policy := priority.DefaultPolicy()
	if c.Scheduling.LeadTime == 0 {
		c.Scheduling.LeadTime = policy.LeadTime
	}
	if c.Scheduling.LeaseDuration == 0 {
		c.Scheduling.LeaseDuration = 15 * time.Minute
	}
	if c.Scheduling.MaxAttempts == 0 {
		c.Scheduling.MaxAttempts = 3
	}
	if c.Scheduling.WelcomeETA == 0 {
		c.Scheduling.WelcomeETA = 3 * time.Minute
	}
	if c.Scheduling.UrgentWindow == 0 {
		c.Scheduling.UrgentWindow = policy.UrgentWindow
	}
	if c.Scheduling.NormalWindow == 0 {
		c.Scheduling.NormalWindow = policy.NormalWindow
	}
	if c.Worker.Interval == 0 {
		c.Worker.Interval = time.Minute
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.GenerationTimeout == 0 {
		c.Worker.GenerationTimeout = 10 * time.Minute
	}
	if c.Worker.IDPrefix == "" {
		c.Worker.IDPrefix = "worker"
	}
	if c.Worker.MaxJobsPerRun == 0 {
		c.Worker.MaxJobsPerRun = 1
	}
	if c.Reclaimer.Interval == 0 {
		c.Reclaimer.Interval = 2 * time.Minute
	}
	if c.Content.DefaultTTL == 0 {
		c.Content.DefaultTTL = 12 * time.Hour
	}
	if c.Content.WarnAfter == 0 {
		c.Content.WarnAfter = 6 * time.Hour
	}
	if c.Content.StaleAfter == 0 {
		c.Content.StaleAfter = 12 * time.Hour
	}
	if c.Content.CleanupInterval == 0 {
		c.Content.CleanupInterval = time.Hour
	}
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = 30 * time.Minute
	}
	if c.Ingest.ECB.PageSize == 0 {
		c.Ingest.ECB.PageSize = 20
	}
	if c.Ingest.ECB.MaxPages == 0 {
		c.Ingest.ECB.MaxPages = 2
	}
	if c.Ingest.ECB.Timeout == 0 {
		c.Ingest.ECB.Timeout = 30 * time.Second
	}
	if c.Ingest.ECB.Retry.MaxAttempts == 0 {
		c.Ingest.ECB.Retry.MaxAttempts = 3
	}
	if c.Ingest.ECB.Retry.InitialBackoff == 0 {
		c.Ingest.ECB.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Ingest.ECB.Retry.MaxBackoff == 0 {
		c.Ingest.ECB.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Generator.Timeout == 0 {
		c.Generator.Timeout = 5 * time.Minute
	}
	if c.Artifacts.SignedURLTTL == 0 {
		c.Artifacts.SignedURLTTL = time.Hour
	}
	if c.Retention.Jobs == 0 {
		c.Retention.Jobs = 30 * 24 * time.Hour
	}
	if c.Retention.Artifacts == 0 {
		c.Retention.Artifacts = 7 * 24 * time.Hour
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = 6 * time.Hour
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

func (c *Config) validate() error {
	if c.Scheduling.MaxAttempts < 1 {
		return fmt.Errorf("scheduling.max_attempts must be positive")
	}
	if c.Worker.GenerationTimeout >= c.Scheduling.LeaseDuration {
		return fmt.Errorf("worker.generation_timeout (%s) must be shorter than scheduling.lease_duration (%s)",
			c.Worker.GenerationTimeout, c.Scheduling.LeaseDuration)
	}
	if c.Scheduling.UrgentWindow > c.Scheduling.NormalWindow {
		return fmt.Errorf("scheduling.urgent_window must not exceed scheduling.normal_window")
	}
	if c.Content.WarnAfter > c.Content.StaleAfter {
		return fmt.Errorf("content.warn_after must not exceed content.stale_after")
	}
	return nil
}

// ContentTTL returns the freshness window for one content type.
func (c ContentConfig) ContentTTL(contentType string) time.Duration {
	if ttl, ok := c.TTL[contentType]; ok && ttl > 0 {
		return ttl
	}
	return c.DefaultTTL
}
