package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration. It is loaded once at startup
// and passed by value into component constructors; nothing reads the
// environment after Load returns.
type Config struct {
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Lock     LockConfig     `mapstructure:"lock"`
	Region   RegionConfig   `mapstructure:"region"`
	Mail     MailConfig     `mapstructure:"mail"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sink     SinkConfig     `mapstructure:"sink"`
	AWS      AWSConfig      `mapstructure:"aws"`
}

// DispatchConfig holds the batch pipeline settings.
type DispatchConfig struct {
	SenderAddress        string        `mapstructure:"sender_address"`
	DefaultRegion        string        `mapstructure:"default_region"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	Concurrency          int           `mapstructure:"concurrency"`
	RecordTimeout        time.Duration `mapstructure:"record_timeout"`
	ReleaseLockOnFailure bool          `mapstructure:"release_lock_on_failure"`
}

// LockConfig selects and configures the dispatch lock store.
type LockConfig struct {
	Backend   string `mapstructure:"backend"` // dynamodb, redis, postgres, memory
	Table     string `mapstructure:"table"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RegionConfig selects and configures the service-to-region mapping store.
type RegionConfig struct {
	Backend  string            `mapstructure:"backend"` // dynamodb, redis, postgres, static
	Table    string            `mapstructure:"table"`
	CacheTTL time.Duration     `mapstructure:"cache_ttl"`
	Static   map[string]string `mapstructure:"static"`
}

// MailConfig selects the mail transport.
type MailConfig struct {
	Transport        string        `mapstructure:"transport"` // ses, smtp, stdout
	SMTPHostTemplate string        `mapstructure:"smtp_host_template"`
	SMTPPort         int           `mapstructure:"smtp_port"`
	SMTPUsername     string        `mapstructure:"smtp_username"`
	SMTPPassword     string        `mapstructure:"smtp_password"`
	SMTPStartTLS     bool          `mapstructure:"smtp_starttls"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// QueueConfig holds SQS settings for the long-poll worker.
type QueueConfig struct {
	SQSQueueURL   string `mapstructure:"sqs_queue_url"`
	SQSRegion     string `mapstructure:"sqs_region"`
	SQSWaitTime   int32  `mapstructure:"sqs_wait_time"`
	SQSVisTimeout int32  `mapstructure:"sqs_visibility_timeout"`
	MaxMessages   int32  `mapstructure:"max_messages"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// MetricsConfig holds the listen address of the metrics/health server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SinkConfig holds the local SMTP sink settings used by the sink command.
type SinkConfig struct {
	Addr            string        `mapstructure:"addr"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	Capacity        int           `mapstructure:"capacity"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// AWSConfig holds settings shared by the DynamoDB and SES clients.
type AWSConfig struct {
	// Region for DynamoDB and the shared SES client. Empty falls back to
	// queue.sqs_region, then to AWS_REGION.
	Region string `mapstructure:"region"`
}

// Load reads configuration from config.yaml in configPath. The file is
// optional: a Lambda deployment is configured through the environment only.
// A .env file in the working directory is loaded first when present.
// Environment variables with prefix MAIL_DISPATCHER_ override file values,
// e.g. MAIL_DISPATCHER_DISPATCH_LOCK_TTL overrides dispatch.lock_ttl.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAIL_DISPATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file %s: %w", filepath.Join(configPath, "config.yaml"), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dispatch.sender_address", "")
	v.SetDefault("dispatch.default_region", "")
	v.SetDefault("dispatch.lock_ttl", 0)
	v.SetDefault("dispatch.concurrency", 10)
	v.SetDefault("dispatch.record_timeout", 30*time.Second)
	v.SetDefault("dispatch.release_lock_on_failure", false)

	v.SetDefault("lock.backend", "dynamodb")
	v.SetDefault("lock.table", "MailQueueLockTable")
	v.SetDefault("lock.key_prefix", "")

	v.SetDefault("region.backend", "dynamodb")
	v.SetDefault("region.table", "SesRegionManagement")
	v.SetDefault("region.cache_ttl", 5*time.Minute)

	v.SetDefault("mail.transport", "ses")
	v.SetDefault("mail.smtp_host_template", "email-smtp.%s.amazonaws.com")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.smtp_username", "")
	v.SetDefault("mail.smtp_password", "")
	v.SetDefault("mail.smtp_starttls", true)
	v.SetDefault("mail.timeout", 30*time.Second)

	v.SetDefault("queue.sqs_queue_url", "")
	v.SetDefault("queue.sqs_region", "")
	v.SetDefault("queue.sqs_wait_time", 20)
	v.SetDefault("queue.sqs_visibility_timeout", 30)
	v.SetDefault("queue.max_messages", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_min", 1)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("aws.region", "")

	v.SetDefault("sink.addr", "127.0.0.1:2525")
	v.SetDefault("sink.username", "")
	v.SetDefault("sink.password", "")
	v.SetDefault("sink.max_connections", 10)
	v.SetDefault("sink.max_message_bytes", 10*1024*1024)
	v.SetDefault("sink.capacity", 100)
	v.SetDefault("sink.read_timeout", 60*time.Second)
	v.SetDefault("sink.write_timeout", 60*time.Second)
}

// Validate checks required fields and enumerated values.
func (c *Config) Validate() error {
	var errs []error

	if c.Dispatch.SenderAddress == "" {
		errs = append(errs, errors.New("dispatch.sender_address is required"))
	}
	if c.Dispatch.DefaultRegion == "" {
		errs = append(errs, errors.New("dispatch.default_region is required"))
	}
	if c.Dispatch.LockTTL <= 0 {
		errs = append(errs, errors.New("dispatch.lock_ttl must be positive"))
	}
	if c.Dispatch.Concurrency < 1 {
		errs = append(errs, errors.New("dispatch.concurrency must be at least 1"))
	}
	if c.Dispatch.RecordTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.record_timeout must be positive"))
	}

	switch c.Lock.Backend {
	case "dynamodb", "redis", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("lock.backend: unknown backend %q", c.Lock.Backend))
	}
	switch c.Region.Backend {
	case "dynamodb", "redis", "postgres", "static":
	default:
		errs = append(errs, fmt.Errorf("region.backend: unknown backend %q", c.Region.Backend))
	}
	switch c.Mail.Transport {
	case "ses", "stdout":
	case "smtp":
		if !strings.Contains(c.Mail.SMTPHostTemplate, "%s") {
			errs = append(errs, errors.New("mail.smtp_host_template must contain %s for the region"))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.transport: unknown transport %q", c.Mail.Transport))
	}

	usesPostgres := c.Lock.Backend == "postgres" || c.Region.Backend == "postgres"
	if usesPostgres && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for the postgres backend"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
