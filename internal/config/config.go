package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Snapshot backends
const (
	SnapshotFile  = "file"
	SnapshotRedis = "redis"
	SnapshotNone  = "none"
)

// Blob backends
const (
	BlobFilesystem = "filesystem"
	BlobMinio      = "minio"
	BlobNone       = "none"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	RabbitMQ      RabbitMQConfig      `yaml:"rabbitmq"`
	Redis         RedisConfig         `yaml:"redis"`
	Blob          BlobConfig          `yaml:"blob"`
	RunningHub    RunningHubConfig    `yaml:"runninghub"`
	Poller        PollerConfig        `yaml:"poller"`
	Queue         QueueConfig         `yaml:"queue"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Auth          AuthConfig          `yaml:"auth"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	App           AppConfig           `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadMB     int64         `yaml:"max_upload_mb"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the notification publisher configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BlobConfig selects where job input files are kept
type BlobConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Minio   MinioConfig `yaml:"minio"`
}

// MinioConfig holds object storage settings
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
}

// RunningHubConfig holds the generation API settings
type RunningHubConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// PollerConfig holds status polling settings
type PollerConfig struct {
	Interval         time.Duration `yaml:"interval"`
	BackoffThreshold int           `yaml:"backoff_threshold"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	MaxCycles        int           `yaml:"max_cycles"`
}

// QueueConfig selects how the job queue is persisted
type QueueConfig struct {
	Snapshot string `yaml:"snapshot"`
	FilePath string `yaml:"file_path"`
}

// CatalogConfig points at the app catalog file
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session token settings
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	InboxCapacity  int           `yaml:"inbox_capacity"`
	ThrottleWindow time.Duration `yaml:"throttle_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return "${" + key + "}"
	})

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values with working defaults
func (c *Config) ApplyDefaults() {
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 30
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RunningHub.BaseURL == "" {
		c.RunningHub.BaseURL = "https://www.runninghub.cn"
	}
	if c.RunningHub.Timeout == 0 {
		c.RunningHub.Timeout = 60 * time.Second
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 5 * time.Second
	}
	if c.Poller.BackoffThreshold == 0 {
		c.Poller.BackoffThreshold = 10
	}
	if c.Poller.BackoffFactor == 0 {
		c.Poller.BackoffFactor = 1.5
	}
	if c.Poller.MaxCycles == 0 {
		c.Poller.MaxCycles = 720
	}
	if c.Queue.Snapshot == "" {
		c.Queue.Snapshot = SnapshotFile
	}
	if c.Queue.FilePath == "" {
		c.Queue.FilePath = "data"
	}
	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobFilesystem
	}
	if c.Blob.Path == "" {
		c.Blob.Path = "data/blobs"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Notifications.ThrottleWindow == 0 {
		c.Notifications.ThrottleWindow = time.Minute
	}
	if c.Notifications.InboxCapacity == 0 {
		c.Notifications.InboxCapacity = 100
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server max_upload_mb must be greater than 0")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	if isUnexpanded(c.RunningHub.APIKey) {
		return fmt.Errorf("runninghub api_key is required")
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be greater than 0")
	}
	if c.Poller.BackoffThreshold <= 0 {
		return fmt.Errorf("poller backoff_threshold must be greater than 0")
	}
	if c.Poller.BackoffFactor < 1 {
		return fmt.Errorf("poller backoff_factor must be at least 1")
	}
	if c.Poller.MaxCycles <= 0 {
		return fmt.Errorf("poller max_cycles must be greater than 0")
	}

	switch c.Queue.Snapshot {
	case SnapshotFile:
		if c.Queue.FilePath == "" {
			return fmt.Errorf("queue file_path is required for file snapshots")
		}
	case SnapshotRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for redis snapshots")
		}
	case SnapshotNone:
	default:
		return fmt.Errorf("invalid queue snapshot backend: %q", c.Queue.Snapshot)
	}

	switch c.Blob.Backend {
	case BlobFilesystem:
		if c.Blob.Path == "" {
			return fmt.Errorf("blob path is required for the filesystem backend")
		}
	case BlobMinio:
		if c.Blob.Minio.Endpoint == "" || c.Blob.Minio.Bucket == "" {
			return fmt.Errorf("blob minio endpoint and bucket are required")
		}
	case BlobNone:
	default:
		return fmt.Errorf("invalid blob backend: %q", c.Blob.Backend)
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog path is required")
	}

	if isUnexpanded(c.Auth.Secret) {
		return fmt.Errorf("auth secret is required")
	}

	return nil
}

// isUnexpanded reports an empty value or a ${VAR} left behind by Load.
func isUnexpanded(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || (strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}"))
}
