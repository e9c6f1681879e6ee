package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("GENQUEUE_TEST_API_KEY", "rh-test-key")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, int64(20), cfg.Server.MaxUploadMB)
				assert.Equal(t, "genqueue", cfg.Database.Database)
				assert.Equal(t, "notifications_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, 2.0, cfg.RabbitMQ.Publish.BackoffMultiplier)
				assert.Equal(t, "rh-test-key", cfg.RunningHub.APIKey)
				assert.Equal(t, SnapshotRedis, cfg.Queue.Snapshot)
				assert.Equal(t, "genqueue-api", cfg.App.Name)

				// defaults for omitted values
				assert.Equal(t, 720, cfg.Poller.MaxCycles)
				assert.Equal(t, 1.5, cfg.Poller.BackoffFactor)
				assert.Equal(t, 10, cfg.Poller.BackoffThreshold)
				assert.Equal(t, "https://www.runninghub.cn", cfg.RunningHub.BaseURL)
				assert.Equal(t, time.Minute, cfg.Notifications.ThrottleWindow)
			}
		})
	}
}

func TestLoad_KeepsUnsetVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runninghub:\n  api_key: ${GENQUEUE_SURELY_UNSET_KEY}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${GENQUEUE_SURELY_UNSET_KEY}", cfg.RunningHub.APIKey)
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "genqueue",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "notifications_exchange"},
			Queue:    AMQPQueueConfig{Name: "notifications_queue"},
		},
		RunningHub: RunningHubConfig{APIKey: "key"},
		Catalog:    CatalogConfig{Path: "configs/apps.yaml"},
		Auth:       AuthConfig{Secret: "secret"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq disabled skips its checks",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = false
				c.RabbitMQ.Host = ""
			},
			wantErr: false,
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "missing api key",
			mutate:    func(c *Config) { c.RunningHub.APIKey = "${RUNNINGHUB_API_KEY}" },
			wantErr:   true,
			errString: "runninghub api_key is required",
		},
		{
			name:      "backoff factor below one",
			mutate:    func(c *Config) { c.Poller.BackoffFactor = 0.5 },
			wantErr:   true,
			errString: "backoff_factor",
		},
		{
			name:      "redis snapshot without addr",
			mutate:    func(c *Config) { c.Queue.Snapshot = SnapshotRedis },
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name:      "unknown snapshot backend",
			mutate:    func(c *Config) { c.Queue.Snapshot = "etcd" },
			wantErr:   true,
			errString: "invalid queue snapshot backend",
		},
		{
			name:      "minio without bucket",
			mutate:    func(c *Config) { c.Blob.Backend = BlobMinio; c.Blob.Minio.Endpoint = "localhost:9000" },
			wantErr:   true,
			errString: "endpoint and bucket are required",
		},
		{
			name:      "unknown blob backend",
			mutate:    func(c *Config) { c.Blob.Backend = "s3" },
			wantErr:   true,
			errString: "invalid blob backend",
		},
		{
			name:      "missing catalog",
			mutate:    func(c *Config) { c.Catalog.Path = "" },
			wantErr:   true,
			errString: "catalog path is required",
		},
		{
			name:      "missing auth secret",
			mutate:    func(c *Config) { c.Auth.Secret = "" },
			wantErr:   true,
			errString: "auth secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Setenv("GENQUEUE_TEST_API_KEY", "rh-test-key")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.NoError(t, cfg.Validate())
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
