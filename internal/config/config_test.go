package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
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
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "mfdp_db", cfg.Database.Database)
				assert.Equal(t, "mfdp.jobs", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "ml_tasks", cfg.RabbitMQ.Queues.Inference)
				assert.Equal(t, "training_tasks", cfg.RabbitMQ.Queues.Training)
				assert.Equal(t, 30*time.Second, cfg.RabbitMQ.Connection.Heartbeat)
				assert.Equal(t, 2*time.Second, cfg.RabbitMQ.Connection.ConnectionTimeout)
				assert.Equal(t, 14, cfg.Training.EvalDays)
				assert.Equal(t, 40, cfg.Training.TopK)
				assert.Equal(t, []string{"inference", "training"}, cfg.Worker.Queues)
				assert.Equal(t, "mfdp-api-service", cfg.App.Name)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	// not present in the file
	assert.Equal(t, 10, cfg.Training.DefaultIterations)
	assert.Equal(t, 60, cfg.Training.DefaultFactors)
	assert.Equal(t, float64(20), cfg.Inference.TaskCost)
	assert.Equal(t, 3, cfg.RabbitMQ.Publish.RetryAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RABBITMQ_HOST", "rabbitmq")
	t.Setenv("RABBITMQ_TRAINING_QUEUE", "training_v2")
	t.Setenv("TRAINING_EVAL_DAYS", "7")
	t.Setenv("RABBITMQ_HEARTBEAT", "45s")
	t.Setenv("WORKER_QUEUES", "training")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "rabbitmq", cfg.RabbitMQ.Host)
	assert.Equal(t, "training_v2", cfg.RabbitMQ.Queues.Training)
	assert.Equal(t, 7, cfg.Training.EvalDays)
	assert.Equal(t, 45*time.Second, cfg.RabbitMQ.Connection.Heartbeat)
	assert.Equal(t, []string{"training"}, cfg.Worker.Queues)
	// untouched values keep the file setting
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
}

func validConfig() *Config {
	cfg := Default()
	cfg.Server = ServerConfig{Port: 8080}
	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "mfdp_db",
	}
	cfg.RabbitMQ.Host = "localhost"
	cfg.RabbitMQ.Port = 5672
	return &cfg
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
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			wantErr:   true,
			errString: "invalid database port",
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
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 70000 },
			wantErr:   true,
			errString: "invalid rabbitmq port",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty training queue",
			mutate:    func(c *Config) { c.RabbitMQ.Queues.Training = "" },
			wantErr:   true,
			errString: "queue names are required",
		},
		{
			name:      "empty dead letter queue",
			mutate:    func(c *Config) { c.RabbitMQ.Queues.DeadLetter = "" },
			wantErr:   true,
			errString: "dead letter queue name is required",
		},
		{
			name:      "same queue for both kinds",
			mutate:    func(c *Config) { c.RabbitMQ.Queues.Training = c.RabbitMQ.Queues.Inference },
			wantErr:   true,
			errString: "queues must differ",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name:      "s3 backend without bucket",
			mutate:    func(c *Config) { c.Artifacts.Backend = ArtifactBackendS3 },
			wantErr:   true,
			errString: "s3 bucket is required",
		},
		{
			name:      "unknown artifact backend",
			mutate:    func(c *Config) { c.Artifacts.Backend = "ftp" },
			wantErr:   true,
			errString: "invalid artifacts backend",
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

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "server port too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "server port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "negative task cost", mutate: func(c *Config) { c.Inference.TaskCost = -1 }, errString: "task_cost"},
		{name: "zero default factors", mutate: func(c *Config) { c.Training.DefaultFactors = 0 }, errString: "default_factors"},
		{name: "shared checks still apply", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}

	require.NoError(t, validConfig().ValidateAPIConfig())
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "no queues", mutate: func(c *Config) { c.Worker.Queues = nil }, errString: "worker queues must not be empty"},
		{name: "unknown queue", mutate: func(c *Config) { c.Worker.Queues = []string{"billing"} }, errString: "invalid worker queue"},
		{name: "zero consumers", mutate: func(c *Config) { c.Worker.Consumers = 0 }, errString: "consumers must be greater than 0"},
		{name: "negative retries", mutate: func(c *Config) { c.Worker.MaxRetries = -1 }, errString: "max_retries"},
		{name: "zero eval days", mutate: func(c *Config) { c.Training.EvalDays = 0 }, errString: "eval_days"},
		{name: "zero top k", mutate: func(c *Config) { c.Training.TopK = 0 }, errString: "top_k"},
		{name: "zero lease", mutate: func(c *Config) { c.Training.Lease = 0 }, errString: "training lease"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}

	require.NoError(t, validConfig().ValidateWorkerConfig())
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
