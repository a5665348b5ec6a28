package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Artifact store backends
const (
	ArtifactBackendLocal = "local"
	ArtifactBackendS3    = "s3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Training  TrainingConfig  `yaml:"training"`
	Inference InferenceConfig `yaml:"inference"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"POSTGRES_HOST"`
	Port            int           `yaml:"port" env:"POSTGRES_PORT"`
	User            string        `yaml:"user" env:"POSTGRES_USER"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" env:"POSTGRES_DB"`
	SSLMode         string        `yaml:"sslmode" env:"POSTGRES_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"POSTGRES_AUTO_MIGRATE"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost" env:"RABBITMQ_VHOST"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     QueuesConfig     `yaml:"queues"`
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

// QueuesConfig names the work queues and the dead-letter queue
type QueuesConfig struct {
	Inference  string `yaml:"inference" env:"RABBITMQ_INFERENCE_QUEUE"`
	Training   string `yaml:"training" env:"RABBITMQ_TRAINING_QUEUE"`
	DeadLetter string `yaml:"dead_letter" env:"RABBITMQ_DEAD_LETTER_QUEUE"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat" env:"RABBITMQ_HEARTBEAT"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"RABBITMQ_CONNECTION_TIMEOUT"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
}

// RedisConfig holds the result cache settings
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB"`
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// ArtifactsConfig selects where datasets and model artifacts live
type ArtifactsConfig struct {
	Backend  string   `yaml:"backend" env:"ARTIFACTS_BACKEND"`
	LocalDir string   `yaml:"local_dir" env:"ARTIFACTS_LOCAL_DIR"`
	S3       S3Config `yaml:"s3"`
}

// S3Config holds S3 (or MinIO) connection settings
type S3Config struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`
	Region          string `yaml:"region" env:"S3_REGION"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
}

// TrainingConfig holds evaluation and default hyperparameter settings
type TrainingConfig struct {
	EvalDays          int           `yaml:"eval_days" env:"TRAINING_EVAL_DAYS"`
	TopK              int           `yaml:"top_k" env:"TRAINING_TOP_K"`
	DefaultIterations int           `yaml:"default_iterations" env:"TRAINING_DEFAULT_ITERATIONS"`
	DefaultFactors    int           `yaml:"default_factors" env:"TRAINING_DEFAULT_FACTORS"`
	Regularization    float64       `yaml:"regularization"`
	Alpha             float64       `yaml:"alpha"`
	Lease             time.Duration `yaml:"lease" env:"TRAINING_LEASE"`
}

// InferenceConfig holds inference submission settings
type InferenceConfig struct {
	TaskCost float64 `yaml:"task_cost" env:"INFERENCE_TASK_COST"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Queues          []string      `yaml:"queues" env:"WORKER_QUEUES"`
	Consumers       int           `yaml:"consumers" env:"WORKER_CONSUMERS"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used for fields a file leaves unset
func Default() Config {
	return Config{
		RabbitMQ: RabbitMQConfig{
			VHost: "/",
			Exchange: ExchangeConfig{
				Name:    "mfdp.jobs",
				Type:    "direct",
				Durable: true,
			},
			Queues: QueuesConfig{
				Inference:  "ml_tasks",
				Training:   "training_tasks",
				DeadLetter: "ml_dead_letter",
			},
			Connection: ConnectionConfig{
				RetryAttempts:     5,
				RetryInterval:     2 * time.Second,
				Heartbeat:         30 * time.Second,
				ConnectionTimeout: 2 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2.0,
				ConfirmTimeout:    5 * time.Second,
			},
		},
		Redis: RedisConfig{
			ResultTTL: time.Hour,
		},
		Artifacts: ArtifactsConfig{
			Backend:  ArtifactBackendLocal,
			LocalDir: "./ml_models",
		},
		Training: TrainingConfig{
			EvalDays:          14,
			TopK:              40,
			DefaultIterations: 10,
			DefaultFactors:    60,
			Regularization:    0.01,
			Alpha:             1.0,
			Lease:             time.Minute,
		},
		Inference: InferenceConfig{
			TaskCost: 20,
		},
		Worker: WorkerConfig{
			Queues:          []string{"inference", "training"},
			Consumers:       1,
			MaxRetries:      3,
			RetryBackoff:    time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	return &config, nil
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queues.Inference == "" || c.RabbitMQ.Queues.Training == "" {
		return fmt.Errorf("rabbitmq inference and training queue names are required")
	}

	if c.RabbitMQ.Queues.DeadLetter == "" {
		return fmt.Errorf("rabbitmq dead letter queue name is required")
	}

	if c.RabbitMQ.Queues.Inference == c.RabbitMQ.Queues.Training {
		return fmt.Errorf("rabbitmq inference and training queues must differ")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	switch c.Artifacts.Backend {
	case ArtifactBackendLocal:
		if c.Artifacts.LocalDir == "" {
			return fmt.Errorf("artifacts local_dir is required for the local backend")
		}
	case ArtifactBackendS3:
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts s3 bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid artifacts backend: %q", c.Artifacts.Backend)
	}

	return nil
}

// ValidateAPIConfig checks the settings needed by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Inference.TaskCost < 0 {
		return fmt.Errorf("inference task_cost must not be negative")
	}

	if c.Training.DefaultIterations <= 0 || c.Training.DefaultFactors <= 0 {
		return fmt.Errorf("training default_iterations and default_factors must be greater than 0")
	}

	return c.Validate()
}

// ValidateWorkerConfig checks the settings needed by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if len(c.Worker.Queues) == 0 {
		return fmt.Errorf("worker queues must not be empty")
	}

	for _, q := range c.Worker.Queues {
		if q != "inference" && q != "training" {
			return fmt.Errorf("invalid worker queue: %q (must be inference or training)", q)
		}
	}

	if c.Worker.Consumers <= 0 {
		return fmt.Errorf("worker consumers must be greater than 0")
	}

	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max_retries must not be negative")
	}

	if c.Training.EvalDays <= 0 {
		return fmt.Errorf("training eval_days must be greater than 0")
	}

	if c.Training.TopK <= 0 {
		return fmt.Errorf("training top_k must be greater than 0")
	}

	if c.Training.Lease <= 0 {
		return fmt.Errorf("training lease must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return c.Validate()
}
