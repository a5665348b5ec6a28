package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/artifact"
	"github.com/Alexander76Kuznetsov/mfdp/internal/config"
	"github.com/Alexander76Kuznetsov/mfdp/internal/inference"
	"github.com/Alexander76Kuznetsov/mfdp/internal/queue"
	"github.com/Alexander76Kuznetsov/mfdp/internal/storage"
	"github.com/Alexander76Kuznetsov/mfdp/internal/training"
	"github.com/Alexander76Kuznetsov/mfdp/internal/worker"
	"github.com/Alexander76Kuznetsov/mfdp/shared/logger"
	"github.com/Alexander76Kuznetsov/mfdp/shared/postgresql"
	"github.com/Alexander76Kuznetsov/mfdp/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	id := workerID()
	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", id),
	)

	ctx := context.Background()

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	artifacts, err := initArtifacts(ctx, &cfg.Artifacts, appLogger.Component("artifacts"))
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	store := storage.NewPostgresStore(dbClient.GetDB(), appLogger.Component("storage"))
	broker := queue.NewRabbitBroker(rabbitClient, 1, appLogger.Component("queue"))

	w := worker.New(broker, worker.Config{
		WorkerID:        id,
		Consumers:       cfg.Worker.Consumers,
		MaxRetries:      cfg.Worker.MaxRetries,
		RetryBackoff:    cfg.Worker.RetryBackoff,
		DeadLetterQueue: cfg.RabbitMQ.Queues.DeadLetter,
	}, appLogger.Component("worker"))

	for _, kind := range cfg.Worker.Queues {
		switch kind {
		case "inference":
			registry := inference.NewRegistry(store, artifacts, appLogger.Component("models"))
			w.Register(cfg.RabbitMQ.Queues.Inference,
				inference.NewHandler(store, registry, appLogger.Component("inference")))
		case "training":
			w.Register(cfg.RabbitMQ.Queues.Training,
				training.NewHandler(store, artifacts, training.Config{
					EvalDays:          cfg.Training.EvalDays,
					TopK:              cfg.Training.TopK,
					DefaultIterations: cfg.Training.DefaultIterations,
					DefaultFactors:    cfg.Training.DefaultFactors,
					Regularization:    cfg.Training.Regularization,
					Alpha:             cfg.Training.Alpha,
					Lease:             cfg.Training.Lease,
				}, appLogger.Component("training")))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Run(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		// a fatal error leaves the current message requeued; the supervisor restarts us
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// workerID names this process in consumer tags and logs
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL connects to PostgreSQL and applies the schema when enabled
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := client.Migrate(ctx, storage.Schema); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}

// initRabbitMQ connects to RabbitMQ and declares the job topology
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Queues:             []string{cfg.Queues.Inference, cfg.Queues.Training},
		DeadLetterQueue:    cfg.Queues.DeadLetter,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
	}, logger)
}

// initArtifacts opens the configured dataset and model artifact backend
func initArtifacts(ctx context.Context, cfg *config.ArtifactsConfig, logger *slog.Logger) (artifact.Store, error) {
	switch cfg.Backend {
	case config.ArtifactBackendS3:
		store, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := artifact.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Using local artifact store", slog.String("dir", cfg.LocalDir))
		return store, nil
	}
}
