package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/genqueue/internal/api/handler"
	"github.com/cuongbtq/genqueue/internal/api/router"
	"github.com/cuongbtq/genqueue/internal/auth"
	"github.com/cuongbtq/genqueue/internal/blob"
	"github.com/cuongbtq/genqueue/internal/catalog"
	"github.com/cuongbtq/genqueue/internal/config"
	"github.com/cuongbtq/genqueue/internal/notify"
	"github.com/cuongbtq/genqueue/internal/poller"
	"github.com/cuongbtq/genqueue/internal/projects"
	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/runner"
	"github.com/cuongbtq/genqueue/internal/runninghub"
	"github.com/cuongbtq/genqueue/shared/logger"
	"github.com/cuongbtq/genqueue/shared/postgresql"
	"github.com/cuongbtq/genqueue/shared/rabbitmq"
	"github.com/cuongbtq/genqueue/shared/redis"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	issueFor := flag.String("issue-token", "", "Print a session token for this user id and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	signer, err := auth.NewSigner(cfg.Auth.Secret)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}
	if *issueFor != "" {
		token, err := signer.Issue(*issueFor, "", cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func() error
	// Cleanup function to close all resources, newest first
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				appLogger.Error("Failed to release resource", slog.Any("error", err))
			}
		}
	}
	defer cleanup()

	health := make(map[string]handler.HealthChecker)

	// Initialize PostgreSQL client and the projects table
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	closers = append(closers, dbClient.Close)
	health["postgres"] = dbClient

	projectRepo := projects.NewRepository(dbClient.GetDB())
	if err := projectRepo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare projects schema: %w", err)
	}

	// Notifications: inbox + log, and RabbitMQ when enabled
	inbox := notify.NewInbox(cfg.Notifications.InboxCapacity)
	notifiers := notify.Multi{inbox, notify.NewLog(appLogger.Component("notify"))}
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, rabbitClient.Close)
		notifiers = append(notifiers, notify.NewAMQP(rabbitClient))
		appLogger.Info("RabbitMQ connection established")
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherOptions{
		Notifier:       notifiers,
		Logger:         appLogger.Component("notify"),
		ThrottleWindow: cfg.Notifications.ThrottleWindow,
	})

	// Queue persistence
	snapshotter, err := initSnapshotter(cfg, appLogger, health, &closers)
	if err != nil {
		return err
	}
	blobs, err := initBlobStore(ctx, &cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	store := queue.NewStore(queue.Options{
		Snapshotter: snapshotter,
		Blobs:       blobs,
		Logger:      appLogger.Component("queue"),
	})
	if err := store.Rehydrate(ctx); err != nil {
		return fmt.Errorf("failed to restore queue: %w", err)
	}

	apps, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to load app catalog: %w", err)
	}

	rhClient, err := runninghub.NewClient(runninghub.Options{
		APIKey:         cfg.RunningHub.APIKey,
		BaseURL:        cfg.RunningHub.BaseURL,
		Logger:         appLogger.Component("runninghub"),
		RequestTimeout: cfg.RunningHub.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize RunningHub client: %w", err)
	}

	statusPoller := poller.New(rhClient, poller.Options{
		Interval:         cfg.Poller.Interval,
		BackoffThreshold: cfg.Poller.BackoffThreshold,
		BackoffFactor:    cfg.Poller.BackoffFactor,
		MaxCycles:        cfg.Poller.MaxCycles,
		Logger:           appLogger.Component("poller"),
	})

	jobRunner := runner.New(&runner.Config{
		Logger:    appLogger.Component("runner"),
		Store:     store,
		Generator: rhClient,
		Poller:    statusPoller,
		Apps:      apps,
		Projects:  projectRepo,
		Events:    dispatcher,
	})

	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- jobRunner.Run(ctx)
	}()

	// Initialize router
	r := initRouter(cfg.App.Environment, signer, &handler.Dependencies{
		Logger:         appLogger.Component("api"),
		Queue:          store,
		Runner:         jobRunner,
		Apps:           apps,
		Projects:       projectRepo,
		Inbox:          inbox,
		Health:         health,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Int("apps", len(apps.List())),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var (
		runErr        error
		runnerStopped bool
	)
	select {
	case <-quit:
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	case <-runnerDone:
		runnerStopped = true
		runErr = errors.New("job runner stopped unexpectedly")
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// Stop the runner; a job still running is marked interrupted on the next start
	cancel()
	if !runnerStopped {
		select {
		case <-runnerDone:
		case <-shutdownCtx.Done():
			appLogger.Warn("Runner did not stop before the shutdown timeout")
		}
	}

	appLogger.Info("Server shutdown complete")
	return runErr
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

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
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
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// initSnapshotter picks where the queue survives restarts
func initSnapshotter(cfg *config.Config, appLogger *logger.Logger, health map[string]handler.HealthChecker, closers *[]func() error) (queue.Snapshotter, error) {
	switch cfg.Queue.Snapshot {
	case config.SnapshotRedis:
		redisClient, err := redis.NewClient(&redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, appLogger.Component("redis"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		*closers = append(*closers, redisClient.Close)
		health["redis"] = redisClient
		return queue.NewRedisSnapshotter(redisClient), nil
	case config.SnapshotFile:
		fs, err := queue.NewFileSnapshotter(cfg.Queue.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize queue snapshot file: %w", err)
		}
		return fs, nil
	default:
		appLogger.Warn("Queue persistence disabled; jobs are lost on restart")
		return nil, nil
	}
}

// initBlobStore picks where input files are kept between restarts
func initBlobStore(ctx context.Context, cfg *config.BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case config.BlobMinio:
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.Bucket,
		})
	case config.BlobFilesystem:
		return blob.NewFileStore(cfg.Path)
	default:
		return nil, nil
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, verifier auth.Verifier, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, verifier)
}
