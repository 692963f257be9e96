package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/hair3d/internal/api/handler"
	"github.com/cuongbtq/hair3d/internal/api/router"
	"github.com/cuongbtq/hair3d/internal/config"
	"github.com/cuongbtq/hair3d/internal/inference"
	"github.com/cuongbtq/hair3d/internal/media"
	"github.com/cuongbtq/hair3d/internal/queue"
	"github.com/cuongbtq/hair3d/internal/storage"
	"github.com/cuongbtq/hair3d/internal/worker"
	"github.com/cuongbtq/hair3d/shared/database"
	"github.com/cuongbtq/hair3d/shared/logger"
	"github.com/cuongbtq/hair3d/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const consumerTag = "api-service-embedded-worker"

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
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
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

	// Initialize job store
	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	jobStore := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	if err := jobStore.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database connection established",
		slog.String("driver", cfg.Database.Driver),
	)

	// Initialize content root
	mediaStore, err := media.NewStore(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to initialize storage root: %w", err)
	}

	// Initialize job queue
	jobQueue, rabbitClient, err := initQueue(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	appLogger.Info("Job queue ready",
		slog.String("backend", cfg.Queue.Backend),
	)

	// Start the in-process worker
	var jobWorker *worker.Worker
	workerErr := make(chan error, 1)
	if cfg.Worker.Embedded {
		jobWorker = worker.NewWorker(&worker.Config{
			Logger: appLogger.Logger,
			Store:  jobStore,
			Queue:  jobQueue,
			Processor: inference.NewFallbackProcessor(
				inference.NewClient(cfg.Inference.BaseURL, cfg.Inference.APIKey, cfg.Inference.Timeout),
				appLogger.Logger,
			),
			Results:      mediaStore,
			JobTimeout:   cfg.Worker.JobTimeout,
			MarkDegraded: cfg.Worker.MarkDegraded,
		})

		go func() {
			if err := jobWorker.Start(context.Background()); err != nil {
				workerErr <- err
			}
		}()

		appLogger.Info("Embedded worker started",
			slog.String("inference_url", cfg.Inference.BaseURL),
		)
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, dbClient, jobStore, jobQueue, mediaStore)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	case err := <-workerErr:
		appLogger.Error("Worker failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting uploads before the queue is closed
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	if jobWorker != nil {
		stopWorker(jobWorker, cfg.Worker.ShutdownTimeout, appLogger.Logger)
	} else if err := jobQueue.Close(); err != nil {
		appLogger.Warn("Failed to close queue", slog.Any("error", err))
	}

	appLogger.Info("API service shutdown complete")
	return nil
}

// stopWorker lets the worker finish queued jobs, up to timeout
func stopWorker(w *worker.Worker, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initDatabase initializes the job store database client
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
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

	return database.NewClient(dbConfig, logger)
}

// initQueue builds the configured queue backend. The RabbitMQ client is
// returned so the caller can close the connection.
func initQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, *rabbitmq.Client, error) {
	if cfg.Queue.Backend == config.QueueBackendMemory {
		return queue.NewMemory(), nil, nil
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return nil, nil, err
	}
	tag := cfg.RabbitMQ.Consumer.Tag
	if tag == "" {
		tag = consumerTag
	}
	return queue.NewRabbitMQ(rabbitClient, tag, logger), rabbitClient, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
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
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, dbClient *database.Client, jobs *storage.Storage, jobQueue queue.Queue, mediaStore *media.Store) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger: logger,
		Jobs:   jobs,
		Queue:  jobQueue,
		Media:  mediaStore,
		Upload: handler.UploadPolicy{
			MaxBytes:          cfg.Upload.MaxBytes,
			AllowedExtensions: cfg.Upload.AllowedExtensions,
			VerifyContent:     cfg.Upload.VerifyContent,
		},
		DBCheck: dbClient.HealthCheck,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
