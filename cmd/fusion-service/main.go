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

	"github.com/cuongbtq/hair3d/internal/config"
	"github.com/cuongbtq/hair3d/internal/fusion"
	"github.com/cuongbtq/hair3d/internal/fusion/handler"
	"github.com/cuongbtq/hair3d/internal/fusion/router"
	"github.com/cuongbtq/hair3d/internal/media"
	"github.com/cuongbtq/hair3d/shared/logger"
	"github.com/cuongbtq/hair3d/shared/redis"
	"github.com/gin-gonic/gin"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("FUSION_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/fusion-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateFusionConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting fusion service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	outputs, err := media.NewStore(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to initialize storage root: %w", err)
	}

	serviceCfg := &fusion.Config{
		AILab:    fusion.NewAILabClient(cfg.Fusion.AILab.BaseURL, cfg.Fusion.AILab.APIKey, cfg.Fusion.AILab.Timeout, outputs, appLogger.Logger),
		Meshy:    fusion.NewMeshyClient(cfg.Fusion.Meshy.BaseURL, cfg.Fusion.Meshy.APIKey, cfg.Fusion.Meshy.Timeout),
		Outputs:  outputs,
		CacheTTL: cfg.Fusion.TaskCacheTTL,
		Logger:   appLogger.Logger,
	}

	// Optional cache for finished 3D tasks
	if cfg.Redis.Enabled {
		redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()
		serviceCfg.Cache = redisClient
	}

	service := fusion.NewService(serviceCfg)
	if !service.AILabConfigured() {
		appLogger.Warn("AILAB_API_KEY is not set, hairstyle synthesis will fail")
	}
	if !service.MeshyConfigured() {
		appLogger.Warn("MESHY_API_KEY is not set, 3D task creation will fail")
	}

	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	proxyHosts := cfg.Fusion.ProxyAllowedHosts
	if cfg.Fusion.ProxyAllowAnyHost {
		appLogger.Warn("Model proxy accepts any host")
		proxyHosts = nil
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:     appLogger.Logger,
		Service:    service,
		Proxy:      fusion.NewModelProxy(cfg.Fusion.ProxyTimeout, proxyHosts),
		MaxBytes:   cfg.Upload.MaxBytes,
		OutputsDir: outputs.OutputsDir(),
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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("Fusion service is running",
		slog.String("address", addr),
		slog.Bool("redis_cache", cfg.Redis.Enabled),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
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

// initRedis connects the task cache
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(context.Background(), &redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, logger)
}
