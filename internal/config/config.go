package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// DefaultProxyAllowedHosts is where generated models are served from
var DefaultProxyAllowedHosts = []string{"assets.meshy.ai"}

// Queue backends
const (
	QueueBackendMemory   = "memory"
	QueueBackendRabbitMQ = "rabbitmq"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Storage   StorageConfig   `yaml:"storage"`
	Upload    UploadConfig    `yaml:"upload"`
	Inference InferenceConfig `yaml:"inference"`
	Fusion    FusionConfig    `yaml:"fusion"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds job store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or sqlite
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"` // database name, or file path for sqlite
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// QueueConfig selects the job queue backend
type QueueConfig struct {
	Backend string `yaml:"backend"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      RabbitQueue      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueue holds RabbitMQ queue configuration
type RabbitQueue struct {
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

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// RedisConfig holds the optional task cache connection
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds the job worker configuration
type WorkerConfig struct {
	// Embedded runs the worker inside the api-service process
	Embedded        bool          `yaml:"embedded"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MarkDegraded records fallback copies as DEGRADED instead of DONE
	MarkDegraded bool `yaml:"mark_degraded"`
}

// StorageConfig holds the content root layout
type StorageConfig struct {
	Root string `yaml:"root"`
}

// UploadConfig holds upload validation settings
type UploadConfig struct {
	MaxBytes          int64    `yaml:"max_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	VerifyContent     bool     `yaml:"verify_content"`
}

// InferenceConfig holds the remote inference server settings
type InferenceConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// FusionConfig holds the hairstyle and image-to-3D API settings
type FusionConfig struct {
	AILab             RemoteAPIConfig `yaml:"ailab"`
	Meshy             RemoteAPIConfig `yaml:"meshy"`
	ProxyTimeout      time.Duration   `yaml:"proxy_timeout"`
	ProxyAllowedHosts []string        `yaml:"proxy_allowed_hosts"`
	// ProxyAllowAnyHost lets mesh-view fetch from any host; off unless set
	ProxyAllowAnyHost bool            `yaml:"proxy_allow_any_host"`
	TaskCacheTTL      time.Duration   `yaml:"task_cache_ttl"`
}

// RemoteAPIConfig is a base URL, key and per-call timeout
type RemoteAPIConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads and parses the configuration file, then applies
// environment overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	return &config, nil
}

// applyEnv overrides deployment specific values from the environment
func (c *Config) applyEnv() error {
	stringVars := map[string]*string{
		"STORAGE_ROOT":      &c.Storage.Root,
		"AI_API_BASE":       &c.Inference.BaseURL,
		"AI_API_KEY":        &c.Inference.APIKey,
		"DATABASE_DRIVER":   &c.Database.Driver,
		"DATABASE_DSN":      &c.Database.DSN,
		"DB_PASSWORD":       &c.Database.Password,
		"RABBITMQ_PASSWORD": &c.RabbitMQ.Password,
		"AILAB_BASE_URL":    &c.Fusion.AILab.BaseURL,
		"AILAB_API_KEY":     &c.Fusion.AILab.APIKey,
		"MESHY_BASE_URL":    &c.Fusion.Meshy.BaseURL,
		"MESHY_API_KEY":     &c.Fusion.Meshy.APIKey,
		"REDIS_ADDR":        &c.Redis.Addr,
		"REDIS_PASSWORD":    &c.Redis.Password,
	}
	for name, target := range stringVars {
		if v, ok := os.LookupEnv(name); ok {
			*target = v
		}
	}

	if v, ok := os.LookupEnv("SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	return nil
}

// applyDefaults fills unset values
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendMemory
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "./data"
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = 20 << 20
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = []string{"png", "jpg", "jpeg", "webp"}
	}
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = "http://localhost:9000"
	}
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = 300 * time.Second
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = c.Inference.Timeout + 30*time.Second
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Fusion.AILab.BaseURL == "" {
		c.Fusion.AILab.BaseURL = "https://www.ailabapi.com"
	}
	if c.Fusion.AILab.Timeout == 0 {
		c.Fusion.AILab.Timeout = 30 * time.Second
	}
	if c.Fusion.Meshy.BaseURL == "" {
		c.Fusion.Meshy.BaseURL = "https://api.meshy.ai"
	}
	if c.Fusion.Meshy.Timeout == 0 {
		c.Fusion.Meshy.Timeout = 60 * time.Second
	}
	if len(c.Fusion.ProxyAllowedHosts) == 0 && !c.Fusion.ProxyAllowAnyHost {
		c.Fusion.ProxyAllowedHosts = append([]string(nil), DefaultProxyAllowedHosts...)
	}
	if c.Fusion.ProxyTimeout == 0 {
		c.Fusion.ProxyTimeout = 60 * time.Second
	}
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN != "" {
			return nil
		}
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if err := validatePort("database", c.Database.Port); err != nil {
			return err
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Database == "" {
			return fmt.Errorf("sqlite database path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueBackendMemory:
		return nil
	case QueueBackendRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
			return err
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported queue backend: %q", c.Queue.Backend)
	}
}

func (c *Config) validateWorker() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("inference base_url is required")
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference timeout must be greater than 0")
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}
	return nil
}

// ValidateAPIConfig checks the api-service configuration
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be greater than 0")
	}
	if c.Queue.Backend == QueueBackendMemory && !c.Worker.Embedded {
		// nothing else can drain an in-process queue
		return fmt.Errorf("memory queue backend requires worker.embedded")
	}
	if c.Worker.Embedded {
		return c.validateWorker()
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	return nil
}

// ValidateWorkerConfig checks the standalone worker-service configuration
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if c.Queue.Backend != QueueBackendRabbitMQ {
		return fmt.Errorf("worker-service requires the rabbitmq queue backend, got %q", c.Queue.Backend)
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	return c.validateWorker()
}

// ValidateFusionConfig checks the fusion-service configuration
func (c *Config) ValidateFusionConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Fusion.AILab.BaseURL == "" {
		return fmt.Errorf("fusion ailab base_url is required")
	}
	if c.Fusion.Meshy.BaseURL == "" {
		return fmt.Errorf("fusion meshy base_url is required")
	}
	if len(c.Fusion.ProxyAllowedHosts) == 0 && !c.Fusion.ProxyAllowAnyHost {
		return fmt.Errorf("fusion proxy_allowed_hosts is empty; set proxy_allow_any_host to allow every host")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	return nil
}
