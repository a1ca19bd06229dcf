package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinRefreshInterval is the smallest refresh interval the scheduler accepts
const MinRefreshInterval = time.Second

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: refresh audit storage. When nil, runs are not persisted.
	Embedding     EmbeddingConfig
	Engine        EngineConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Providers     *ProvidersFile
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// EmbeddingConfig holds the remote embedding service configuration
type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64 // requests per second, 0 disables limiting
	CacheSize  int
}

// EngineConfig holds retrieval and prompt composition settings
type EngineConfig struct {
	NumberOfResults    int
	IncludeExamples    bool
	RefreshInterval    time.Duration
	RefreshTimeout     time.Duration
	RefreshConcurrency int
	FragmentTimeout    time.Duration
	ProvidersPath      string
}

// AuthConfig holds caller authentication settings.
// Static per-tenant tokens come from the providers file.
type AuthConfig struct {
	JWTSecret    string
	AdminTenants []string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables and the providers file
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Embedding: EmbeddingConfig{
			BaseURL:    strings.TrimRight(getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"), "/"),
			APIKey:     getEnv("EMBEDDING_API_KEY", ""),
			Model:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout:    getEnvAsDuration("EMBEDDING_TIMEOUT", 10*time.Second),
			MaxRetries: getEnvAsInt("EMBEDDING_MAX_RETRIES", 2),
			RateLimit:  getEnvAsFloat("EMBEDDING_RATE_LIMIT", 0),
			CacheSize:  getEnvAsInt("EMBEDDING_CACHE_SIZE", 1024),
		},
		Engine: EngineConfig{
			NumberOfResults:    getEnvAsInt("NUMBER_OF_RESULTS", 3),
			IncludeExamples:    getEnvAsBool("INCLUDE_EXAMPLES", false),
			RefreshInterval:    getEnvAsDuration("UPDATE_INTERVAL", 15*time.Minute),
			RefreshTimeout:     getEnvAsDuration("REFRESH_TIMEOUT", 30*time.Second),
			RefreshConcurrency: getEnvAsInt("REFRESH_CONCURRENCY", 4),
			FragmentTimeout:    getEnvAsDuration("FRAGMENT_TIMEOUT", 10*time.Second),
			ProvidersPath:      getEnv("PROVIDERS_CONFIG_PATH", "providers.yaml"),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			AdminTenants: getEnvAsList("ADMIN_TENANTS"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Clamp the interval before validation so a misconfigured value still runs
	if cfg.Engine.RefreshInterval < MinRefreshInterval {
		cfg.Engine.RefreshInterval = MinRefreshInterval
	}

	providers, err := LoadProvidersFile(cfg.Engine.ProvidersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers file: %w", err)
	}
	cfg.Providers = providers

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding base URL is required")
	}
	if _, err := url.ParseRequestURI(c.Embedding.BaseURL); err != nil {
		return fmt.Errorf("embedding base URL is invalid: %w", err)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model is required")
	}
	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("embedding timeout must be positive")
	}
	if c.IsProduction() && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding API key is required in production")
	}

	if c.Engine.NumberOfResults < 1 {
		return fmt.Errorf("number of results must be at least 1")
	}
	if c.Engine.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("refresh interval must be at least %s", MinRefreshInterval)
	}
	if c.Engine.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh timeout must be positive")
	}
	if c.Engine.FragmentTimeout <= 0 {
		return fmt.Errorf("fragment timeout must be positive")
	}
	if c.Engine.RefreshConcurrency < 1 {
		return fmt.Errorf("refresh concurrency must be at least 1")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	if c.Providers != nil {
		if err := c.Providers.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// AuthEnabled reports whether callers must present a bearer token.
// With no tenant tokens and no JWT secret every caller is anonymous.
func (c *Config) AuthEnabled() bool {
	if c.Auth.JWTSecret != "" {
		return true
	}
	if c.Providers == nil {
		return false
	}
	for _, tenant := range c.Providers.Tenants {
		if tenant.Token != "" {
			return true
		}
	}
	return false
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig loads database config from DATABASE_URL.
// Returns nil when not set (refresh runs are only logged).
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds,
// which is how the update interval has historically been written.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
