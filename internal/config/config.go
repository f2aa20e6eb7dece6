package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	khaltiSandboxURL = "https://a.khalti.com/api/v2"
	khaltiLiveURL    = "https://khalti.com/api/v2"
)

var (
	// ErrMissingGatewaySecret is returned when KHALTI_SECRET_KEY is not set.
	ErrMissingGatewaySecret = errors.New("KHALTI_SECRET_KEY is required")

	// ErrMissingJWTSecret is returned when JWT_SECRET is not set.
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required")
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	NewRelic     NewRelicConfig
	Gateway      GatewayConfig
	Verification VerificationConfig
	Auth         AuthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	FrontendURL  string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// GatewayConfig holds the Khalti ePayment API configuration.
type GatewayConfig struct {
	BaseURL    string
	SecretKey  string
	LiveMode   bool
	Timeout    time.Duration
	ReturnURL  string
	WebsiteURL string
}

// VerificationConfig controls how hard the engine tries to reach the provider.
type VerificationConfig struct {
	MaxGatewayAttempts int
	RetryBackoff       time.Duration // doubled after every failed attempt
	LockWait           time.Duration
	LockTTL            time.Duration
}

// AuthConfig holds bearer-token validation settings.
type AuthConfig struct {
	JWTSecret string
}

// Load loads configuration from environment variables.
// Outside production a .env file in the working directory is read first.
func Load() *Config {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found, reading configuration from environment")
		}
	}

	liveMode := getBoolEnv("KHALTI_LIVE_MODE", false)
	baseURL := khaltiSandboxURL
	if liveMode {
		baseURL = khaltiLiveURL
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			FrontendURL:  getEnv("FRONTEND_URL", ""),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "subscriptions"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "subscription-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Gateway: GatewayConfig{
			BaseURL:    getEnv("KHALTI_BASE_URL", baseURL),
			SecretKey:  getEnv("KHALTI_SECRET_KEY", ""),
			LiveMode:   liveMode,
			Timeout:    getDurationEnv("KHALTI_TIMEOUT", 5*time.Second),
			ReturnURL:  getEnv("KHALTI_RETURN_URL", "http://localhost:8080/v1/payments/callback"),
			WebsiteURL: getEnv("KHALTI_WEBSITE_URL", "http://localhost:8080"),
		},
		Verification: VerificationConfig{
			MaxGatewayAttempts: getIntEnv("VERIFY_MAX_GATEWAY_ATTEMPTS", 3),
			RetryBackoff:       getDurationEnv("VERIFY_RETRY_BACKOFF", 250*time.Millisecond),
			LockWait:           getDurationEnv("VERIFY_LOCK_WAIT", 10*time.Second),
			LockTTL:            getDurationEnv("VERIFY_LOCK_TTL", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	if c.Gateway.SecretKey == "" {
		return ErrMissingGatewaySecret
	}
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
