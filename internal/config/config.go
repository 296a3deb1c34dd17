package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// History storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Identity lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	History   HistoryConfig
	Model     ModelConfig
	Lock      LockConfig
	Events    EventsConfig
	GeoIP     GeoIPConfig
	Challenge ChallengeConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port                    string
	Env                     string
	LogLevel                string
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	TrustedProxies          []string
	LoginRateLimitPerMinute int
}

// HistoryConfig selects where allowed logins are kept and for how long
type HistoryConfig struct {
	Driver          string
	SQLiteDSN       string
	MigrateOnStart  bool
	Retention       time.Duration
	CleanupInterval time.Duration
}

// ModelConfig points at the frozen scoring artifacts and policy overrides
type ModelConfig struct {
	Dir             string
	PolicyFile      string
	LocationEpsilon float64
	ClockSkew       time.Duration
}

type LockConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// EventsConfig enables the decision event publisher when Brokers is not empty
type EventsConfig struct {
	Brokers []string
	Topic   string
}

// GeoIPConfig enables coordinate lookup for requests without coordinates
type GeoIPConfig struct {
	CityDB string
}

type ChallengeConfig struct {
	Secret string
	Expiry time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	challengeSecret := getEnv("CHALLENGE_SECRET", "")
	if challengeSecret == "" {
		return nil, fmt.Errorf("CHALLENGE_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "riskauth"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:                    getEnv("PORT", "8080"),
			Env:                     env,
			LogLevel:                getEnv("LOG_LEVEL", "info"),
			ReadTimeout:             getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:            getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:             getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:          getEnvAsSlice("TRUSTED_PROXIES"),
			LoginRateLimitPerMinute: getEnvAsInt("LOGIN_RATE_LIMIT_PER_MINUTE", 60),
		},
		History: HistoryConfig{
			Driver:          strings.ToLower(getEnv("HISTORY_DRIVER", DriverPostgres)),
			SQLiteDSN:       getEnv("SQLITE_DSN", "file:riskauth.db?_pragma=busy_timeout(5000)"),
			MigrateOnStart:  getEnvAsBool("MIGRATE_ON_START", true),
			Retention:       getEnvAsDuration("HISTORY_RETENTION", 90*24*time.Hour),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Model: ModelConfig{
			Dir:             getEnv("MODEL_DIR", "./model"),
			PolicyFile:      getEnv("RISK_POLICY_FILE", ""),
			LocationEpsilon: getEnvAsFloat("RISK_LOCATION_EPSILON", 0),
			ClockSkew:       getEnvAsDuration("RISK_CLOCK_SKEW", 30*time.Second),
		},
		Lock: LockConfig{
			Backend:       strings.ToLower(getEnv("LOCK_BACKEND", LockBackendMemory)),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("LOCK_TTL", 5*time.Second),
		},
		Events: EventsConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "risk-decisions"),
		},
		GeoIP: GeoIPConfig{
			CityDB: getEnv("GEOIP_CITY_DB", ""),
		},
		Challenge: ChallengeConfig{
			Secret: challengeSecret,
			Expiry: getEnvAsDuration("CHALLENGE_EXPIRY", 5*time.Minute),
		},
	}

	switch cfg.History.Driver {
	case DriverPostgres:
		if cfg.Database.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD is required")
		}
	case DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("HISTORY_DRIVER must be one of postgres, sqlite, memory (got %q)", cfg.History.Driver)
	}

	switch cfg.Lock.Backend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return nil, fmt.Errorf("LOCK_BACKEND must be memory or redis (got %q)", cfg.Lock.Backend)
	}

	if cfg.Lock.TTL <= 0 {
		return nil, fmt.Errorf("LOCK_TTL must be positive")
	}

	if cfg.Model.LocationEpsilon < 0 {
		return nil, fmt.Errorf("RISK_LOCATION_EPSILON must be >= 0")
	}

	if cfg.Model.ClockSkew < 0 {
		return nil, fmt.Errorf("RISK_CLOCK_SKEW must be >= 0")
	}

	// Validate challenge secret strength
	if err := validateChallengeSecret(challengeSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateChallengeSecret enforces minimum security standards for the challenge signing key
func validateChallengeSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("CHALLENGE_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("CHALLENGE_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsSlice splits a comma-separated variable, dropping empty entries
func getEnvAsSlice(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
