package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Events   EventsConfig   `toml:"events"`
	Auth     AuthConfig     `toml:"auth"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Activity ActivityConfig `toml:"activity"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port int `toml:"port"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	DBName       string `toml:"name"`
	SSLMode      string `toml:"sslmode"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// RedisConfig holds the ephemeral store configuration. An empty address
// selects the in-process store.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// EventsConfig selects where domain events are published
type EventsConfig struct {
	Backend       string   `toml:"backend"` // none, kafka or amqp
	KafkaBrokers  []string `toml:"kafka_brokers"`
	AMQPURL       string   `toml:"amqp_url"`
	AMQPExchange  string   `toml:"amqp_exchange"`
	LedgerTopic   string   `toml:"ledger_topic"`
	ActivityTopic string   `toml:"activity_topic"`
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// LedgerConfig tunes money operations
type LedgerConfig struct {
	CacheTTL         time.Duration `toml:"cache_ttl"`
	CacheWriteTTL    time.Duration `toml:"cache_write_ttl"`
	CacheSweep       time.Duration `toml:"cache_sweep"`
	MaxBalance       int64         `toml:"max_balance"`
	RetryAttempts    int           `toml:"retry_attempts"`
	RetryBaseBackoff time.Duration `toml:"retry_base_backoff"`
}

// ActivityConfig tunes ingestion and the flush engines
type ActivityConfig struct {
	VoiceFlushInterval   time.Duration `toml:"voice_flush_interval"`
	MessageFlushInterval time.Duration `toml:"message_flush_interval"`
	ParallelScopes       int           `toml:"parallel_scopes"`
	MaxBatchSize         int           `toml:"max_batch_size"`
	RetentionDays        int           `toml:"retention_days"`
	CleanupInterval      time.Duration `toml:"cleanup_interval"`
	ShutdownTimeout      time.Duration `toml:"shutdown_timeout"`
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Username:     "postgres",
			Password:     "password",
			DBName:       "guildledger",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Events: EventsConfig{
			Backend:       "none",
			AMQPExchange:  "guildledger",
			LedgerTopic:   "ledger.transactions",
			ActivityTopic: "activity.levelups",
		},
		Auth: AuthConfig{JWTSecret: "your-secret-key-here"},
		Ledger: LedgerConfig{
			CacheTTL:         10 * time.Second,
			CacheWriteTTL:    time.Second,
			CacheSweep:       30 * time.Second,
			MaxBalance:       999_999_999,
			RetryAttempts:    3,
			RetryBaseBackoff: 100 * time.Millisecond,
		},
		Activity: ActivityConfig{
			VoiceFlushInterval:   30 * time.Second,
			MessageFlushInterval: 60 * time.Second,
			ParallelScopes:       10,
			MaxBatchSize:         500,
			RetentionDays:        30,
			CleanupInterval:      24 * time.Hour,
			ShutdownTimeout:      15 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadConfig builds the configuration from defaults, an optional TOML file
// named by CONFIG_FILE and environment variables, in that order.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvAsInt("SERVER_PORT", cfg.Server.Port)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Username = getEnv("DB_USERNAME", cfg.Database.Username)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.Events.Backend = getEnv("EVENTS_BACKEND", cfg.Events.Backend)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Events.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.Events.AMQPURL = getEnv("AMQP_URL", cfg.Events.AMQPURL)
	cfg.Events.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.Events.AMQPExchange)
	cfg.Events.LedgerTopic = getEnv("EVENTS_LEDGER_TOPIC", cfg.Events.LedgerTopic)
	cfg.Events.ActivityTopic = getEnv("EVENTS_ACTIVITY_TOPIC", cfg.Events.ActivityTopic)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Ledger.CacheTTL = getEnvAsDuration("BALANCE_CACHE_TTL", cfg.Ledger.CacheTTL)
	cfg.Ledger.CacheWriteTTL = getEnvAsDuration("BALANCE_CACHE_WRITE_TTL", cfg.Ledger.CacheWriteTTL)
	cfg.Ledger.CacheSweep = getEnvAsDuration("BALANCE_CACHE_SWEEP", cfg.Ledger.CacheSweep)
	cfg.Ledger.RetryAttempts = getEnvAsInt("LEDGER_RETRY_ATTEMPTS", cfg.Ledger.RetryAttempts)

	cfg.Activity.VoiceFlushInterval = getEnvAsDuration("VOICE_FLUSH_INTERVAL", cfg.Activity.VoiceFlushInterval)
	cfg.Activity.MessageFlushInterval = getEnvAsDuration("MESSAGE_FLUSH_INTERVAL", cfg.Activity.MessageFlushInterval)
	cfg.Activity.ParallelScopes = getEnvAsInt("FLUSH_PARALLEL_SCOPES", cfg.Activity.ParallelScopes)
	cfg.Activity.MaxBatchSize = getEnvAsInt("FLUSH_MAX_BATCH_SIZE", cfg.Activity.MaxBatchSize)
	cfg.Activity.RetentionDays = getEnvAsInt("ACTIVITY_RETENTION_DAYS", cfg.Activity.RetentionDays)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid server port %d", c.Server.Port))
	}

	switch c.Events.Backend {
	case "none", "":
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			problems = append(problems, "kafka events backend requires KAFKA_BROKERS")
		}
	case "amqp":
		if u, err := url.Parse(c.Events.AMQPURL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL %q", c.Events.AMQPURL))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown events backend %q: must be none, kafka or amqp", c.Events.Backend))
	}

	if c.Ledger.RetryAttempts < 1 {
		problems = append(problems, "ledger retry attempts must be at least 1")
	}
	if c.Ledger.CacheWriteTTL > c.Ledger.CacheTTL {
		problems = append(problems, "balance cache write TTL must not exceed the default TTL")
	}
	if c.Ledger.MaxBalance <= 0 {
		problems = append(problems, "max balance must be positive")
	}

	if c.Activity.VoiceFlushInterval < time.Second || c.Activity.MessageFlushInterval < time.Second {
		problems = append(problems, "flush intervals must be at least 1 second")
	}
	if c.Activity.ParallelScopes < 1 {
		problems = append(problems, "parallel scopes must be at least 1")
	}
	if c.Activity.ParallelScopes >= c.Database.MaxOpenConns {
		problems = append(problems, fmt.Sprintf(
			"parallel scopes (%d) must leave database connections for ledger calls (max open %d)",
			c.Activity.ParallelScopes, c.Database.MaxOpenConns))
	}
	if c.Activity.MaxBatchSize < 1 || c.Activity.MaxBatchSize > 5000 {
		problems = append(problems, fmt.Sprintf("invalid flush batch size %d", c.Activity.MaxBatchSize))
	}
	if c.Activity.RetentionDays < 1 {
		problems = append(problems, "retention days must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
