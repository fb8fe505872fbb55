package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Roles        RolesConfig
	QueuesFile   string
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Driver string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// AuthConfig defines authentication parameters. Clients maps a service
// client id to the bcrypt hash of its secret.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	Clients               map[string]string
}

// NotificationConfig controls the notification fan-out.
type NotificationConfig struct {
	ChannelPrefix    string
	MailboxPrefix    string
	BufferSize       int
	Workers          int
	SinkTimeoutMilli int
}

// RolesConfig lists identities the default permission policy treats as staff.
type RolesConfig struct {
	Staff []string
}

// Load reads configuration from environment variables, applying defaults where possible.
// envFile, when non-empty, is loaded instead of .env.
func Load(envFile ...string) (*Config, error) {
	_ = godotenv.Load(envFile...)

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	clients, err := parseClients(os.Getenv("AUTH_CLIENTS"))
	if err != nil {
		return nil, err
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMemory)),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "tickets.db"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			Clients:               clients,
		},
		Notification: NotificationConfig{
			ChannelPrefix:    getEnv("NOTIFY_CHANNEL_PREFIX", "tickets:"),
			MailboxPrefix:    getEnv("NOTIFY_MAILBOX_PREFIX", "mailbox:"),
			BufferSize:       getEnvAsInt("NOTIFY_BUFFER_SIZE", 256),
			Workers:          getEnvAsInt("NOTIFY_WORKERS", 2),
			SinkTimeoutMilli: getEnvAsInt("NOTIFY_SINK_TIMEOUT_MS", 2000),
		},
		Roles: RolesConfig{
			Staff: splitList(os.Getenv("STAFF_IDENTITIES")),
		},
		QueuesFile: os.Getenv("QUEUES_FILE"),
	}

	switch cfg.Store.Driver {
	case StoreDriverMemory, StoreDriverPostgres, StoreDriverSQLite:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", cfg.Store.Driver)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SinkTimeout returns the per-call deadline for notification sinks.
func (n NotificationConfig) SinkTimeout() time.Duration {
	if n.SinkTimeoutMilli <= 0 {
		return 2 * time.Second
	}
	return time.Duration(n.SinkTimeoutMilli) * time.Millisecond
}

// parseClients reads "id=bcrypthash,id2=bcrypthash".
func parseClients(raw string) (map[string]string, error) {
	clients := map[string]string{}
	for _, entry := range splitList(raw) {
		id, hash, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(hash) == "" {
			return nil, fmt.Errorf("invalid AUTH_CLIENTS entry %q", entry)
		}
		clients[strings.TrimSpace(id)] = strings.TrimSpace(hash)
	}
	return clients, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
