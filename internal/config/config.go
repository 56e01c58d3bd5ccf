package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/verification-desk/internal/platform"
)

// Store backends for the active ticket map.
const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Platform PlatformConfig
	Tickets  TicketsConfig
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

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines how interaction gateway calls are authenticated.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// PlatformConfig holds messaging platform credentials.
type PlatformConfig struct {
	BotToken string
	GuildID  string
}

// TicketsConfig drives the verification workflow.
type TicketsConfig struct {
	StoreBackend         string
	StateFile            string
	TranscriptDir        string
	CategoryName         string
	AuditChannel         string
	ModeratorRoles       []string
	VerifiedRole         string
	PendingRole          string
	MinAge               int
	ApprovalGraceSeconds int
	OpenCooldownSeconds  int
	ModeratorPermissions platform.Permission
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	modPerms, err := platform.ParsePermissions(getEnvAsList("TICKETS_MODERATOR_PERMISSIONS",
		[]string{"view_channel", "send_messages", "manage_messages"}))
	if err != nil {
		return nil, fmt.Errorf("invalid TICKETS_MODERATOR_PERMISSIONS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "verification-desk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 4)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 1)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("INTERACTION_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("INTERACTION_TOKEN_TTL_MINUTES", 15),
		},
		Platform: PlatformConfig{
			BotToken: os.Getenv("DISCORD_BOT_TOKEN"),
			GuildID:  os.Getenv("DISCORD_GUILD_ID"),
		},
		Tickets: TicketsConfig{
			StoreBackend:  getEnv("TICKETS_STORE_BACKEND", StoreBackendFile),
			StateFile:     getEnv("TICKETS_STATE_FILE", "data/tickets_data.json"),
			TranscriptDir: getEnv("TICKETS_TRANSCRIPT_DIR", "data/tickets"),
			CategoryName:  getEnv("TICKETS_CATEGORY_NAME", "🎫 TICKETS"),
			AuditChannel:  getEnv("TICKETS_AUDIT_CHANNEL", "🎫-logs-tickets"),
			ModeratorRoles: getEnvAsList("TICKETS_MODERATOR_ROLES",
				[]string{"🏛️ Gardien Suprême", "⚖️ Magistrat", "🛡️ Sentinel"}),
			VerifiedRole:         getEnv("TICKETS_VERIFIED_ROLE", "🎭 Citoyen"),
			PendingRole:          getEnv("TICKETS_PENDING_ROLE", "🎫 En Attente"),
			MinAge:               getEnvAsInt("TICKETS_MIN_AGE", 13),
			ApprovalGraceSeconds: getEnvAsInt("TICKETS_APPROVAL_GRACE_SECONDS", 10),
			OpenCooldownSeconds:  getEnvAsInt("TICKETS_OPEN_COOLDOWN_SECONDS", 60),
			ModeratorPermissions: modPerms,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the workflow cannot run with.
func (c *Config) Validate() error {
	var errs []error
	t := c.Tickets
	switch t.StoreBackend {
	case StoreBackendFile:
		if t.StateFile == "" {
			errs = append(errs, errors.New("TICKETS_STATE_FILE is required for the file backend"))
		}
	case StoreBackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TICKETS_STORE_BACKEND %q", t.StoreBackend))
	}
	if len(t.ModeratorRoles) == 0 {
		errs = append(errs, errors.New("TICKETS_MODERATOR_ROLES must name at least one role"))
	}
	if t.VerifiedRole == "" {
		errs = append(errs, errors.New("TICKETS_VERIFIED_ROLE is required"))
	}
	if t.MinAge < 0 {
		errs = append(errs, errors.New("TICKETS_MIN_AGE must not be negative"))
	}
	if t.ApprovalGraceSeconds < 0 {
		errs = append(errs, errors.New("TICKETS_APPROVAL_GRACE_SECONDS must not be negative"))
	}
	if t.OpenCooldownSeconds < 0 {
		errs = append(errs, errors.New("TICKETS_OPEN_COOLDOWN_SECONDS must not be negative"))
	}
	if t.ModeratorPermissions == 0 {
		errs = append(errs, errors.New("TICKETS_MODERATOR_PERMISSIONS must grant at least one permission"))
	}
	return errors.Join(errs...)
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

// ApprovalGrace is how long the success notice stays readable before auto-closure.
func (t TicketsConfig) ApprovalGrace() time.Duration {
	return time.Duration(t.ApprovalGraceSeconds) * time.Second
}

// OpenCooldown is the minimum spacing between two ticket creations by the same user.
func (t TicketsConfig) OpenCooldown() time.Duration {
	return time.Duration(t.OpenCooldownSeconds) * time.Second
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

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
