package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string `validate:"required"`
	AppVersion  string
	Environment string `validate:"required,oneof=development staging production test"`
	HTTPPort    string `validate:"required,numeric"`

	AuthJWTSecret      string
	AuthJWTIssuer      string
	AuthDisabled       bool
	AdminEmails        []string
	AuthorizedEmails   []string
	LedgerSettingsPath string

	DBType            string `validate:"required,oneof=postgres mysql sqlite"`
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int `validate:"gte=0"`
	DBMaxOpenConn     int `validate:"gte=0"`
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Ledger    LedgerConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig

	IdempotencyRetention time.Duration `validate:"gte=0"`

	SeedDemo bool
}

// LedgerConfig tunes how balance writes are serialized.
type LedgerConfig struct {
	MaxRetries  int           `validate:"gte=1,lte=50"`
	RetryDelay  time.Duration `validate:"gte=0"`
	LockBackend string        `validate:"oneof=none memory redis"`
	LockTTL     time.Duration
}

// ReconcileConfig drives the background drift check.
type ReconcileConfig struct {
	Enabled     bool
	Interval    time.Duration `validate:"gt=0"`
	Timeout     time.Duration `validate:"gt=0"`
	AutoCorrect bool
}

// RateLimitConfig bounds mutating requests per caller.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64 `validate:"gt=0"`
	Burst   int     `validate:"gt=0"`
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "balancebook"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		HTTPPort:           getenv("HTTP_PORT", "8080"),
		AuthJWTSecret:      strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer:      strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		AuthDisabled:       getenvBool("AUTH_DISABLED", false),
		AdminEmails:        parseList(getenv("ADMIN_EMAILS", "")),
		AuthorizedEmails:   parseList(getenv("AUTHORIZED_EMAILS", "")),
		LedgerSettingsPath: getenv("LEDGER_SETTINGS_PATH", ""),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "balancebook"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", false),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Ledger: LedgerConfig{
			MaxRetries:  getenvInt("LEDGER_MAX_RETRIES", 5),
			RetryDelay:  getenvDuration("LEDGER_RETRY_DELAY", 20*time.Millisecond),
			LockBackend: strings.ToLower(getenv("LEDGER_LOCK_BACKEND", "memory")),
			LockTTL:     getenvDuration("LEDGER_LOCK_TTL", 10*time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:     getenvBool("RECONCILE_ENABLED", true),
			Interval:    getenvDuration("RECONCILE_INTERVAL", 15*time.Minute),
			Timeout:     getenvDuration("RECONCILE_TIMEOUT", 2*time.Minute),
			AutoCorrect: getenvBool("RECONCILE_AUTOCORRECT", false),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 5),
			Burst:   getenvInt("RATE_LIMIT_BURST", 20),
		},

		IdempotencyRetention: getenvDuration("IDEMPOTENCY_RETENTION", 24*time.Hour),

		SeedDemo: getenvBool("SEED_DEMO", false),
	}

	return cfg
}

// Validate checks the loaded values against their constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Ledger.LockBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("invalid config: LEDGER_LOCK_BACKEND=redis requires REDIS_ADDR")
	}
	if c.IsProduction() && !c.AuthDisabled && c.AuthJWTSecret == "" {
		return fmt.Errorf("invalid config: AUTH_JWT_SECRET is required in production")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsAdmin reports whether email belongs to the admin list.
func (c Config) IsAdmin(email string) bool {
	return containsFold(c.AdminEmails, email)
}

// IsAuthorized reports whether email may use the application at all.
// Admins are always authorized.
func (c Config) IsAuthorized(email string) bool {
	return c.IsAdmin(email) || containsFold(c.AuthorizedEmails, email)
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.ToLower(p))
	}
	return out
}
