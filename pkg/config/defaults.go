// Package config provides centralized default values for the gateway server
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		if err := godotenv.Load(); err == nil {
			log.Println("Loading configuration overrides from .env file...")
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if valStr := os.Getenv(key); valStr != "" {
		parts := strings.Split(valStr, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	AllowedOrigins     []string
	PublicBaseURL      string

	// Secrets
	JWTSecret         string
	AESKey            string
	OpsPasswordHash   string
	ResendAPIKey      string
	NotificationsFrom string

	// Database
	DatabasePath             string
	TursoDatabaseURL         string
	TursoAuthToken           string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int

	// Session Configuration
	SessionTTL           time.Duration
	VerificationTokenTTL time.Duration
	CallbackTokenTTL     time.Duration
	RewardTokenTTL       time.Duration
	MaxSessionsInMemory  int

	// Task Configuration
	DefaultMinDwellSeconds int
	DwellClockSkew         time.Duration

	// Verification Gate
	BlockedCIDRs     []string
	RequireUserAgent bool

	// SSE Configuration
	MaxWatchersPerSession       int
	SSEHeartbeatIntervalSeconds int
	SSEConnectionTimeoutMinutes int

	// Gateway Catalog
	DefinitionCacheTTL time.Duration

	// Cleanup Intervals
	CleanupInterval time.Duration
	CleanupVerbose  bool

	// Database performance
	SlowQueryThreshold time.Duration
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	PublicBaseURL = getEnvString("PUBLIC_BASE_URL", "http://localhost:8080")

	// Secrets
	JWTSecret = getEnvString("JWT_SECRET", "")
	AESKey = getEnvString("AES_KEY", "")
	OpsPasswordHash = getEnvString("OPS_PASSWORD_HASH", "")
	ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	NotificationsFrom = getEnvString("NOTIFICATIONS_FROM", "gateway@localhost")

	// Database
	DatabasePath = getEnvString("DATABASE_PATH", "gateway.db")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)

	// Session Configuration
	SessionTTL = getEnvDuration("SESSION_TTL", 15*time.Minute)
	VerificationTokenTTL = getEnvDuration("VERIFICATION_TOKEN_TTL", 5*time.Minute)
	CallbackTokenTTL = getEnvDuration("CALLBACK_TOKEN_TTL", 30*time.Minute)
	RewardTokenTTL = getEnvDuration("REWARD_TOKEN_TTL", 10*time.Minute)
	MaxSessionsInMemory = getEnvInt("MAX_SESSIONS_IN_MEMORY", 50000)

	// Task Configuration
	DefaultMinDwellSeconds = getEnvInt("DEFAULT_MIN_DWELL_SECONDS", 10)
	DwellClockSkew = getEnvDuration("DWELL_CLOCK_SKEW", 2*time.Second)

	// Verification Gate
	BlockedCIDRs = getEnvStringSlice("BLOCKED_CIDRS", nil)
	RequireUserAgent = getEnvBool("REQUIRE_USER_AGENT", true)

	// SSE Configuration
	MaxWatchersPerSession = getEnvInt("MAX_WATCHERS_PER_SESSION", 3)
	SSEHeartbeatIntervalSeconds = getEnvInt("SSE_HEARTBEAT_INTERVAL_SECONDS", 30)
	SSEConnectionTimeoutMinutes = getEnvInt("SSE_CONNECTION_TIMEOUT_MINUTES", 30)

	// Gateway Catalog
	DefinitionCacheTTL = getEnvDuration("DEFINITION_CACHE_TTL", time.Hour)

	// Cleanup Intervals
	CleanupInterval = getEnvDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute)
	CleanupVerbose = getEnvBool("CACHE_CLEANUP_VERBOSE", true)

	// Database performance
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 100*time.Millisecond)
}
