package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	StoreBackend  string // "redis" (Redis + Postgres) or "memory"
	RedisAddr     string
	ClickHouseDSN string // empty disables the audit event sink
	PostgresDSN   string
	GeoIPDB       string
	DebugTrace    bool
	TrustProxy    bool
	TokenSecret   string
	TokenTTL      time.Duration
	ServiceName   string

	// Admission policy
	StoreFailureMode      string
	CounterRetention      time.Duration
	PurgeInterval         time.Duration
	SuspensionCacheTTL    time.Duration
	UserWindow            time.Duration
	IPWindow              time.Duration
	IPRegisterLimit       int
	IPLoginLimit          int
	IPDefaultLimit        int
	LockoutMaxAttempts    int
	LockoutCaptchaAfter   int
	LockoutIdleReset      time.Duration
	ScreenBlockConfidence float64
	MaxUploadBytes        int64

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8790")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.StoreBackend = getenv("STORE_BACKEND", "redis")
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = os.Getenv("CLICKHOUSE_DSN")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.GeoIPDB = getenv("GEOIP_DB", "internal/geoip/testdata/GeoLite2-Country.mmdb")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.TrustProxy = envBool("TRUST_PROXY", false)
	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.TokenTTL = envDuration("TOKEN_TTL", 12*time.Hour)
	cfg.ServiceName = getenv("SERVICE_NAME", "abuseguard")

	// fail_open keeps uploads and logins working through a Redis outage
	cfg.StoreFailureMode = getenv("STORE_FAILURE_MODE", "fail_open")
	cfg.CounterRetention = envDuration("COUNTER_RETENTION", 24*time.Hour)
	cfg.PurgeInterval = envDuration("PURGE_INTERVAL", 15*time.Minute)
	cfg.SuspensionCacheTTL = envDuration("SUSPENSION_CACHE_TTL", 30*time.Second)
	cfg.UserWindow = envDuration("USER_WINDOW", 24*time.Hour)
	cfg.IPWindow = envDuration("IP_WINDOW", time.Hour)
	cfg.IPRegisterLimit = envInt("IP_REGISTER_LIMIT", 10)
	cfg.IPLoginLimit = envInt("IP_LOGIN_LIMIT", 10)
	cfg.IPDefaultLimit = envInt("IP_DEFAULT_LIMIT", 100)
	cfg.LockoutMaxAttempts = envInt("LOCKOUT_MAX_ATTEMPTS", 5)
	cfg.LockoutCaptchaAfter = envInt("LOCKOUT_CAPTCHA_AFTER", 3)
	cfg.LockoutIdleReset = envDuration("LOCKOUT_IDLE_RESET", time.Hour)
	cfg.ScreenBlockConfidence = envFloat("SCREEN_BLOCK_CONFIDENCE", 0.8)
	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", 20<<20))

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// ClickHouse connection pooling configuration
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 50)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 10)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
