package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values. Each field corresponds
// to an environment variable. The types reflect how the values are used
// in the application: strings for identifiers and secrets, durations for
// intervals, int64 for monetary amounts in cents.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify access tokens issued by the identity service

	PaySecret    string        // shared secret for payment-link signing and webhook verification
	PayBaseURL   string        // payment provider API base URL
	PayNotifyURL string        // public URL the provider posts settlement notifications to
	PayTimeout   time.Duration // request timeout for provider calls

	DefaultScopeID    uint64        // scope served when a request names none
	AnimalLimitCents  int64         // per-animal sale cap applied to new sessions
	CapacityCacheTTL  time.Duration // TTL of the cached capacity snapshot
	StreamHeartbeat   time.Duration // interval between no-op frames on push streams
	StreamCloseGrace  time.Duration // delay before closing subscribers after a terminal status
	ExpirySweepPeriod time.Duration // how often the sweep looks for overdue pending orders
}

// Load reads configuration values from environment variables and returns
// a Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message; tunables fall back
// to defaults.
func Load() Config {
	return Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"), // empty allowed
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		JWTSecret: must("JWT_SECRET"),

		PaySecret:    must("PAY_SECRET"),
		PayBaseURL:   must("PAY_BASE_URL"),
		PayNotifyURL: must("PAY_NOTIFY_URL"),
		PayTimeout:   envDur("PAY_TIMEOUT", 5*time.Second),

		DefaultScopeID:    uint64(envInt("DEFAULT_SCOPE_ID", 1)),
		AnimalLimitCents:  envInt64("ANIMAL_LIMIT_CENTS", 10_000_000),
		CapacityCacheTTL:  envDur("CAPACITY_CACHE_TTL", 30*time.Second),
		StreamHeartbeat:   envDur("STREAM_HEARTBEAT", 25*time.Second),
		StreamCloseGrace:  envDur("STREAM_CLOSE_GRACE", 3*time.Second),
		ExpirySweepPeriod: envDur("EXPIRY_SWEEP_PERIOD", 30*time.Second),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envInt64(k string, d int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
