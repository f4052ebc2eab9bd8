package config

import "time"

// DefaultAPIEndpoint is the public LaunchDarkly host.
const DefaultAPIEndpoint = "https://app.launchdarkly.com/"

// AuditConfig holds runtime configuration for the audit log tools.
type AuditConfig struct {
	APIKey               string
	APIEndpoint          string
	PageSize             int
	WindowDays           int
	HTTPTimeout          time.Duration
	RateLimitDefaultWait time.Duration
	RateLimitMaxWait     time.Duration
	ServerRetryDelay     time.Duration
	MaxAttempts          int
	RequestsPerSecond    float64
	DatabaseURL          string
	MigrationsDir        string
	AutoMigrate          bool
	CacheRedisAddr       string
	CacheRedisPass       string
	CacheRedisDB         int
	CacheTTL             time.Duration
	MetricsTextfile      string
	LogLevel             string
}

// LoadAuditConfig constructs an AuditConfig from environment variables.
func LoadAuditConfig() AuditConfig {
	return AuditConfig{
		APIKey:               GetString("LD_API_KEY", ""),
		APIEndpoint:          GetString("LD_API_ENDPOINT", DefaultAPIEndpoint),
		PageSize:             GetInt("LD_PAGE_SIZE", 20),
		WindowDays:           GetInt("LD_WINDOW_DAYS", 30),
		HTTPTimeout:          GetDuration("LD_HTTP_TIMEOUT", 30*time.Second),
		RateLimitDefaultWait: GetMillis("LD_RATE_LIMIT_DEFAULT_WAIT_MS", 2000*time.Millisecond),
		RateLimitMaxWait:     GetDuration("LD_RATE_LIMIT_MAX_WAIT", time.Minute),
		ServerRetryDelay:     GetMillis("LD_SERVER_RETRY_DELAY_MS", 1000*time.Millisecond),
		MaxAttempts:          GetInt("LD_MAX_ATTEMPTS", 20),
		RequestsPerSecond:    GetFloat("LD_REQUESTS_PER_SECOND", 0),
		DatabaseURL:          GetString("DATABASE_URL", ""),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", ""),
		AutoMigrate:          GetBool("DB_AUTO_MIGRATE", true),
		CacheRedisAddr:       GetString("CACHE_REDIS_ADDR", ""),
		CacheRedisPass:       GetString("CACHE_REDIS_PASSWORD", ""),
		CacheRedisDB:         GetInt("CACHE_REDIS_DB", 0),
		CacheTTL:             GetDuration("CACHE_TTL", 7*24*time.Hour),
		MetricsTextfile:      GetString("METRICS_TEXTFILE", ""),
		LogLevel:             GetString("LOG_LEVEL", "info"),
	}
}

// Window returns the audit window ending at now.
func (c AuditConfig) Window(now time.Time) (after, before time.Time) {
	days := c.WindowDays
	if days <= 0 {
		days = 30
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), now
}
