package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/version"
)

type Config struct {
	ListenAddr      string        // ex: "127.0.0.1:8787"
	ShutdownTimeout time.Duration // ex: 10s
	RequestTimeout  time.Duration // per-request timeout on /api routes (default: 30s)

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Remote catalog service
	CatalogURL     string        // base URL of the catalog API (ex: http://localhost:8000)
	CatalogTimeout time.Duration // explicit timeout on every catalog call (default: 15s)
	ClientID       string        // sent as X-Client-Id
	ClientVersion  string        // sent as X-Client-Version
	AuthToken      string        // optional static bearer token
	AuthTokenFile  string        // optional file holding the bearer token (re-read on change)
	BreakerTimeout time.Duration // how long the catalog breaker stays open (default: 30s)
	BreakerTrips   int           // consecutive failures before the breaker opens (default: 5)

	// Connectivity
	ProbeURL          string        // optional external endpoint probed besides the backend health check
	ProbeTimeout      time.Duration // per-probe timeout (default: 4s)
	ConnectivityTTL   time.Duration // how long an affirmative answer is reused (default: 30s)
	ProbeInterval     time.Duration // background forced-probe cadence (default: 30s)
	AssumeNetworkUp   bool          // skip the network interface check (containers without a useful interface list)

	// Scrape orchestrator
	MaxConcurrent  int           // max simultaneously open browsing contexts (default: 3)
	JobTimeout     time.Duration // total per-job timeout (default: 45s)
	SettleDelay    time.Duration // fixed wait after load for client-rendered content (default: 5s)
	TeardownDelay  time.Duration // wait before closing a context (default: 2s)
	FailureRetry   time.Duration // reschedule delay after a failed scrape (default: 5m)
	PingAttempts   int           // companion ping attempts after injection (default: 5)
	PingDelay      time.Duration // initial delay between ping attempts (default: 500ms)
	PageRateLimit  float64       // page loads per second across all contexts (default: 1)
	UserAgent      string        // user agent used by the page loader
	SelectorsFile  string        // optional YAML override for extraction selectors
	MaxProducts    int           // max tracked products (default: 100)

	// Scheduling and sync
	SyncInterval   time.Duration // periodic full reconciliation (default: 30m)
	PastDueDelay   time.Duration // delay applied to past-due items on sync (default: 1m)
	MaxJitter      time.Duration // upper bound of the random jitter added to fire times (default: 30s)
	AlarmPoll      time.Duration // how often the schedule store is polled for due alarms (default: 5s)
	AlertPollEvery time.Duration // pending alert polling cadence (default: 5m)
	JanitorEvery   time.Duration // orphan alarm / offline entry cleanup cadence (default: 1h)

	// Caches and notifications
	CacheTTL          time.Duration // TTL of GET responses (default: 30s)
	CacheMaxEntries   int           // bound on cached GET responses (default: 20)
	ImageCacheTTL     time.Duration // TTL of cached product images (default: 7 days)
	NotifyWindow      time.Duration // dedupe window for notifications (default: 5s)
	DashboardURL      string        // opened when a notification is clicked
	TelegramToken     string        // optional, enables the Telegram notification sink
	TelegramChatID    int64         // chat receiving Telegram notifications
	APIRatePerMin     int           // per-IP requests per minute on mutating API routes (default: 60)

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedCIDRS []string // optional, restrict access to specific IPs (default: loopback only)
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenAddr:      getenv("QB_LISTEN_ADDR", "127.0.0.1:8787"),
		ShutdownTimeout: mustDuration("QB_SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  mustDuration("QB_REQUEST_TIMEOUT", 30*time.Second),

		// Logging
		LogLevel:  getenv("QB_LOG_LEVEL", "info"),
		PrettyLog: mustBool("QB_PRETTY_LOG", true),

		// Catalog
		CatalogURL:     strings.TrimRight(requireEnv("QB_CATALOG_URL"), "/"),
		CatalogTimeout: mustDuration("QB_CATALOG_TIMEOUT", 15*time.Second),
		ClientID:       getenv("QB_CLIENT_ID", "quickbasket-engine"),
		ClientVersion:  getenv("QB_CLIENT_VERSION", version.Version),
		AuthToken:      getenv("QB_AUTH_TOKEN", ""),
		AuthTokenFile:  getenv("QB_AUTH_TOKEN_FILE", ""),
		BreakerTimeout: mustDuration("QB_BREAKER_TIMEOUT", 30*time.Second),
		BreakerTrips:   getenvInt("QB_BREAKER_TRIPS", 5),

		// Connectivity
		ProbeURL:        getenv("QB_PROBE_URL", ""),
		ProbeTimeout:    mustDuration("QB_PROBE_TIMEOUT", 4*time.Second),
		ConnectivityTTL: mustDuration("QB_CONNECTIVITY_TTL", 30*time.Second),
		ProbeInterval:   mustDuration("QB_PROBE_INTERVAL", 30*time.Second),
		AssumeNetworkUp: mustBool("QB_ASSUME_NETWORK_UP", false),

		// Orchestrator
		MaxConcurrent: getenvInt("QB_MAX_CONCURRENT", 3),
		JobTimeout:    mustDuration("QB_JOB_TIMEOUT", 45*time.Second),
		SettleDelay:   mustDuration("QB_SETTLE_DELAY", 5*time.Second),
		TeardownDelay: mustDuration("QB_TEARDOWN_DELAY", 2*time.Second),
		FailureRetry:  mustDuration("QB_FAILURE_RETRY", 5*time.Minute),
		PingAttempts:  getenvInt("QB_PING_ATTEMPTS", 5),
		PingDelay:     mustDuration("QB_PING_DELAY", 500*time.Millisecond),
		PageRateLimit: getenvFloat("QB_PAGE_RATE_LIMIT", 1),
		UserAgent:     getenv("QB_USER_AGENT", defaultUserAgent),
		SelectorsFile: getenv("QB_SELECTORS_FILE", ""),
		MaxProducts:   getenvInt("QB_MAX_PRODUCTS", 100),

		// Scheduling
		SyncInterval:   mustDuration("QB_SYNC_INTERVAL", 30*time.Minute),
		PastDueDelay:   mustDuration("QB_PAST_DUE_DELAY", time.Minute),
		MaxJitter:      mustDuration("QB_MAX_JITTER", 30*time.Second),
		AlarmPoll:      mustDuration("QB_ALARM_POLL", 5*time.Second),
		AlertPollEvery: mustDuration("QB_ALERT_POLL_INTERVAL", 5*time.Minute),
		JanitorEvery:   mustDuration("QB_JANITOR_INTERVAL", time.Hour),

		// Caches and notifications
		CacheTTL:          mustDuration("QB_CACHE_TTL", 30*time.Second),
		CacheMaxEntries:   getenvInt("QB_CACHE_MAX_ENTRIES", 20),
		ImageCacheTTL:     mustDuration("QB_IMAGE_CACHE_TTL", 7*24*time.Hour),
		NotifyWindow:      mustDuration("QB_NOTIFY_WINDOW", 5*time.Second),
		DashboardURL:      getenv("QB_DASHBOARD_URL", "http://localhost:5173/dashboard"),
		TelegramToken:     getenv("QB_TELEGRAM_TOKEN", ""),
		TelegramChatID:    getenvInt64("QB_TELEGRAM_CHAT_ID", 0),
		APIRatePerMin:     getenvInt("QB_API_RATE_PER_MIN", 60),

		// Redis settings
		RedisAddr:             requireEnv("QB_REDIS_ADDR"),
		RedisUser:             getenv("QB_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("QB_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("QB_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("QB_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("QB_ALLOWED_CIDRS", "127.0.0.1/32,::1/128")),
		TrustProxy:   mustBool("QB_TRUST_PROXY", false),
	}

	// Validate Redis password configuration
	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: QB_REDIS_PASSWORD is required when QB_REDIS_PASSWORD_REQUIRED=true")
	}
	if cfg.MaxConcurrent < 1 {
		panic(fmt.Sprintf("❌ FATAL: QB_MAX_CONCURRENT must be >= 1, got %d", cfg.MaxConcurrent))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		panic("❌ FATAL: QB_TELEGRAM_CHAT_ID is required when QB_TELEGRAM_TOKEN is set")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	cp.RedisPassword = redact(c.RedisPassword)
	if c.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	cp.AuthToken = redact(c.AuthToken)
	cp.TelegramToken = redact(c.TelegramToken)
	return cp
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***REDACTED***"
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
