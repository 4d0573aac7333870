package deps

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/quickbasket/internal/connectivity"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
	"github.com/MrSnakeDoc/quickbasket/internal/offline"
	"github.com/MrSnakeDoc/quickbasket/internal/orchestrator"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/tracker"
)

// ConnectivityReader exposes the monitor's last known state.
type ConnectivityReader interface {
	State() connectivity.State
}

// QueueStats exposes the scrape orchestrator's slot usage.
type QueueStats interface {
	Stats() orchestrator.Stats
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AllowedCIDRS   []string      // IPs allowed to reach the API (default: loopback only)
	TrustProxy     bool          // true if running behind a trusted reverse proxy
	APIRatePerMin  int           // requests per minute per IP on mutating API routes
	RequestTimeout time.Duration // per-request deadline on /api

	RedisClient    *redis.Client          // nil when running memory-only
	Projection     *projection.Projection // local tracked-item projection
	Tracker        *tracker.Tracker       // user-facing operations
	Connectivity   ConnectivityReader
	Scrapes        QueueStats
	Offline        *offline.Queue
	Notifier       *notify.Notifier
	Events         http.Handler  // websocket event stream
	SyncTrigger    func() bool   // asks the reconciler for a pass; false when one is pending
	CatalogBreaker func() string // catalog circuit breaker state
	Metrics        http.Handler  // prometheus exposition
}
