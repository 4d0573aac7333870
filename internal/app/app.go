package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/quickbasket/internal/alerts"
	"github.com/MrSnakeDoc/quickbasket/internal/browser"
	"github.com/MrSnakeDoc/quickbasket/internal/cache"
	"github.com/MrSnakeDoc/quickbasket/internal/catalog"
	"github.com/MrSnakeDoc/quickbasket/internal/config"
	"github.com/MrSnakeDoc/quickbasket/internal/connectivity"
	"github.com/MrSnakeDoc/quickbasket/internal/credentials"
	"github.com/MrSnakeDoc/quickbasket/internal/engine"
	"github.com/MrSnakeDoc/quickbasket/internal/events"
	"github.com/MrSnakeDoc/quickbasket/internal/extract"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver"
	"github.com/MrSnakeDoc/quickbasket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/quickbasket/internal/index"
	"github.com/MrSnakeDoc/quickbasket/internal/janitor"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/notify"
	"github.com/MrSnakeDoc/quickbasket/internal/offline"
	"github.com/MrSnakeDoc/quickbasket/internal/orchestrator"
	"github.com/MrSnakeDoc/quickbasket/internal/projection"
	"github.com/MrSnakeDoc/quickbasket/internal/reconcile"
	"github.com/MrSnakeDoc/quickbasket/internal/redis"
	"github.com/MrSnakeDoc/quickbasket/internal/schedule"
	redisstore "github.com/MrSnakeDoc/quickbasket/internal/store/redis"
	"github.com/MrSnakeDoc/quickbasket/internal/tracker"
	"github.com/MrSnakeDoc/quickbasket/internal/utils"
	"github.com/MrSnakeDoc/quickbasket/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	catalog     *catalog.Client
	opener      *browser.HTTPOpener
	hub         *events.Hub
	monitor     *connectivity.Monitor
	scheduler   *schedule.Scheduler
	scrapes     *orchestrator.Orchestrator
	reconciler  *reconcile.Reconciler
	alerts      *alerts.Poller
	janitor     *janitor.Collector
	items       *projection.Projection
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	store := redisstore.NewStore(redisClient)
	items := projection.New(index.NewMemoryIndex(), store, cfg.ImageCacheTTL, logger.Component(loggerClient, "projection"))

	hub := events.NewHub(logger.Component(loggerClient, "events"))

	// Catalog client, cached reads, breaker
	catalogClient := catalog.New(catalog.Options{
		BaseURL:        cfg.CatalogURL,
		Timeout:        cfg.CatalogTimeout,
		ClientID:       cfg.ClientID,
		ClientVersion:  cfg.ClientVersion,
		Credentials:    credentials.FromConfig(cfg.AuthToken, cfg.AuthTokenFile),
		BreakerTimeout: cfg.BreakerTimeout,
		BreakerTrips:   cfg.BreakerTrips,
	}, logger.Component(loggerClient, "catalog"))
	cached := catalog.NewCached(catalogClient,
		cache.New[[]catalog.Product](cfg.CacheTTL, 1),
		cache.New[*catalog.Product](cfg.CacheTTL, cfg.CacheMaxEntries))

	// Connectivity
	var external connectivity.Prober
	if cfg.ProbeURL != "" {
		external = connectivity.NewHTTPProbe(cfg.ProbeURL, version.UserAgent())
	}
	platform := connectivity.InterfacesUp
	if cfg.AssumeNetworkUp {
		platform = connectivity.AlwaysUp
	}
	monitor := connectivity.New(catalogClient, external, platform, hub, connectivity.Options{
		CacheTTL:     cfg.ConnectivityTTL,
		ProbeTimeout: cfg.ProbeTimeout,
		PollInterval: cfg.ProbeInterval,
	}, logger.Component(loggerClient, "connectivity"))

	sched := schedule.New(store.Alarms(), logger.Component(loggerClient, "schedule"), cfg.AlarmPoll)
	queue := offline.New(store.Offline(), logger.Component(loggerClient, "offline"))

	// Notification sinks: log and websocket always, Telegram when configured
	sinks := []notify.Sink{notify.NewLogSink(loggerClient), notify.NewHubSink(hub)}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, "")
		if err != nil {
			loggerClient.Warn("telegram notifications disabled", logger.Error(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	notifier := notify.New(cfg.NotifyWindow, cfg.DashboardURL, logger.Component(loggerClient, "notify"), sinks...)

	table, err := extract.LoadTable(cfg.SelectorsFile)
	if err != nil {
		loggerClient.Errorf("Failed to load extraction selectors: %v", err)
		os.Exit(1)
	}
	opener := browser.NewHTTPOpener(extract.New(table), cfg.UserAgent, cfg.PageRateLimit, logger.Component(loggerClient, "browser"))

	scrapes := orchestrator.New(orchestrator.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		JobTimeout:    cfg.JobTimeout,
		SettleDelay:   cfg.SettleDelay,
		TeardownDelay: cfg.TeardownDelay,
		FailureRetry:  cfg.FailureRetry,
		PingAttempts:  cfg.PingAttempts,
		PingDelay:     cfg.PingDelay,
		PastDueDelay:  cfg.PastDueDelay,
		MaxJitter:     cfg.MaxJitter,
	}, orchestrator.Deps{
		Opener:     opener,
		Recorder:   cached,
		Gate:       monitor,
		Offline:    queue,
		Projection: items,
		Scheduler:  sched,
		Notifier:   notifier,
		Events:     hub,
		Logger:     logger.Component(loggerClient, "orchestrator"),
	})

	reconciler := reconcile.New(cached, monitor, items, sched, hub, reconcile.Options{
		Interval:     cfg.SyncInterval,
		PastDueDelay: cfg.PastDueDelay,
		MaxJitter:    cfg.MaxJitter,
	}, logger.Component(loggerClient, "reconcile"))

	// Alarm and reconnect routing
	eng := engine.New(monitor, queue, scrapes, reconciler, items, logger.Component(loggerClient, "engine"))
	sched.SetHandler(eng.OnAlarm)
	monitor.OnTransition(eng.OnConnectivity)

	track := tracker.New(tracker.Options{
		MaxProducts:  cfg.MaxProducts,
		MaxJitter:    cfg.MaxJitter,
		PastDueDelay: cfg.PastDueDelay,
	}, tracker.Deps{
		Catalog:    cached,
		Gate:       monitor,
		Projection: items,
		Scheduler:  sched,
		Offline:    queue,
		Jobs:       scrapes,
		Notifier:   notifier,
		Events:     hub,
		Logger:     logger.Component(loggerClient, "tracker"),
	})

	poller := alerts.NewPoller(catalogClient, monitor, notifier, logger.Component(loggerClient, "alerts"), cfg.AlertPollEvery)
	collector := janitor.New(items, sched, queue, scrapes.Busy, logger.Component(loggerClient, "janitor"),
		cfg.JanitorEvery, cfg.PastDueDelay, cfg.MaxJitter)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		TimeNow:        time.Now,
		AllowedCIDRS:   cfg.AllowedCIDRS,
		TrustProxy:     cfg.TrustProxy,
		APIRatePerMin:  cfg.APIRatePerMin,
		RequestTimeout: cfg.RequestTimeout,
		RedisClient:    redisClient,
		Projection:     items,
		Tracker:        track,
		Connectivity:   monitor,
		Scrapes:        scrapes,
		Offline:        queue,
		Notifier:       notifier,
		Events:         hub,
		SyncTrigger:    reconciler.Trigger,
		CatalogBreaker: catalogClient.BreakerState,
		Metrics:        promhttp.Handler(),
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		catalog:     catalogClient,
		opener:      opener,
		hub:         hub,
		monitor:     monitor,
		scheduler:   sched,
		scrapes:     scrapes,
		reconciler:  reconciler,
		alerts:      poller,
		janitor:     collector,
		items:       items,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting QuickBasket engine v%s on %s", version.Version, a.cfg.ListenAddr)
	a.logger.Infof("QuickBasket %s", version.Summary())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local state first; alarms and handlers read it
	if err := a.items.Load(ctx); err != nil {
		a.logger.Warn("failed to load tracked items from redis, starting empty",
			logger.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(gctx) })

	// The first connectivity transition drains the offline queue and syncs.
	if err := a.monitor.Start(gctx); err != nil {
		return fmt.Errorf("failed to start connectivity monitor: %w", err)
	}
	a.logger.Info("connectivity monitor started",
		logger.Duration("interval", a.cfg.ProbeInterval))

	if err := a.scheduler.Start(gctx); err != nil {
		return fmt.Errorf("failed to start alarm scheduler: %w", err)
	}
	a.logger.Info("alarm scheduler started",
		logger.Duration("poll", a.cfg.AlarmPoll))

	if err := a.reconciler.Start(gctx); err != nil {
		return fmt.Errorf("failed to start sync reconciler: %w", err)
	}
	a.logger.Info("sync reconciler started",
		logger.Duration("interval", a.cfg.SyncInterval))

	if err := a.alerts.Start(gctx); err != nil {
		return fmt.Errorf("failed to start alert poller: %w", err)
	}
	if err := a.janitor.Start(gctx); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("⏳ Shutting down gracefully...")
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) shutdown() error {
	a.janitor.Stop()
	a.alerts.Stop()
	a.reconciler.Stop()
	a.scheduler.Stop()
	a.monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	if err := a.scrapes.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("scrape jobs did not finish before shutdown deadline", logger.Error(err))
	}

	utils.MustClose(a.opener, a.logger)
	utils.MustClose(a.catalog, a.logger)
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ QuickBasket stopped cleanly")
	_ = a.logger.Sync()
	return nil
}
