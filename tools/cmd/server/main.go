package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imghost/abuseguard/internal/analytics"
	"github.com/imghost/abuseguard/internal/api"
	"github.com/imghost/abuseguard/internal/config"
	"github.com/imghost/abuseguard/internal/db"
	"github.com/imghost/abuseguard/internal/geoip"
	"github.com/imghost/abuseguard/internal/logic"
	"github.com/imghost/abuseguard/internal/logic/admission"
	"github.com/imghost/abuseguard/internal/logic/lockout"
	"github.com/imghost/abuseguard/internal/logic/patterns"
	"github.com/imghost/abuseguard/internal/logic/ratelimit"
	"github.com/imghost/abuseguard/internal/logic/reports"
	"github.com/imghost/abuseguard/internal/logic/screening"
	"github.com/imghost/abuseguard/internal/logic/suspension"
	"github.com/imghost/abuseguard/internal/middleware"
	"github.com/imghost/abuseguard/internal/observability"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// counterStore backs the rate windows and failed-attempt records.
type counterStore interface {
	ratelimit.CounterStore
	ratelimit.CounterPurger
	lockout.AttemptStore
	api.Pinger
}

// moderationStore backs suspensions, flags, reports and upload history.
type moderationStore interface {
	suspension.Store
	reports.Store
	patterns.UploadHistory
	admission.FlagStore
	admission.UploadRecorder
	api.FlagLister
	api.Pinger
}

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	if cfg.TokenSecret == "" {
		return errors.New("TOKEN_SECRET is required: admission and moderation endpoints authenticate callers with it")
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	var (
		counters   counterStore
		moderation moderationStore
		checks     = map[string]api.Pinger{}
	)
	switch cfg.StoreBackend {
	case "memory":
		mem := db.NewMemoryStore()
		counters, moderation = mem, mem
		logger.Warn("using in-memory stores; state is lost on restart")
	default:
		store, err := db.InitRedis(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer store.Close()

		pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()

		counters, moderation = store, pg
		checks["redis"] = store
		checks["postgres"] = pg
	}

	var events analytics.EventSink = analytics.NewMockAnalytics()
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, cfg.CHMaxIdleConns, cfg.CHConnMaxLifetime, cfg.CHConnMaxIdleTime, metricsRegistry)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		events = ch
		checks["clickhouse"] = ch
	} else {
		logger.Info("CLICKHOUSE_DSN not set; admission events are kept in memory only")
	}

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		logger.Warn("geoip database unavailable; countries will be empty", zap.Error(err))
	} else {
		defer func() { _ = geoSvc.Close() }()
	}

	users := ratelimit.NewLimiter(ratelimit.ScopeUser, counters, cfg.CounterRetention, metricsRegistry)
	ips := ratelimit.NewLimiter(ratelimit.ScopeIP, counters, cfg.CounterRetention, metricsRegistry)
	tracker := lockout.NewTracker(counters, lockout.Config{
		MaxAttempts:  cfg.LockoutMaxAttempts,
		CaptchaAfter: cfg.LockoutCaptchaAfter,
		IdleReset:    cfg.LockoutIdleReset,
	}, metricsRegistry)
	suspensions := suspension.NewRegistry(moderation, cfg.SuspensionCacheTTL, logger, metricsRegistry)
	analyzer := patterns.NewAnalyzer(moderation, patterns.DefaultThresholds())
	workflow := reports.NewWorkflow(moderation, events, logger, metricsRegistry)

	guard := admission.NewGuard(admission.Deps{
		Users:       users,
		IPs:         ips,
		Lockout:     tracker,
		Suspensions: suspensions,
		Scanner:     screening.NewScanner(),
		Patterns:    analyzer,
		Flags:       moderation,
		Uploads:     moderation,
		Events:      events,
		Logger:      logger,
		Metrics:     metricsRegistry,
	}, admission.Config{
		FailureMode: logic.ParseFailureMode(cfg.StoreFailureMode),
		TierQuotas:  ratelimit.DefaultTierQuotas(cfg.UserWindow),
		IPQuotas: ratelimit.IPQuotas{
			Window:   cfg.IPWindow,
			Register: int64(cfg.IPRegisterLimit),
			Login:    int64(cfg.IPLoginLimit),
			Default:  int64(cfg.IPDefaultLimit),
		},
		BlockConfidence: cfg.ScreenBlockConfidence,
		DebugTrace:      cfg.DebugTrace,
	})
	logger.Info("admission policy loaded",
		zap.String("failure_mode", string(guard.Config().FailureMode)),
		zap.Float64("block_confidence", guard.Config().BlockConfidence),
		zap.String("store_backend", cfg.StoreBackend))

	srvDeps := api.NewServer(logger, guard, workflow, suspensions, moderation, counters, geoSvc, metricsRegistry, cfg)
	for name, c := range checks {
		srvDeps.Checks[name] = c
	}

	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(logger))
	srvDeps.RegisterRoutes(r)

	// metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port

	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, cfg.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Abuse guard running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	suspensions.Cache().StartCleanup(ctx, time.Minute)

	if cfg.PurgeInterval > 0 {
		ticker := time.NewTicker(cfg.PurgeInterval)
		go func() {
			for {
				select {
				case <-ticker.C:
					n, err := ratelimit.Purge(ctx, counters, cfg.CounterRetention, time.Now(), metricsRegistry)
					if err != nil {
						logger.Error("purge counters", zap.Error(err))
					} else if n > 0 {
						logger.Info("purged rate-limit counters", zap.Int64("count", n))
					}
					observability.LogDecisionSampling(logger)
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
