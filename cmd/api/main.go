package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/riskauth/internal/anomaly"
	"github.com/BradenHooton/riskauth/internal/auth"
	"github.com/BradenHooton/riskauth/internal/background"
	"github.com/BradenHooton/riskauth/internal/config"
	"github.com/BradenHooton/riskauth/internal/database"
	"github.com/BradenHooton/riskauth/internal/events"
	"github.com/BradenHooton/riskauth/internal/geoip"
	"github.com/BradenHooton/riskauth/internal/handlers"
	"github.com/BradenHooton/riskauth/internal/locks"
	"github.com/BradenHooton/riskauth/internal/metrics"
	middlewareCustom "github.com/BradenHooton/riskauth/internal/middleware"
	"github.com/BradenHooton/riskauth/internal/repositories"
	"github.com/BradenHooton/riskauth/internal/risk"
	"github.com/BradenHooton/riskauth/internal/routes"
	"github.com/BradenHooton/riskauth/internal/services"
	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
	pkglogger "github.com/BradenHooton/riskauth/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// historyBackend bundles the selected history store with what main needs to
// manage it
type historyBackend struct {
	store     services.LoginHistoryStore
	retention background.RetentionStore
	health    handlers.HealthChecker
	audit     *repositories.DecisionAuditRepository
	close     func()
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("history_driver", cfg.History.Driver),
		slog.String("lock_backend", cfg.Lock.Backend),
	)

	// Load the frozen scoring artifacts; the service refuses to start without them
	model, err := anomaly.LoadModel(cfg.Model.Dir)
	if err != nil {
		logger.Error("failed to load anomaly model", slog.String("dir", cfg.Model.Dir), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("anomaly model loaded",
		slog.String("dir", cfg.Model.Dir),
		slog.String("error_metric", model.Metric()),
		slog.Int("known_addresses", model.Frequencies().Len()),
	)
	if model.Frequencies().Len() == 0 {
		logger.Warn("no network address frequencies loaded, every address scores as unseen",
			slog.String("file", filepath.Join(cfg.Model.Dir, anomaly.FrequenciesFile)),
		)
	}

	thresholds := risk.DefaultThresholds()
	if cfg.Model.PolicyFile != "" {
		thresholds, err = risk.LoadThresholds(cfg.Model.PolicyFile)
		if err != nil {
			logger.Error("failed to load risk policy", slog.String("path", cfg.Model.PolicyFile), slog.Any("error", err))
			os.Exit(1)
		}
	}

	policy, err := risk.NewPolicy(thresholds)
	if err != nil {
		logger.Error("invalid risk policy", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize login history
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	history, err := openHistory(initCtx, cfg, logger)
	initCancel()
	if err != nil {
		logger.Error("failed to initialize login history", slog.Any("error", err))
		os.Exit(1)
	}
	defer history.close()

	// Initialize identity lock
	var locker locks.Locker = locks.NewMemoryLocker()
	if cfg.Lock.Backend == config.LockBackendRedis {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		defer redisClient.Close()

		redisLocker := locks.NewRedisLocker(redisClient, cfg.Lock.TTL, logger)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisLocker.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.String("addr", cfg.Lock.RedisAddr), slog.Any("error", err))
			os.Exit(1)
		}
		locker = redisLocker
	}

	// Initialize evaluation service
	detector := risk.NewContextChangeDetector(cfg.Model.LocationEpsilon)
	evaluationService, err := services.NewEvaluationService(history.store, model, policy, detector, locker, logger)
	if err != nil {
		logger.Error("failed to initialize evaluation service", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger, cfg.Server.Env)
	challengeManager := auth.NewChallengeManager(cfg.Challenge.Secret, cfg.Challenge.Expiry)

	evaluationService.SetClockSkew(cfg.Model.ClockSkew)
	evaluationService.SetAuditLogger(auditLogger)
	evaluationService.SetChallengeIssuer(challengeManager)
	evaluationService.SetMetrics(metrics.NewRecorder())
	if history.audit != nil {
		evaluationService.SetAuditRepository(history.audit)
	}

	if len(cfg.Events.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
		if err != nil {
			logger.Error("failed to initialize decision publisher", slog.Any("error", err))
			os.Exit(1)
		}
		defer publisher.Close()
		evaluationService.SetPublisher(publisher)
		logger.Info("decision events enabled", slog.String("topic", cfg.Events.Topic))
	}

	if cfg.GeoIP.CityDB != "" {
		locator, err := geoip.Open(cfg.GeoIP.CityDB)
		if err != nil {
			logger.Error("failed to open geoip database", slog.String("path", cfg.GeoIP.CityDB), slog.Any("error", err))
			os.Exit(1)
		}
		defer locator.Close()
		evaluationService.SetGeoLocator(locator)
	}

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	h := routes.Handlers{
		Login:     handlers.NewLoginHandler(evaluationService, logger, cfg.Server.Env),
		Challenge: handlers.NewChallengeHandler(challengeManager, auditLogger, ipConfig),
		Health:    handlers.NewHealthHandler(history.health, model),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, middlewareCustom.LoggerConfig{Env: cfg.Server.Env, IPConfig: ipConfig}))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	loginLimit := middlewareCustom.DefaultLoginRateLimit()
	if cfg.Server.LoginRateLimitPerMinute > 0 {
		loginLimit.RequestsPerMinute = cfg.Server.LoginRateLimitPerMinute
	}

	routes.RegisterRoutes(router, h, routes.Config{
		LoginRateLimit:     loginLimit,
		ChallengeRateLimit: middlewareCustom.DefaultChallengeRateLimit(),
		IPConfig:           ipConfig,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start retention cleanup
	cleanupManager := background.NewCleanupManager(history.retention, auditCleaner(history.audit), logger,
		cfg.History.CleanupInterval, cfg.History.Retention)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// openHistory connects the configured history driver and applies migrations
func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*historyBackend, error) {
	switch cfg.History.Driver {
	case config.DriverPostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.History.MigrateOnStart {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		repo := repositories.NewLoginHistoryRepository(db)
		return &historyBackend{
			store:     repo,
			retention: repo,
			health:    db,
			audit:     repositories.NewDecisionAuditRepository(db),
			close:     db.Close,
		}, nil

	case config.DriverSQLite:
		repo, err := repositories.NewSQLiteHistoryRepository(cfg.History.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if cfg.History.MigrateOnStart {
			if err := repo.Migrate(ctx); err != nil {
				repo.Close()
				return nil, err
			}
		}
		return &historyBackend{
			store:     repo,
			retention: repo,
			health:    repo,
			close:     func() { _ = repo.Close() },
		}, nil

	default:
		logger.Warn("using in-memory login history; history is lost on restart")
		repo := repositories.NewMemoryHistoryRepository()
		return &historyBackend{
			store:     repo,
			retention: repo,
			close:     func() {},
		}, nil
	}
}

// auditCleaner avoids handing a typed nil to the cleanup manager
func auditCleaner(repo *repositories.DecisionAuditRepository) background.AuditCleaner {
	if repo == nil {
		return nil
	}
	return repo
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
