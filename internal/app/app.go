// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statusbeacon/statusbeacon/internal/config"
	"github.com/statusbeacon/statusbeacon/internal/fanout"
	"github.com/statusbeacon/statusbeacon/internal/idempotency"
	idempotencypostgres "github.com/statusbeacon/statusbeacon/internal/idempotency/postgres"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
	incidentspostgres "github.com/statusbeacon/statusbeacon/internal/incidents/postgres"
	"github.com/statusbeacon/statusbeacon/internal/notifications"
	"github.com/statusbeacon/statusbeacon/internal/notifications/email"
	notificationspostgres "github.com/statusbeacon/statusbeacon/internal/notifications/postgres"
	"github.com/statusbeacon/statusbeacon/internal/pkg/ctxlog"
	"github.com/statusbeacon/statusbeacon/internal/pkg/httputil"
	"github.com/statusbeacon/statusbeacon/internal/pkg/metrics"
	"github.com/statusbeacon/statusbeacon/internal/pkg/postgres"
	"github.com/statusbeacon/statusbeacon/internal/postmortems"
	postmortemspostgres "github.com/statusbeacon/statusbeacon/internal/postmortems/postgres"
	"github.com/statusbeacon/statusbeacon/internal/status"
	"github.com/statusbeacon/statusbeacon/internal/stream"
	"github.com/statusbeacon/statusbeacon/internal/version"
	"github.com/statusbeacon/statusbeacon/migrations"
)

// App represents the application instance.
type App struct {
	config         *config.Config
	logger         *slog.Logger
	db             *pgxpool.Pool
	server         *http.Server
	metricsServer  *http.Server
	metricsCancel  context.CancelFunc
	deliveryWorker *notifications.Worker
	statusService  *status.Service
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := postgres.Migrate(migrations.FS, cfg.Database.URL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop the delivery worker first so in-flight sends finish
	if a.deliveryWorker != nil {
		a.deliveryWorker.Stop()
	}

	if a.statusService != nil {
		a.statusService.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// DeliveryWorker returns the email delivery worker instance.
// Used in tests to access worker state.
func (a *App) DeliveryWorker() *notifications.Worker {
	return a.deliveryWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if a.config.RateLimit.Enabled {
		r.Use(httputil.RateLimitMiddleware(httputil.RateLimitConfig{
			RequestsPerSecond: a.config.RateLimit.RequestsPerSecond,
			Burst:             a.config.RateLimit.Burst,
		}))
	}

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	emailSender, err := email.NewSender(email.Config{
		Enabled:      a.config.Email.Enabled,
		SMTPHost:     a.config.Email.SMTPHost,
		SMTPPort:     a.config.Email.SMTPPort,
		SMTPUser:     a.config.Email.SMTPUser,
		SMTPPassword: a.config.Email.SMTPPassword,
		FromAddress:  a.config.Email.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}

	if !a.config.Email.Enabled {
		slog.Warn("email sender is disabled: subscriber notifications will not be sent")
	}

	notificationsRepo := notificationspostgres.NewRepository(a.db)
	dispatcher := notifications.NewDispatcher(notificationsRepo)
	notifier := notifications.NewNotifier(dispatcher)
	notificationsService := notifications.NewService(notificationsRepo)
	notificationsHandler := notifications.NewHandler(notificationsService)

	a.deliveryWorker = notifications.NewWorker(notifications.WorkerConfig{
		BatchSize:         a.config.Worker.BatchSize,
		PollInterval:      a.config.Worker.PollInterval,
		MaxAttempts:       a.config.Worker.MaxAttempts,
		InitialBackoff:    a.config.Worker.InitialBackoff,
		MaxBackoff:        a.config.Worker.MaxBackoff,
		BackoffMultiplier: a.config.Worker.BackoffMultiplier,
		NumWorkers:        a.config.Worker.NumWorkers,
	}, notificationsRepo, emailSender)
	a.deliveryWorker.Start(ctx)

	broadcaster := stream.NewBroadcaster(a.config.Stream.HistoryLimit)
	streamHandler := stream.NewHandler(broadcaster, a.config.Stream.HeartbeatInterval)

	incidentsRepo := incidentspostgres.NewRepository(a.db)

	a.statusService = status.NewService(incidentsRepo, a.config.StatusCache.TTL)
	statusHandler := status.NewHandler(a.statusService)

	sink := fanout.New(notifier, broadcaster, a.statusService)

	incidentsService := incidents.NewService(incidentsRepo, sink)
	incidentsHandler := incidents.NewHandler(incidentsService)

	postmortemsRepo := postmortemspostgres.NewRepository(a.db)
	postmortemsService := postmortems.NewService(postmortemsRepo, incidentsService, sink)
	postmortemsHandler := postmortems.NewHandler(postmortemsService)

	idempotencyRepo := idempotencypostgres.NewRepository(a.db)
	idempotent := idempotency.Middleware(idempotencyRepo)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(idempotent)

			incidentsHandler.RegisterRoutes(r)
			postmortemsHandler.RegisterRoutes(r)
			notificationsHandler.RegisterAdminRoutes(r)
			notificationsHandler.RegisterPublicRoutes(r)
		})

		r.Route("/public", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				statusHandler.RegisterRoutes(r)
				postmortemsHandler.RegisterPublicRoutes(r)
			})
			streamHandler.RegisterPublicRoutes(r)
		})

		streamHandler.RegisterAdminRoutes(r)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
