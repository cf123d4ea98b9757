// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ndhoang/fraudguard/internal/alerts"
	"github.com/ndhoang/fraudguard/internal/analysis"
	"github.com/ndhoang/fraudguard/internal/analyst"
	"github.com/ndhoang/fraudguard/internal/blacklist"
	"github.com/ndhoang/fraudguard/internal/config"
	"github.com/ndhoang/fraudguard/internal/engine"
	"github.com/ndhoang/fraudguard/internal/health"
	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/metrics"
	"github.com/ndhoang/fraudguard/internal/model"
	"github.com/ndhoang/fraudguard/internal/profile"
	"github.com/ndhoang/fraudguard/internal/ratelimit"
	"github.com/ndhoang/fraudguard/internal/realtime"
	"github.com/ndhoang/fraudguard/internal/rules"
	"github.com/ndhoang/fraudguard/internal/security"
	"github.com/ndhoang/fraudguard/internal/traces"
	"github.com/ndhoang/fraudguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg       *config.Config
	profiles  profile.Store
	analyses  analysis.Store
	alerts    *alerts.Service
	engine    *engine.Engine
	blacklist *blacklist.Blacklist
	refresher *blacklist.Refresher
	hub       *realtime.Hub
	checks    *health.Registry

	rateLimiter    *ratelimit.Limiter
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

	// test hook, set via WithAnalyst
	analystCompleter analyst.Completer

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAnalyst sets a custom analyst completer (for testing)
func WithAnalyst(c analyst.Completer) Option {
	return func(s *Server) {
		s.analystCompleter = c
	}
}

// New creates a server with all stores, oracles, and routes wired up.
// Stores are PostgreSQL-backed when DATABASE_URL is set, in-memory otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		format := "text"
		if cfg.IsProduction() {
			format = "json"
		}
		s.logger = logging.New(cfg.LogLevel, format)
	}

	// Stores: Postgres in production, memory for local/demo runs
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "dsn", maskDSN(cfg.DatabaseURL))

		profileStore := profile.NewPostgresStore(db)
		analysisStore := analysis.NewPostgresStore(db)
		alertStore := alerts.NewPostgresStore(db)
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelMigrate()
		for name, m := range map[string]interface {
			Migrate(context.Context) error
		}{
			"profiles": profileStore,
			"analyses": analysisStore,
			"alerts":   alertStore,
		} {
			if err := m.Migrate(migrateCtx); err != nil {
				s.logger.Warn("migration failed, assuming schema exists", "store", name, "error", err)
			}
		}
		s.profiles = profileStore
		s.analyses = analysisStore
		s.alerts = alerts.NewService(alertStore, s.notifier(), s.bands())

		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
		s.profiles = profile.NewMemoryStore()
		s.analyses = analysis.NewMemoryStore()
		s.alerts = alerts.NewService(alerts.NewMemoryStore(), s.notifier(), s.bands())
	}

	// Reject webhook endpoints that would let a config mistake turn the
	// alert notifier into an SSRF vector.
	if cfg.AlertWebhookURL != "" && cfg.IsProduction() {
		if err := security.ValidateEndpointURL(cfg.AlertWebhookURL); err != nil {
			return nil, fmt.Errorf("alert webhook endpoint rejected: %w", err)
		}
	}

	// IP blacklist: live feed with snapshot fallback
	s.blacklist = blacklist.New(cfg.BlacklistURL, cfg.BlacklistSnapshot)
	s.refresher = blacklist.NewRefresher(s.blacklist, s.logger, cfg.BlacklistRefresh)

	// Statistical model oracle (neutral when no artifact configured)
	modelOracle := model.NewOracle(context.Background(), cfg.ModelParamsPath)

	// Language-model analyst oracle (fallback verdicts when unconfigured)
	completer := s.analystCompleter
	if completer == nil && cfg.AnalystAPIKey != "" {
		completer = analyst.NewClient(cfg.AnalystAPIURL, cfg.AnalystAPIKey, cfg.AnalystModel)
	}
	analystOracle := analyst.NewOracle(completer, cfg.AnalystTimeout)
	if completer != nil {
		s.checks.Register("analyst", func(ctx context.Context) health.Status {
			if !analystOracle.Ready() {
				return health.Status{Name: "analyst", Healthy: false, Detail: "circuit open"}
			}
			return health.Status{Name: "analyst", Healthy: true}
		})
	} else {
		s.logger.Info("analyst oracle disabled (no ANALYST_API_KEY set)")
	}

	// Realtime hub for WebSocket verdict/alert streaming
	s.hub = realtime.NewHub(s.logger)

	s.engine = engine.New(engine.Config{
		Policy: engine.Policy{
			SuspicionThreshold: cfg.SuspicionThreshold,
			AIWeight:           cfg.AIWeight,
		},
		RuleParams: rules.Params{
			AmountFactor:    cfg.AmountFactor,
			VelocityPerHour: cfg.VelocityPerHour,
			OffHoursStart:   cfg.OffHoursStart,
			OffHoursEnd:     cfg.OffHoursEnd,
		},
		HistoryLimit: cfg.HistoryLimit,
	}, s.profiles, s.analyses, modelOracle, analystOracle, s.alerts, s.blacklist, s.hub)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) notifier() *alerts.Notifier {
	return alerts.NewNotifier(s.cfg.AlertWebhookURL, s.cfg.AlertWebhookSecret, s.logger)
}

func (s *Server) bands() alerts.Bands {
	return alerts.Bands{Medium: s.cfg.AlertMediumScore, High: s.cfg.AlertHighScore}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time verdict and alert streaming
	s.router.GET("/ws/feed", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/transactions", s.scoreTransaction)
		v1.POST("/transactions/:id/verify", s.verifyTransaction)
		v1.GET("/users/:id/profile", s.userProfile)
		v1.GET("/users/:id/alerts", s.userAlerts)
	}
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	allHealthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdownTraces
	}

	// Load the blacklist before accepting traffic: live feed, then
	// snapshot, then empty set.
	s.blacklist.Load(runCtx)
	go s.refresher.Start(runCtx)

	go s.hub.Run(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"blacklist_size", s.blacklist.Size(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, refresher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.refresher != nil {
		s.refresher.Stop()
		s.logger.Info("blacklist refresher stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
