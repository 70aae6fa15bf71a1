// Package server wires the HTTP API: wallet, checkout, agent catalog,
// invocations, and the admin reconciliation surface.
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
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

	"github.com/thecyberlearn/quantum-tasks/internal/agents"
	"github.com/thecyberlearn/quantum-tasks/internal/checkout"
	"github.com/thecyberlearn/quantum-tasks/internal/circuitbreaker"
	"github.com/thecyberlearn/quantum-tasks/internal/config"
	"github.com/thecyberlearn/quantum-tasks/internal/idgen"
	"github.com/thecyberlearn/quantum-tasks/internal/invocation"
	"github.com/thecyberlearn/quantum-tasks/internal/logging"
	"github.com/thecyberlearn/quantum-tasks/internal/metrics"
	"github.com/thecyberlearn/quantum-tasks/internal/payments"
	"github.com/thecyberlearn/quantum-tasks/internal/ratelimit"
	"github.com/thecyberlearn/quantum-tasks/internal/reconciliation"
	"github.com/thecyberlearn/quantum-tasks/internal/security"
	"github.com/thecyberlearn/quantum-tasks/internal/validation"
	"github.com/thecyberlearn/quantum-tasks/internal/wallet"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg           *config.Config
	wallet        *wallet.Wallet
	checkout      *checkout.Service
	catalog       agents.Store
	invocations   *invocation.Service
	reconciler    *reconciliation.Runner
	reconcile     *reconciliation.Timer
	gateway       payments.Gateway
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil in demo mode
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	shutdownTrace func(context.Context) error
	cancelRunCtx  context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway (for testing).
func WithGateway(g payments.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance. Storage is PostgreSQL when
// DATABASE_URL is set, in-memory otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	var (
		walletStore     wallet.Store
		checkoutStore   checkout.Store
		invocationStore invocation.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		walletStore = wallet.NewPostgresStore(db)
		checkoutStore = checkout.NewPostgresStore(db)
		invocationStore = invocation.NewPostgresStore(db)
		s.catalog = agents.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		walletStore = wallet.NewMemoryStore()
		checkoutStore = checkout.NewMemoryStore()
		invocationStore = invocation.NewMemoryStore()
		s.catalog = agents.NewSeededMemoryStore(cfg.N8NWebhookBase)
	}

	s.wallet = wallet.New(walletStore)

	if s.gateway == nil {
		if cfg.StripeSecretKey != "" {
			s.gateway = payments.NewStripeGateway(cfg.StripeSecretKey)
			s.logger.Info("stripe gateway enabled")
		} else {
			return nil, fmt.Errorf("no payment gateway configured: set STRIPE_SECRET_KEY")
		}
	}

	s.checkout = checkout.NewService(checkoutStore, s.gateway, s.wallet,
		cfg.CheckoutBaseURL, cfg.Currency, cfg.CheckoutLifetime)

	breaker := circuitbreaker.New(cfg.BreakerFailures, cfg.BreakerCooldown)
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("agent circuit state changed",
			"agent", key, "from", from.String(), "to", to.String())
	})
	runners := invocation.Runners(&http.Client{Timeout: cfg.AgentTimeout})
	s.invocations = invocation.NewService(invocationStore, s.catalog, s.wallet,
		breaker, runners, cfg.AgentTimeout)

	s.reconciler = reconciliation.NewRunner(
		s.wallet, s.checkout, s.invocations, invocationStore, s.wallet)
	s.reconcile = reconciliation.NewTimer(s.reconciler, s.logger, cfg.ReconcileInterval)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides the password in a connection string for logging.
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

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		limitCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
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

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")
	v1.Use(validation.UserIDParamMiddleware())

	agents.NewHandler(s.catalog).RegisterRoutes(v1)
	wallet.NewHandler(s.wallet).RegisterRoutes(v1)
	checkout.NewHandler(s.checkout).RegisterRoutes(v1)
	invocation.NewHandler(s.invocations).RegisterRoutes(v1)

	admin := s.router.Group("/v1")
	admin.Use(s.adminAuthMiddleware())
	reconciliation.NewHandler(s.reconciler).RegisterRoutes(admin)
	wallet.NewHandler(s.wallet).RegisterAdminRoutes(admin)
}

// adminAuthMiddleware guards operator endpoints with a shared secret.
// In development with no secret configured, access is open.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin endpoints require ADMIN_SECRET in production",
				})
				return
			}
			c.Next()
			return
		}
		given := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// HealthResponse for health check endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Quantum Tasks",
		"description": "AI agent hub with wallet-based billing",
		"version":     "0.1.0",
		"currency":    s.cfg.Currency,
	})
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.reconcile.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.reconcile != nil {
		s.reconcile.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

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

// SetTraceShutdown registers the trace exporter's shutdown hook.
func (s *Server) SetTraceShutdown(fn func(context.Context) error) {
	s.shutdownTrace = fn
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	return idgen.WithPrefix("req_")
}
