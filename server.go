package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
	"bitbucket.org/mmdatafocus/kanban_backend/middlewares"
	"bitbucket.org/mmdatafocus/kanban_backend/models"
	"bitbucket.org/mmdatafocus/kanban_backend/utils"
	"bitbucket.org/mmdatafocus/kanban_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("kanban-lifecycle")

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(customErrorLogger(logger))
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.AuthMiddleware())

	// Wired lazily: the orchestrator reads config.GetDB()/GetRedisDB() per
	// request through buildOrchestrator, so routes registered before the
	// dependency retry loops finish still work once they do.
	registerCardRoutes(r)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Transition-command worker: consumes re-driven transitions from Pub/Sub.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	if subName := strings.TrimSpace(os.Getenv("PUBSUB_TRANSITION_SUBSCRIPTION")); subName != "" {
		go func() {
			client, err := config.GetClient(workerCtx)
			if err != nil {
				config.LogError(logger, "main", "transitionWorker", "pubsub client", nil, err)
				return
			}
			sub := client.Subscription(subName)
			worker := workflow.NewTransitionWorker(buildOrchestrator(), logger)
			if err := worker.Run(workerCtx, sub); err != nil && !errors.Is(err, context.Canceled) {
				config.LogError(logger, "main", "transitionWorker", "receive", nil, err)
			}
		}()
	}

	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorker()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// buildOrchestrator assembles the lifecycle pipeline from the connected
// dependencies. Cheap to call per request; every component is stateless over
// the shared clients.
func buildOrchestrator() *workflow.LifecycleOrchestrator {
	db := config.GetDB()
	dedup := workflow.NewDedupManager(workflow.NewRedisKVStore(config.GetRedisDB()))
	audit := workflow.NewAuditChainWriter(db)
	return workflow.NewLifecycleOrchestrator(
		db,
		config.GetLogger(),
		dedup,
		audit,
		workflow.NewPubSubEventPublisher(),
		models.DefaultRolePolicy(),
		config.GetRedisLock(),
	)
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
