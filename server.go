package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"bitbucket.org/gigvora/support_backend/config"
	"bitbucket.org/gigvora/support_backend/middlewares"
	"bitbucket.org/gigvora/support_backend/models"
	"bitbucket.org/gigvora/support_backend/supportsync"
	"bitbucket.org/gigvora/support_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// supportService builds the engine on first use; the readiness gate keeps
// requests out until the database is connected.
type supportService struct {
	once     sync.Once
	settings config.SupportSettings
	engine   *supportsync.Engine
	webhook  gin.HandlerFunc
	session  gin.HandlerFunc
}

func (s *supportService) init() {
	db := config.GetDB()
	logger := config.GetLogger()
	s.engine = supportsync.NewEngine(db, s.settings,
		supportsync.WithCache(supportsync.NewGlobalRedisCache()),
		supportsync.WithNotifier(supportsync.NewNotifier(s.settings, logger)),
		supportsync.WithLocker(config.GetRedisLock),
		supportsync.WithLogger(logger),
	)
	s.webhook = supportsync.WebhookHandler(s.engine, s.settings)
	s.session = supportsync.SessionHandler(supportsync.NewSessionIssuer(s.settings, supportsync.GormUserDirectory{DB: db}))
}

func (s *supportService) Engine() *supportsync.Engine {
	s.once.Do(s.init)
	return s.engine
}

func (s *supportService) WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.once.Do(s.init)
		s.webhook(c)
	}
}

func (s *supportService) SessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.once.Do(s.init)
		s.session(c)
	}
}

func main() {
	port := os.Getenv("SUPPORT_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	settings, err := config.LoadSupportSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field":  "settings",
			"errors": utils.ProcessValidationErrors(err),
		}).Fatal(err.Error())
	}
	if !settings.SignatureRequired() {
		logger.WithFields(logrus.Fields{"field": "settings"}).Warn("CHATWOOT_WEBHOOK_SECRET not set; webhook signature verification disabled")
	}
	svc := &supportService{settings: settings}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP; until the DB is ready app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		// Redis is best-effort for this service; only the DB gates traffic.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	webhookChain := []gin.HandlerFunc{}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := middlewares.NewRateLimiter(config.GetRedisDB, "ratelimit:webhook:", limit, time.Duration(windowSec)*time.Second)
		webhookChain = append(webhookChain, rateLimiter.RateLimitMiddleware)
	}
	webhookChain = append(webhookChain, svc.WebhookHandler())

	r.POST("/webhooks/chatwoot", webhookChain...)
	api := r.Group("/api/support", middlewares.AuthMiddleware(), middlewares.RequireAuth())
	api.GET("/session", svc.SessionHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	go config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	cancelSweep := func() {}
	if settings.SweepCron != "" {
		cancel, err := svc.Engine().StartSweep(context.Background(), settings.SweepCron)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "sla-sweep"}).Error("sla sweep not started: " + err.Error())
		} else {
			cancelSweep = cancel
		}
	}
	defer cancelSweep()

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("support sync listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the sweep before draining so it does not start new work.
	cancelSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
