package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sitesmith-dev/sitesmith/internal/chat"
	"github.com/sitesmith-dev/sitesmith/internal/config"
	"github.com/sitesmith-dev/sitesmith/internal/db"
	relayhttp "github.com/sitesmith-dev/sitesmith/internal/http"
	"github.com/sitesmith-dev/sitesmith/internal/http/api/front"
	"github.com/sitesmith-dev/sitesmith/internal/logging"
	"github.com/sitesmith-dev/sitesmith/internal/payments"
	"github.com/sitesmith-dev/sitesmith/internal/settings"
	"github.com/sitesmith-dev/sitesmith/internal/tokens"
)

// Migrate opens the database and runs schema migrations.
func Migrate(ctx context.Context, cfg *config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the API server with database-backed components.
func RunServer(ctx context.Context, cfg *config.Config) error {
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	if errSettings := settings.Refresh(ctx, conn); errSettings != nil {
		log.WithError(errSettings).Warn("load settings snapshot failed")
	}

	engine := tokens.NewEngine(conn, tokens.Caps{
		MonthlyFreeCap:  cfg.Tokens.MonthlyFreeCap,
		DailyPremiumCap: cfg.Tokens.DailyPremiumCap,
	})
	chatService := chat.NewService(conn, engine, cfg.OpenAI)
	paymentService := payments.NewService(engine, cfg.Stripe)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
	}
	limiter := relayhttp.NewRateLimiter(
		redisClient,
		cfg.Redis.ChatPerMinute,
		time.Duration(cfg.Redis.ChatBurstSeconds)*time.Second,
	)

	router := newRouter()
	front.RegisterFrontRoutes(router, front.Deps{
		DB:          conn,
		JWT:         cfg.JWT,
		TokenEngine: engine,
		Chat:        chatService,
		Payments:    paymentService,
		RateLimiter: limiter,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// newRouter builds the gin engine with base middleware and health check.
func newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// requestLogger logs each request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Debug("request")
	}
}
