package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/GideonEse/fete/internal/analysis"
	"github.com/GideonEse/fete/internal/cloudinary"
	"github.com/GideonEse/fete/internal/config"
	"github.com/GideonEse/fete/internal/detector"
	"github.com/GideonEse/fete/internal/feed"
	"github.com/GideonEse/fete/internal/httpmiddleware"
	"github.com/GideonEse/fete/internal/logging"
	"github.com/GideonEse/fete/internal/matcher"
	"github.com/GideonEse/fete/internal/member"
	"github.com/GideonEse/fete/internal/metrics"
	"github.com/GideonEse/fete/internal/session"
	"github.com/GideonEse/fete/internal/store"
	"github.com/GideonEse/fete/internal/vision"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	logs, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logs.Closer()

	if err := run(cfg, logs.Base); err != nil {
		logs.Base.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx := context.Background()

	var redisStore *store.Redis
	var kv store.KV
	switch cfg.StoreBackend {
	case "redis":
		redisStore = store.NewRedis(cfg.RedisAddr)
		kv = redisStore
	case "postgres":
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		kv = pg
	default:
		kv = store.NewMemory()
	}
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend))

	registry := member.Load(ctx, kv, logger)
	engine := session.NewEngine(ctx, kv, registry, cfg.LateAfter, logger)
	index := matcher.New(cfg.MatchThreshold)
	index.Rebuild(registry.List(), registry.Version())

	var liveFeed feed.Feed
	if cfg.FeedBackend == "redis" {
		if redisStore == nil {
			redisStore = store.NewRedis(cfg.RedisAddr)
		}
		liveFeed = feed.NewRedisFeed(redisStore.Client)
	} else {
		liveFeed = feed.NewInMemory()
	}

	visionClient := vision.New(cfg.VisionURL, cfg.VisionSkip)

	var analyzer analysis.Analyzer
	if cfg.OpenAIAPIKey != "" {
		analyzer = analysis.NewOpenAI(cfg.OpenAIAPIKey)
	} else {
		logger.Info("analysis disabled (OPENAI_API_KEY not set)")
	}

	var cdn *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdn = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, avatar references stored as-is")
	}

	app := &app{
		cfg:      cfg,
		log:      logger,
		redis:    redisStore,
		registry: registry,
		engine:   engine,
		matcher:  index,
		feed:     liveFeed,
		vision:   visionClient,
		analyzer: analyzer,
		cdn:      cdn,
		baseCtx:  ctx,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	app.routes(r)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// Stop the detection loop and archive any live session before the
	// process exits, then give outstanding requests time to complete.
	app.shutdownLive(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// app holds the wired components and the singleton live-detector slot.
type app struct {
	cfg      config.App
	log      *zap.Logger
	redis    *store.Redis
	registry *member.Registry
	engine   *session.Engine
	matcher  *matcher.Index
	feed     feed.Feed
	vision   *vision.Client
	analyzer analysis.Analyzer
	cdn      *cloudinary.Client
	baseCtx  context.Context

	liveMu sync.Mutex
	live   *detector.Handle
}

// shutdownLive stops the detector and closes a live session on teardown.
func (a *app) shutdownLive(ctx context.Context) {
	a.liveMu.Lock()
	defer a.liveMu.Unlock()
	if a.live != nil {
		a.live.Stop()
		a.live = nil
	}
	if _, err := a.engine.EndSession(ctx); err == nil {
		metrics.SessionsEnded.Inc()
		a.log.Info("live session archived on shutdown")
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
