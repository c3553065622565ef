package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/campusdesk/analytics/handlers"
	"github.com/campusdesk/analytics/internal/analytics/handler"
	"github.com/campusdesk/analytics/internal/analytics/service"
	"github.com/campusdesk/analytics/internal/cache"
	"github.com/campusdesk/analytics/internal/config"
	"github.com/campusdesk/analytics/internal/database"
	"github.com/campusdesk/analytics/internal/oidc"
	"github.com/campusdesk/analytics/internal/recipes"
	"github.com/campusdesk/analytics/internal/reports"
	"github.com/campusdesk/analytics/internal/store"
	"github.com/campusdesk/analytics/internal/tokens"
	"github.com/campusdesk/analytics/pkg/logger"
	"github.com/campusdesk/analytics/pkg/metrics"
	"github.com/campusdesk/analytics/pkg/middleware"
)

var startTime = time.Now()

// deps are the runtime collaborators the router is built from. Nil fields are
// optional features that are switched off.
type deps struct {
	cfg      *config.Config
	store    store.Store
	redis    *redis.Client
	cache    cache.Cache
	exporter service.Exporter
	verifier middleware.Verifier
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := &deps{cfg: cfg}

	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.MongoDB.Retries)
		if err != nil {
			logger.Fatalf("could not connect to MongoDB: %v", err)
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		ms := store.NewMongoStore(client.Database(cfg.MongoDB.Database))
		if err := ms.EnsureIndexes(ctx); err != nil {
			logger.Warnf("index setup failed: %v", err)
		}
		d.store = ms
	} else {
		d.store = store.NewMemoryStore()
	}

	if addr := cfg.Redis.Addr(); addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis %s unreachable, cache and distributed rate limiting disabled: %v", addr, err)
			_ = rc.Close()
		} else {
			defer rc.Close()
			d.redis = rc
			if cfg.Cache.TTL > 0 {
				d.cache = cache.NewRedisCache(rc, cfg.Cache.Prefix, cfg.Cache.TTL)
			}
		}
	}

	if cfg.MinIO.Endpoint != "" {
		objects, err := reports.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("report export disabled: %v", err)
		} else {
			d.exporter = reports.NewExporter(objects, cfg.MinIO.PresignTTL)
		}
	}

	d.verifier = newVerifier(ctx, cfg)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r := newRouter(d)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	logger.Infof("config summary: mongo=%v redis=%v cache=%v export=%v auth=%v", cfg.MongoDB.URI != "", d.redis != nil, d.cache != nil, d.exporter != nil, d.verifier != nil)
	go func() {
		logger.Infof("starting analytics service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Infof("stopped")
}

// newVerifier prefers Keycloak, then the shared JWT secret, then (only with
// ALLOW_INSECURE_TOKEN=true) unverified claims. Nil means the API is open.
func newVerifier(ctx context.Context, cfg *config.Config) middleware.Verifier {
	if cfg.Keycloak.URL != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.Keycloak.Issuer(), cfg.Keycloak.ClientID)
		if err == nil {
			return ver
		}
		logger.Warnf("failed to initialize OIDC verifier: %v", err)
	}
	if cfg.JWT.Secret != "" {
		return tokens.NewHS256Verifier(cfg.JWT.Secret)
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") {
		logger.Warn("enabling insecure token verifier (integration mode)")
		return tokens.NewUnverifiedVerifier()
	}
	return nil
}

func newRouter(d *deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) { ready(c, d) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterSwagger(r)

	api := r.Group("/api/v1")
	if d.verifier != nil {
		api.Use(middleware.AuthMiddleware(d.verifier))
	} else {
		logger.Warnf("no token verifier configured; analytics API is unauthenticated")
	}
	if rl := d.cfg.RateLimit; rl.Enabled {
		if rl.UseRedis && d.redis != nil {
			api.Use(middleware.RedisRateLimitMiddleware(d.redis, rl.RPS, rl.Burst, time.Duration(rl.WindowSeconds)*time.Second))
		} else {
			api.Use(middleware.RateLimitMiddleware(rl.RPS, rl.Burst))
		}
	}

	svc := service.New(d.store, service.Options{
		Cache:    d.cache,
		Exporter: d.exporter,
		Limits:   recipes.Limits{Default: d.cfg.Pagination.DefaultLimit, Max: d.cfg.Pagination.MaxLimit},
	})
	handler.New(svc, d.verifier != nil).RegisterRoutes(api, "/analytics")
	return r
}

// ready returns 200 only when the store (and Redis, when configured) answer.
func ready(c *gin.Context, d *deps) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]bool{"store": d.store.Ping(ctx) == nil}
	if d.cfg.Redis.Addr() != "" {
		checks["redis"] = d.redis != nil && d.redis.Ping(ctx).Err() == nil
	}
	status, code := "ready", http.StatusOK
	for _, ok := range checks {
		if !ok {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "deps": checks, "uptime": time.Since(startTime).String()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), time.Since(start))
		if len(c.Errors) > 0 {
			logger.Warnf("%s %s: %s", c.Request.Method, c.Request.URL.Path, c.Errors.String())
		}
	}
}

// cors answers preflight requests and allows read access from any origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
