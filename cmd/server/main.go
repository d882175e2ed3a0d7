package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"whatif-backend/internal/cache"
	"whatif-backend/internal/client"
	"whatif-backend/internal/config"
	"whatif-backend/internal/handler"
	"whatif-backend/internal/service"
	"whatif-backend/internal/store"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	runs, err := store.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer runs.Close()
	logger.Info("run store ready", "type", cfg.DatabaseType)

	results := openCache(ctx, cfg, logger)
	defer results.Close()

	engine := client.New(cfg.EngineURL, nil)
	svc := service.NewSimulationService(engine, service.Options{
		Store:    runs,
		Cache:    results,
		Timeout:  cfg.EngineTimeout,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})

	var limiter *handler.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = handler.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		defer limiter.Stop()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(logger))

	// 配置 CORS
	corsCfg, err := corsConfig(cfg)
	if err != nil {
		return err
	}
	r.Use(cors.New(corsCfg))

	handler.Register(r, handler.NewSimulationHandler(svc), handler.NewAuth(cfg.AccessCode, cfg.TokenSecret), limiter)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// engine calls may take up to ENGINE_TIMEOUT
		WriteTimeout: cfg.EngineTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "engine", engine.BaseURL())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openCache 优先使用 Redis，不可用时退回内存缓存
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.Provider {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory result cache")
		return cache.NewMemory()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := cache.NewRedis(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory result cache", "error", err)
		return cache.NewMemory()
	}
	logger.Info("using redis result cache", "addr", cfg.RedisAddr)
	return rdb
}

func corsConfig(cfg *config.Config) (cors.Config, error) {
	var pattern *regexp.Regexp
	if cfg.CORSOriginPattern != "" {
		p, err := regexp.Compile(cfg.CORSOriginPattern)
		if err != nil {
			return cors.Config{}, err
		}
		pattern = p
	}

	return cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if slices.Contains(cfg.CORSOrigins, origin) {
				return true
			}
			return pattern != nil && pattern.MatchString(origin)
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}, nil
}
