package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/handler"
	"github.com/AnTengye/sigscan/middleware"
	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/AnTengye/sigscan/service"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})

	slog.Info("configuration loaded successfully")

	// Endpoints may be filled in later; runs report the gap to the user.
	for _, setting := range cfg.MissingEndpoints() {
		slog.Warn("collaborator endpoint not configured", "setting", setting)
	}

	if cfg.Session.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			slog.Error("failed to generate session secret", "error", err)
			os.Exit(1)
		}
		cfg.Session.JWTSecret = secret
		slog.Warn("SESSION_JWT_SECRET not set, using a random secret; sessions will not survive restarts")
	}

	// Initialize services
	pipeline := service.NewPipeline(
		service.NewExtractionClient(&cfg.Collaborators.Extract, cfg.Pipeline.CallTimeout),
		service.NewStandardizationClient(&cfg.Collaborators.Standardize, cfg.Pipeline.CallTimeout),
		cfg.Pipeline.CallTimeout,
	)
	sessions := service.NewSessionStore(cfg.Session.TTL, cfg.Session.MaxSessions)

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(sessions, &cfg.Session)
	uploadHandler := handler.NewUploadHandler(pipeline, &cfg.Pipeline)
	resultHandler := handler.NewResultHandler()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.MaxMultipartMemory = 2*cfg.Pipeline.MaxUploadSize + (1 << 20)

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(cacheMiddleware())
	router.Use(middleware.RateLimit(cfg.Server.RateLimit, time.Minute))

	if cfg.Server.StaticDir != "" {
		serveStatic(router, cfg.Server.StaticDir)
	}

	router.GET("/health", handler.Health(cfg, sessions))

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/sessions", sessionHandler.Create)
	}

	// Session routes
	protected := api.Group("/session")
	protected.Use(middleware.SessionAuth(&cfg.Session, sessions))
	{
		protected.GET("", sessionHandler.Get)
		protected.DELETE("", sessionHandler.Delete)
		protected.POST("/files", uploadHandler.SelectFile)
		protected.DELETE("/files", uploadHandler.ClearFile)
		protected.POST("/run", uploadHandler.Run)
		protected.POST("/retry", uploadHandler.Retry)
		protected.POST("/cancel", uploadHandler.Cancel)
		protected.POST("/reset", uploadHandler.Reset)
		protected.GET("/notifications", resultHandler.Notifications)
		protected.GET("/events", resultHandler.Events)
		protected.GET("/medications", resultHandler.Medications)
		protected.GET("/medications.csv", resultHandler.ExportCSV)
	}

	// WriteTimeout stays zero so event streams are not cut off.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		sessions.Close()
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// serveStatic mounts a prebuilt frontend at the root.
func serveStatic(router *gin.Engine, dir string) {
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		slog.Warn("static directory has no index.html, skipping", "directory", dir)
		return
	}
	slog.Info("serving static files", "directory", dir)

	router.Static("/assets", filepath.Join(dir, "assets"))
	router.StaticFile("/", index)
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.File(index)
	})
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// cacheMiddleware keeps API responses, which carry medical data, out of caches.
func cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if strings.HasPrefix(path, "/api") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
			return
		}

		if strings.HasPrefix(path, "/assets/") {
			c.Header("Cache-Control", "public, max-age=3600, must-revalidate")
		}

		c.Next()
	}
}
