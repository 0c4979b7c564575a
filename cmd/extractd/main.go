// Command extractd serves the text extraction endpoint used by the pipeline's
// extract stage. Build with -tags tesseract to link libtesseract.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AnTengye/sigscan/middleware"
	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/AnTengye/sigscan/pkg/ocr"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}

	logger.Init(&logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		File:   os.Getenv("LOG_FILE"),
	})

	port := 8081
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			slog.Error("invalid PORT", "value", v, "error", err)
			os.Exit(1)
		}
		port = p
	}

	var languages []string
	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		languages = strings.Split(v, "+")
	}
	engine := ocr.NewTesseractEngine(languages...)
	slog.Info("ocr engine ready", "engine", engine.Name(), "languages", languages)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"engine": engine.Name(),
		})
	})
	router.POST("/extract", ocr.NewHandler(engine).Extract)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("extractd starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("extractd stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("extractd exited gracefully")
}
