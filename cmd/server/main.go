package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/QUADRA/internal/config"
	"github.com/copyleftdev/QUADRA/internal/errors"
	"github.com/copyleftdev/QUADRA/internal/logging"
	"github.com/copyleftdev/QUADRA/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Create a service logger with additional fields
	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "quadra-optimization-server",
		"version": "1.0.0",
	})

	// Create a context logger
	ctxLogger := &logging.CtxLogger{Logger: serviceLogger}
	ctx = ctxLogger.WithContext(ctx)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger)) // Our custom logging middleware
	r.Use(errors.RecoveryMiddleware(serviceLogger))
	r.Use(errors.ErrorHandler(serviceLogger))
	r.Use(middleware.Timeout(60 * time.Second))

	// Add request context logger
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the logger from context or use the base logger
			ctxLogger := logging.FromContext(r.Context())
			if ctxLogger == nil {
				ctxLogger = &logging.CtxLogger{Logger: logger}
			}

			// Add request ID to logger
			reqLogger := ctxLogger.Logger.WithFields(map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
			})

			reqCtxLogger := &logging.CtxLogger{Logger: reqLogger}
			reqCtx := reqCtxLogger.WithContext(r.Context())
			next.ServeHTTP(w, r.WithContext(reqCtx))
		})
	})

	// Add health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())
		if logger != nil {
			logger.Info("Health check")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Add metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Create server instance with our logger. Optimizer internals log
	// through the zap bridge so everything shares one output stream.
	srv := server.NewServer(cfg, serviceLogger, logging.NewZapLogger(serviceLogger))
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: r,
	}

	// Start HTTP server
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
		})

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err})
		os.Exit(1)
	}

	serviceLogger.Info("Server stopped")

	if err := srv.Close(); err != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err})
	}

	serviceLogger.Info("server exited properly")
}
