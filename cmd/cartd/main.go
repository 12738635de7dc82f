// cartd hosts the cart subsystem for a UI shell: it keeps the local cart,
// reconciles it with the storefront cart API and serves the local REST,
// websocket and MCP surfaces the shell's views talk to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartsync/internal/app"
	"cartsync/internal/auth"
	"cartsync/internal/config"
	"cartsync/internal/handler"
	"cartsync/internal/metrics"
	"cartsync/internal/middleware"
	"cartsync/internal/remote"
	"cartsync/internal/storage"
	"cartsync/internal/transport"
	"cartsync/internal/viewclient"
)

// version is reported in the Cart-Client header sent to the cart API.
const version = "v1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("api_url", cfg.APIURL),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("tls_fingerprint", cfg.TLSFingerprint),
		slog.Duration("debounce", cfg.Debounce),
	)

	// Persistent tier: carts, guest cart, remembered credentials.
	// The session tier lives and dies with the process.
	persistent, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer persistent.Close()
	credentials := auth.NewCredentials(persistent, storage.NewMemory())

	rec := metrics.New()

	rt, err := transport.New(transport.Options{Fingerprint: cfg.TLSFingerprint})
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	client, err := remote.New(remote.Config{
		BaseURL:       cfg.APIURL,
		Tokens:        credentials,
		Transport:     rt,
		ProductRPS:    cfg.ProductRPS,
		ClientName:    "cartd",
		ClientVersion: version,
		Metrics:       rec,
	})
	if err != nil {
		return fmt.Errorf("creating cart API client: %w", err)
	}

	runtime, err := app.New(ctx, app.Deps{
		Persistent:       persistent,
		Credentials:      credentials,
		Remote:           client,
		Logger:           logger,
		Metrics:          rec,
		DebounceWindow:   cfg.Debounce,
		ResyncAfterBatch: cfg.ResyncAfterBatch,
	})
	if err != nil {
		return fmt.Errorf("creating cart runtime: %w", err)
	}
	defer runtime.Close()

	h := handler.New(runtime, rec, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → view client → handler
	// Recovery must be outermost to catch panics from logging middleware
	// The view client check enforces Cart-View on cart requests (except exempt paths)
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		viewclient.Middleware(cfg.MinViewVersion, logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Event streams are hijacked connections; Shutdown does not wait for them.
		h.Close()

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
