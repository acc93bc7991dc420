/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the earnings tracking server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment / .env)
  2. Initialize structured logger
  3. Initialize SQLite store
  4. Seed bootstrap admin if configured and missing
  5. Create API handler, router, and token sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    Overrides PORT
  -db      Overrides DB_PATH (use ":memory:" for in-memory)

ENVIRONMENT:
  PORT                HTTP server port (default: 8080)
  DB_PATH             SQLite database path (default: earnings.db)
  JWT_SECRET          Access token signing secret (required)
  TOKEN_EXPIRY        Access token lifetime (default: 15m)
  REFRESH_TOKEN_DAYS  Refresh token lifetime in days (default: 30)
  CORS_ORIGINS        Comma-separated allowed origins
  ADMIN_USERNAME      Bootstrap admin username (optional)
  ADMIN_PASSWORD      Bootstrap admin password (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the token sweeper
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/earnings-engine/api"
	"github.com/warp/earnings-engine/auth"
	"github.com/warp/earnings-engine/config"
	"github.com/warp/earnings-engine/store/sqlite"
)

func main() {
	// Flags override the environment for local runs.
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	if err := seedAdmin(store, cfg, logger); err != nil {
		logger.Fatal("failed to seed admin user", zap.Error(err))
	}

	// Initialize handler and router
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenExpiry)
	refreshTTL := time.Duration(cfg.RefreshTokenDays) * 24 * time.Hour
	handler := api.NewHandler(store, tokens, refreshTTL, logger)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Background cleanup of stale refresh tokens
	sweeper := api.NewTokenSweeper(store, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// seedAdmin creates the bootstrap admin account when ADMIN_USERNAME and
// ADMIN_PASSWORD are configured and no such user exists yet.
func seedAdmin(store *sqlite.Store, cfg config.Config, logger *zap.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil
	}

	ctx := context.Background()
	existing, err := store.UserByUsername(ctx, cfg.AdminUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	admin, err := auth.NewUser(cfg.AdminUsername, cfg.AdminPassword, auth.RoleAdmin)
	if err != nil {
		return err
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		return err
	}

	logger.Info("seeded admin user", zap.String("username", cfg.AdminUsername))
	return nil
}
