// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/application/container"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/caching/cleanup"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/logging"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/observability/performance"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/database"
	"github.com/NexusProtocols/gateway-go/internal/presentation/http/server"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize performs the complete startup sequence and blocks until shutdown.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("\033[32m" + `
   __ _  __ _| |_ _____      ____ _ _   _
  / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
  |___/                             |___/
` + "\033[0m")

	// Step 1: Channeled logging
	log.Println("Initializing logging...")
	logger, err := logging.NewChanneledLogger(logging.DefaultLoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.Startup().Info("Channeled logging initialized")

	// Step 2: Performance tracking
	perfTracker := performance.NewTracker(nil)
	logger.Startup().Info("Performance tracker initialized")

	// Step 3: Database connection
	logger.Startup().Info("Connecting to database...")
	startDBTime := time.Now()

	driverName, dataSourceName := databaseTarget()
	db, err := database.NewConnectionWithLogger(driverName, dataSourceName, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.LogStartupPhase("database", time.Since(startDBTime), true)

	// Step 4: Schema bootstrap
	logger.Startup().Info("Ensuring database schema...")
	if err := db.EnsureSchema(); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	// Step 5: Dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer := container.NewContainer(db, logger, perfTracker)
	logger.Startup().Info("Dependency injection container created with singleton services")

	// Step 6: Warm the gateway catalog
	logger.Startup().Info("Warming gateway catalog...")
	startWarmTime := time.Now()
	if count, err := appContainer.GatewayService.WarmCatalog(); err != nil {
		logger.Startup().Error("Catalog warming failed", "error", err.Error(), "duration", time.Since(startWarmTime))
	} else {
		logger.Startup().Info("Catalog warming complete", "gateways", count, "duration", time.Since(startWarmTime))
	}

	// Step 7: Background workers
	logger.Startup().Info("Starting background cleanup worker...")
	cleanupWorker := cleanup.NewWorker(appContainer.CacheManager, cleanup.NewConfig())
	go cleanupWorker.Start(ctx)

	go appContainer.OpsBroadcaster.Run()
	logger.Startup().Info("Background workers started")

	// Step 8: HTTP server
	logger.Startup().Info("Starting HTTP server...")
	httpServer := server.New(config.Port, appContainer)
	logger.Startup().Info("HTTP server initialized", "port", config.Port)

	// Step 9: Graceful shutdown wiring
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+config.Port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Closing database...")
	if err := db.Close(); err != nil {
		logger.Shutdown().Error("Error closing database", "error", err.Error())
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// databaseTarget picks the driver and DSN: a remote Turso database when
// configured, the local sqlite file otherwise.
func databaseTarget() (string, string) {
	if config.TursoDatabaseURL != "" {
		dsn := config.TursoDatabaseURL
		if config.TursoAuthToken != "" {
			dsn += "?authToken=" + config.TursoAuthToken
		}
		return "libsql", dsn
	}
	return "sqlite3", config.DatabasePath
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
