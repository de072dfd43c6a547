/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the status tier and reward economy engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Start the distribution scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: status.db)
             Use ":memory:" for in-memory database
  -interval  Distribution scheduler check interval (default: 1h)
  -seed      Load the demo dataset on startup
  -no-sched  Disable the background distribution scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and wait for the in-flight tick
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database and demo data
  ./server -db="./data/status.db" -seed

  # Run with in-memory database
  ./server -db=":memory:" -seed

  # Frequent distribution checks (demo)
  ./server -interval=1m

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Distribution scheduler
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

	"github.com/warp/status-engine/api"
	"github.com/warp/status-engine/engine"
	"github.com/warp/status-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "status.db", "SQLite database path")
	interval := flag.Duration("interval", time.Hour, "distribution scheduler check interval")
	seed := flag.Bool("seed", false, "load the demo dataset on startup")
	noSched := flag.Bool("no-sched", false, "disable the distribution scheduler")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, engine.NopNotifier{})

	if *seed {
		if err := api.LoadDemoData(context.Background(), store); err != nil {
			log.Printf("Warning: Failed to seed demo data: %v", err)
		} else {
			log.Println("Demo dataset loaded")
		}
	}

	// Start the distribution scheduler
	scheduler := api.NewDistributionScheduler(handler.Distributor)
	scheduler.CheckInterval = *interval
	scheduler.Enabled = !*noSched
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
