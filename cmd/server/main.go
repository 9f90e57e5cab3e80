/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the hearts engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse environment variables, then command-line flags (flags win)
  2. Initialize SQLite store
  3. Create the pool and API handler with dependencies
  4. Start the background maturation ticker
  5. Start server with graceful shutdown

CONFIGURATION:
  Environment variables (prefix HEARTS_):
    HEARTS_PORT       HTTP server port
    HEARTS_DB         SQLite database path
    HEARTS_TICK       Maturation sweep interval

  Command-line flags override the environment:
    -port    HTTP server port (default: 8080)
    -db      SQLite database path (default: hearts.db)
             Use ":memory:" for in-memory database
    -tick    Maturation sweep interval (default: 1m)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the maturation ticker
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/hearts.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Sweep every 10 seconds
  ./server -tick=10s

SEE ALSO:
  - api/server.go: Router configuration
  - api/ticker.go: Background maturation
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

	"github.com/caarlos0/env/v11"

	"github.com/pulse/hearts-engine/api"
	"github.com/pulse/hearts-engine/hearts"
	"github.com/pulse/hearts-engine/store/sqlite"
)

// config holds the server settings, populated from the environment first and
// then overridden by flags.
type config struct {
	Port int           `env:"PORT" envDefault:"8080"`
	DB   string        `env:"DB" envDefault:"hearts.db"`
	Tick time.Duration `env:"TICK" envDefault:"1m"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAsWithOptions[config](env.Options{Prefix: "HEARTS_"})
	if err != nil {
		return cfg, err
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB, "SQLite database path")
	tick := flag.Duration("tick", cfg.Tick, "maturation sweep interval")
	flag.Parse()

	cfg.Port = *port
	cfg.DB = *dbPath
	cfg.Tick = *tick
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the pool: the sqlite store backs every persistence interface, and
	// the user registry doubles as the premium directory.
	ledger := hearts.NewLedger(store)
	pool := hearts.NewPool(ledger, store, store, nil, hearts.DirectoryPremium{Users: store})

	// Initialize handler and background ticker
	handler := api.NewHandler(pool, store, nil)
	ticker := api.NewMaturationTicker(pool, store)
	ticker.CheckInterval = cfg.Tick
	ticker.Start()
	defer ticker.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
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
