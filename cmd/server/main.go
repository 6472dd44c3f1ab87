/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the club finance ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load the fee configuration (TOML, falling back to built-in defaults)
  3. Initialize the SQLite store
  4. Wire the engine, gateway, handler, router, and scheduler
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: clubledger.db)
           Use ":memory:" for an in-memory database
  -fees    Path to the TOML fee configuration (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections, drain active requests (30s timeout)
  3. Close the database connection
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

	"github.com/clubledger/finance-engine/api"
	"github.com/clubledger/finance-engine/config"
	"github.com/clubledger/finance-engine/engine"
	"github.com/clubledger/finance-engine/gateway"
	"github.com/clubledger/finance-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "clubledger.db", "SQLite database path")
	feesPath := flag.String("fees", "", "TOML fee configuration path")
	flag.Parse()

	cfg := config.Default()
	if *feesPath != "" {
		loaded, err := config.Load(*feesPath)
		if err != nil {
			log.Fatalf("Failed to load fee configuration: %v", err)
		}
		cfg = loaded
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	eng := engine.New(store, store, cfg)

	// The real card gateway lives behind the club platform; this service
	// ships with the in-process fake until that integration lands.
	handler := api.NewHandler(eng, gateway.NewFake(), cfg.Currency)
	router := api.NewRouter(handler)

	scheduler := api.NewScheduler(eng, nil)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Ledger server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server stopped")
}
