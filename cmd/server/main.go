/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the circulation engine server. Handles
  configuration, dependency wiring, and graceful shutdown.

CONFIGURATION:
  Environment variables (parsed with caarlos0/env), overridable by flags:
    PORT               HTTP server port (default: 8080)
    DB_PATH            SQLite database path (default: circulation.db;
                       use ":memory:" for an in-memory database)
    LOAN_PERIOD_DAYS   Default loan period (default: 14)
    DAILY_FINE_RATE    Overdue fine per day, decimal string (default: 0)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/circulation.db"

  # Run with in-memory database and a 25-cent daily fine
  DAILY_FINE_RATE=0.25 ./server -db=":memory:"

SEE ALSO:
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: database implementation
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
	"github.com/shopspring/decimal"

	"github.com/shelfwise/circulation-engine/api"
	"github.com/shelfwise/circulation-engine/ledger"
	"github.com/shelfwise/circulation-engine/store/sqlite"
)

type config struct {
	Port           int    `env:"PORT" envDefault:"8080"`
	DBPath         string `env:"DB_PATH" envDefault:"circulation.db"`
	LoanPeriodDays int    `env:"LOAN_PERIOD_DAYS" envDefault:"14"`
	DailyFineRate  string `env:"DAILY_FINE_RATE" envDefault:"0"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse environment: %v", err)
	}

	// Flags override the environment
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	fineRate, err := decimal.NewFromString(cfg.DailyFineRate)
	if err != nil {
		log.Fatalf("Invalid DAILY_FINE_RATE %q: %v", cfg.DailyFineRate, err)
	}
	policy := ledger.LoanPolicy{PeriodDays: cfg.LoanPeriodDays, DailyFineRate: fineRate}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire handler and router
	handler := api.NewHandler(store, policy)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Circulation engine listening on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

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
