/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the order engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Select the ledger store (memory, SQLite file, or Redis)
  3. Wire the balance collaborator and retrying client
  4. Configure the HTTP router
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite ledger path; shared by all workers opening it.
                   Empty means a process-local in-memory ledger.
  -redis           Redis address for the ledger; overrides -db when set.
  -debit-attempts  Bounded retry budget for transient collaborator failures
  -flake           Probability of an injected transient collaborator failure
                   (simulates an unreliable external service; 0 disables)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait for active requests
  to complete (30s timeout), then exit.

EXAMPLES:
  # Process-local ledger (single worker only)
  ./server

  # Shared SQLite ledger for multiple worker processes
  ./server -db=./data/orders.db

  # Shared Redis ledger, flaky collaborator for demos
  ./server -redis=localhost:6379 -flake=0.1
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/warp/order-engine/api"
	"github.com/warp/order-engine/balance"
	"github.com/warp/order-engine/order"
	memstore "github.com/warp/order-engine/order/store"
	redisstore "github.com/warp/order-engine/store/redis"
	sqlitestore "github.com/warp/order-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite ledger path (empty = in-memory ledger)")
	redisAddr := flag.String("redis", "", "Redis address for the ledger (overrides -db)")
	debitAttempts := flag.Int("debit-attempts", order.DefaultMaxAttempts, "max debit attempts on transient failures")
	flake := flag.Float64("flake", 0, "probability of injected transient collaborator failure")
	flag.Parse()

	ledger, cleanup, err := openLedger(*redisAddr, *dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}
	defer cleanup()

	balances := balance.NewService()
	if *flake > 0 {
		balances.Flake = func() error {
			if rand.Float64() < *flake {
				return fmt.Errorf("%w: injected failure", order.ErrCollaboratorTransient)
			}
			return nil
		}
	}

	client := order.NewRetryingClient(balances)
	client.MaxAttempts = *debitAttempts

	processor := order.NewProcessor(ledger, order.NewStats(), client)
	router := api.NewRouter(api.NewHandler(processor, balances))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
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

// openLedger selects the ledger store. Redis wins over SQLite; with
// neither configured the ledger is process-local memory, which is only
// safe when this process is the sole worker.
func openLedger(redisAddr, dbPath string) (order.Ledger, func(), error) {
	switch {
	case redisAddr != "":
		client := goredis.NewClient(&goredis.Options{Addr: redisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Printf("Using Redis ledger at %s", redisAddr)
		return redisstore.New(client), func() { client.Close() }, nil

	case dbPath != "":
		store, err := sqlitestore.New(dbPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using SQLite ledger at %s", dbPath)
		return store, func() { store.Close() }, nil

	default:
		log.Println("Using in-memory ledger (single worker only)")
		return memstore.NewMemory(), func() {}, nil
	}
}
