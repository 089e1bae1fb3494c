// Package main provides the simulation server: a JSON API for scenarios
// and runs, a WebSocket event feed per run, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"creditnet-lab/internal/events"
	"creditnet-lab/internal/ledger"
	ledgermem "creditnet-lab/internal/ledger/memory"
	"creditnet-lab/internal/orchestrator"
	"creditnet-lab/internal/scenario"
	"creditnet-lab/internal/storage"
	chstore "creditnet-lab/internal/storage/clickhouse"
	"creditnet-lab/internal/storage/memory"
	"creditnet-lab/internal/storage/migrations"
	pgstore "creditnet-lab/internal/storage/postgres"
	"creditnet-lab/internal/transport"
)

// allStores holds all storage implementations.
type allStores struct {
	scenarioStore   storage.ScenarioStore
	runStore        storage.RunStore
	metricsStore    storage.TickMetricsStore
	bottleneckStore storage.BottleneckStore
}

func main() {
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen", ":8080", "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	tickInterval := flag.Duration("tick-interval", time.Second, "Wall-clock interval between simulation ticks")
	scenarios := flag.String("scenarios", "", "Comma-separated scenario files (.yaml/.json) to preload")
	verbose := flag.Bool("verbose", false, "Verbose logging")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	if err := preloadScenarios(ctx, stores.scenarioStore, *scenarios, logger); err != nil {
		logger.Fatalf("Failed to preload scenarios: %v", err)
	}

	var ledgerSvc ledger.Service = ledgermem.New()
	hub := events.NewHub(0)

	orch := orchestrator.New(orchestrator.Options{
		Ledger:           ledgerSvc,
		Hub:              hub,
		RunStore:         stores.runStore,
		ScenarioStore:    stores.scenarioStore,
		TickMetricsStore: stores.metricsStore,
		BottleneckStore:  stores.bottleneckStore,
		TickInterval:     *tickInterval,
		Verbose:          *verbose,
	})

	srv := transport.New(transport.Options{
		Orchestrator: orch,
		Scenarios:    stores.scenarioStore,
		Hub:          hub,
		Verbose:      *verbose,
	})

	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: srv.Routes(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		orch.Shutdown(shutdownCtx)
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("Listening on %s (tick interval %s)", *listenAddr, *tickInterval)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores wires the storage backends: PostgreSQL keeps scenarios and
// run status, ClickHouse keeps tick metrics and bottleneck snapshots.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			scenarioStore:   memory.NewScenarioStore(),
			runStore:        memory.NewRunStore(),
			metricsStore:    memory.NewTickMetricsStore(),
			bottleneckStore: memory.NewBottleneckStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		scenarioStore:   pgstore.NewScenarioStore(pool),
		runStore:        pgstore.NewRunStore(pool),
		metricsStore:    chstore.NewTickMetricsStore(chConn),
		bottleneckStore: chstore.NewBottleneckStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// preloadScenarios loads scenario files into the store at startup.
// Already-present scenario IDs are skipped.
func preloadScenarios(ctx context.Context, store storage.ScenarioStore, files string, logger *log.Logger) error {
	if files == "" {
		return nil
	}
	for _, path := range strings.Split(files, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		sc, err := scenario.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := store.Insert(ctx, sc); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				logger.Printf("Scenario %s already present, skipping %s", sc.ScenarioID, path)
				continue
			}
			return fmt.Errorf("store %s: %w", sc.ScenarioID, err)
		}
		logger.Printf("Preloaded scenario %s from %s", sc.ScenarioID, path)
	}
	return nil
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
