// Package main provides a headless batch runner: it loads a scenario
// file, drives a deterministic run for a fixed number of ticks against
// in-memory storage, and prints a summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/events"
	ledgermem "creditnet-lab/internal/ledger/memory"
	"creditnet-lab/internal/orchestrator"
	"creditnet-lab/internal/scenario"
	"creditnet-lab/internal/storage/memory"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Scenario file (.yaml/.json), required")
	seed := flag.Uint64("seed", 1, "Deterministic run seed")
	intensity := flag.Int("intensity", 100, "Intensity percent (1-100)")
	mode := flag.String("mode", orchestrator.ModeStatic, "Run mode: static or adaptive")
	ticks := flag.Int64("ticks", 120, "Number of ticks to simulate")
	tickInterval := flag.Duration("tick-interval", 20*time.Millisecond, "Wall-clock interval between ticks")
	outPath := flag.String("out", "", "Write collected tick metrics as JSON to this file")
	verbose := flag.Bool("verbose", false, "Verbose logging")

	flag.Parse()

	logger := log.New(os.Stdout, "[run] ", log.LstdFlags)

	if *scenarioPath == "" {
		logger.Fatal("--scenario is required")
	}
	sc, err := scenario.LoadFile(*scenarioPath)
	if err != nil {
		logger.Fatalf("Load scenario: %v", err)
	}

	ctx := context.Background()
	metricsStore := memory.NewTickMetricsStore()
	hub := events.NewHub(0)

	orch := orchestrator.New(orchestrator.Options{
		Ledger:           ledgermem.New(),
		Hub:              hub,
		RunStore:         memory.NewRunStore(),
		ScenarioStore:    memory.NewScenarioStore(),
		TickMetricsStore: metricsStore,
		BottleneckStore:  memory.NewBottleneckStore(),
		TickInterval:     *tickInterval,
		Verbose:          *verbose,
	})

	status, err := orch.CreateRun(ctx, sc, orchestrator.RunConfig{
		Seed:      *seed,
		Intensity: *intensity,
		Mode:      *mode,
	})
	if err != nil {
		logger.Fatalf("Create run: %v", err)
	}
	logger.Printf("Run %s started (scenario=%s seed=%d intensity=%d mode=%s)",
		status.RunID, status.ScenarioID, *seed, *intensity, *mode)

	// Poll until the requested tick count or a terminal state.
	for {
		time.Sleep(*tickInterval)
		status, err = orch.Status(status.RunID)
		if err != nil {
			logger.Fatalf("Run status: %v", err)
		}
		if status.State.Terminal() {
			break
		}
		if status.Tick >= *ticks {
			if err := orch.Stop(ctx, status.RunID); err != nil {
				logger.Fatalf("Stop run: %v", err)
			}
			status, _ = orch.Status(status.RunID)
			break
		}
	}

	c := status.Counters
	logger.Printf("Run %s finished: state=%s ticks=%d attempts=%d committed=%d rejected=%d errors=%d timeouts=%d",
		status.RunID, status.State, status.Tick, c.Attempts, c.Committed, c.Rejected, c.Errors, c.Timeouts)
	if status.LastError != "" {
		logger.Printf("Last error: %s", status.LastError)
	}

	if *outPath != "" {
		rows, err := metricsStore.GetByRun(ctx, status.RunID)
		if err != nil {
			logger.Fatalf("Collect metrics: %v", err)
		}
		if err := writeMetrics(*outPath, rows); err != nil {
			logger.Fatalf("Write metrics: %v", err)
		}
		logger.Printf("Wrote %d metric rows to %s", len(rows), *outPath)
	}

	if status.State == domain.RunStateError {
		os.Exit(1)
	}
}

func writeMetrics(path string, rows []*domain.TickMetric) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
