package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/internal/config"
	"github.com/condoflow/condoflow/internal/engine"
	"github.com/condoflow/condoflow/internal/ops"
	"github.com/condoflow/condoflow/internal/outbox"
	"github.com/condoflow/condoflow/internal/runtime"
	"github.com/condoflow/condoflow/internal/store"
	"github.com/condoflow/condoflow/internal/watcher"
)

var rootCmd = &cobra.Command{
	Use:   "condoflow",
	Short: "Agent cascade orchestrator",
	Long: `Condoflow turns a declarative work graph into running agent sessions.

A condo groups goals; goals decompose into tasks with dependencies. The
cascade engine spawns a session for every unblocked task, watches the
sessions to completion, retries failures within a budget, and merges
each goal's isolated branch back into the condo's main line when its
tasks are done. Completions cascade: finishing a task unblocks its
dependents, finishing a goal unblocks goals that depend on it.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(condoCmd)
	rootCmd.AddCommand(goalCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// app holds the wired components behind every CLI command.
type app struct {
	cfg      *config.Config
	store    *store.Store
	bus      *bus.Bus
	outbox   *outbox.Outbox
	watcher  *watcher.Manager
	engine   *engine.Engine
	registry *ops.Registry
	logger   *engine.DebugLogger
}

// newApp loads config and wires the store, event bus, durable outbox,
// plan-file watcher, and engine together.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(cfg.Paths.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	b := bus.New()
	ob, err := outbox.Open(cfg.Paths.Outbox)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	b.AddSink(ob)

	logger, err := engine.NewDebugLogger(filepath.Join(cfg.Paths.Logs, "engine.log"))
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	w := watcher.New(b)
	rt := runtime.NewHTTPClient(cfg.Runtime.URL)

	eng := engine.New(engine.Config{
		Store:          s,
		Bus:            b,
		Runtime:        rt,
		Spawner:        rt,
		Watcher:        w,
		Logger:         logger,
		SettleDelay:    cfg.Delays.Settle,
		SweepDelay:     cfg.Delays.Sweep,
		SendTimeout:    cfg.Timeouts.Send,
		HistoryTimeout: cfg.Timeouts.History,
		DefaultWorker:  cfg.Defaults.Worker,
		ManagerWorker:  cfg.Defaults.Manager,
		Workers:        cfg.Workers,
	})

	return &app{
		cfg:      cfg,
		store:    s,
		bus:      b,
		outbox:   ob,
		watcher:  w,
		engine:   eng,
		registry: ops.NewRegistry(eng, s, rt),
		logger:   logger,
	}, nil
}

// drain blocks until the deferred cascade actions a command scheduled
// have fired. Commands are one-shot processes; without draining, a
// settle-delay re-kickoff or condo sweep would die with the process.
func (a *app) drain() {
	a.engine.Scheduler().Wait()
}

func (a *app) close() {
	a.watcher.Close()
	if err := a.outbox.Close(); err != nil {
		a.logger.Log("close outbox: %v", err)
	}
	a.logger.Close()
}

// respond prints an operation response, exiting non-zero on failure.
func respond(resp ops.Response) error {
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}
