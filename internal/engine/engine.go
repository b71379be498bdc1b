// Package engine implements the cascade orchestration core: it resolves
// unblocked tasks into spawned agent sessions, watches them to completion,
// retries failures, merges finished goals back into the shared codebase,
// and propagates completion across dependent goals.
package engine

import (
	"time"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/internal/gitops"
	"github.com/condoflow/condoflow/internal/runtime"
	"github.com/condoflow/condoflow/internal/store"
)

// PlanWatcher manages plan-file watches and per-session plan logs for
// in-progress tasks. Implemented by watcher.Manager; narrowed here so
// tests can fake it.
type PlanWatcher interface {
	// Watch starts watching the plan file for a session.
	Watch(sessionKey, path string) error
	// Stop tears down the watch and clears the session's log buffer.
	Stop(sessionKey string)
	// AppendLog records a plan-log line for a session.
	AppendLog(sessionKey, line string)
	// Lines returns the session's buffered plan-log lines, oldest first.
	Lines(sessionKey string) []string
}

// Config contains the engine's tunables and pluggable collaborators.
type Config struct {
	// Store is the persisted single source of truth.
	Store *store.Store
	// Bus publishes lifecycle events.
	Bus *bus.Bus
	// Runtime is the RPC surface into the agent runtime.
	Runtime runtime.Client
	// Spawner allocates new sessions.
	Spawner runtime.Spawner
	// Watcher manages plan-file watches. Optional.
	Watcher PlanWatcher
	// GitFor returns a git runner for the given directory.
	// Defaults to gitops.NewRunner.
	GitFor func(dir string) gitops.Runner
	// Clock drives deferred actions. Defaults to RealClock.
	Clock Clock
	// Logger receives engine debug output. Defaults to a no-op logger.
	Logger *DebugLogger
	// BeforeSessionStart, when set, returns extra context prepended to a
	// session's initial instructions. Optional.
	BeforeSessionStart func(goalID, taskID string) string

	// SettleDelay is the pause before a deferred re-kickoff, letting the
	// persisted document settle between the triggering mutation and the
	// dependent read.
	SettleDelay time.Duration
	// SweepDelay is the pause before a condo-wide unblocked-goal sweep.
	SweepDelay time.Duration
	// SendTimeout bounds instruction delivery to a session.
	SendTimeout time.Duration
	// HistoryTimeout bounds fetching a manager's history.
	HistoryTimeout time.Duration
	// DefaultWorker is the worker identity used when a task's assigned
	// role cannot be resolved.
	DefaultWorker string
	// ManagerWorker is the worker identity for plan-cascade manager
	// sessions. Defaults to "manager" so a planning session is never
	// spawned as an ordinary task worker.
	ManagerWorker string
	// Workers maps assigned roles to concrete worker identities.
	Workers map[string]string
}

// Engine coordinates kickoff, completion, merge, and cascade handling.
type Engine struct {
	store   *store.Store
	bus     *bus.Bus
	runtime runtime.Client
	spawner runtime.Spawner
	watcher PlanWatcher
	gitFor  func(dir string) gitops.Runner
	clock   Clock
	sched   *Deferred
	logger  *DebugLogger

	beforeStart func(goalID, taskID string) string

	settleDelay    time.Duration
	sweepDelay     time.Duration
	sendTimeout    time.Duration
	historyTimeout time.Duration
	defaultWorker  string
	managerWorker  string
	workers        map[string]string
}

// New creates an Engine, applying defaults for unset collaborators.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	gitFor := cfg.GitFor
	if gitFor == nil {
		gitFor = func(dir string) gitops.Runner { return gitops.NewRunner(dir) }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}

	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}
	sweep := cfg.SweepDelay
	if sweep <= 0 {
		sweep = time.Second
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	historyTimeout := cfg.HistoryTimeout
	if historyTimeout <= 0 {
		historyTimeout = 30 * time.Second
	}
	defaultWorker := cfg.DefaultWorker
	if defaultWorker == "" {
		defaultWorker = "main"
	}
	managerWorker := cfg.ManagerWorker
	if managerWorker == "" {
		managerWorker = "manager"
	}

	return &Engine{
		store:          cfg.Store,
		bus:            cfg.Bus,
		runtime:        cfg.Runtime,
		spawner:        cfg.Spawner,
		watcher:        cfg.Watcher,
		gitFor:         gitFor,
		clock:          clock,
		sched:          NewDeferred(clock),
		logger:         logger,
		beforeStart:    cfg.BeforeSessionStart,
		settleDelay:    settle,
		sweepDelay:     sweep,
		sendTimeout:    sendTimeout,
		historyTimeout: historyTimeout,
		defaultWorker:  defaultWorker,
		managerWorker:  managerWorker,
		workers:        cfg.Workers,
	}
}

// Scheduler exposes the deferred-action scheduler, mainly for tests and
// the close path.
func (e *Engine) Scheduler() *Deferred {
	return e.sched
}

// resolveWorker maps an assigned role to a concrete worker identity.
func (e *Engine) resolveWorker(role string) string {
	if role == "" {
		return e.defaultWorker
	}
	if w, ok := e.workers[role]; ok && w != "" {
		return w
	}
	return e.defaultWorker
}

// resolveManager returns the worker identity for manager sessions. A
// "manager" role mapping in Workers takes precedence over the dedicated
// identity.
func (e *Engine) resolveManager() string {
	if w, ok := e.workers["manager"]; ok && w != "" {
		return w
	}
	return e.managerWorker
}

// publish emits an event stamped with the engine clock.
func (e *Engine) publish(ev bus.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock.Now()
	}
	e.bus.Publish(ev)
}
