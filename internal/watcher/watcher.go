// Package watcher mirrors externally maintained plan files into the
// event stream. One filesystem watch exists per in-progress session
// that declares a plan file, so the number of open watches is bounded
// by the number of concurrently running tasks.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/condoflow/condoflow/internal/bus"
)

// DefaultDebounce is the quiet period required before a burst of file
// changes collapses into a single event.
const DefaultDebounce = 500 * time.Millisecond

// DefaultLogCapacity bounds each session's plan-log ring buffer.
const DefaultLogCapacity = 100

// Manager owns the plan-file watches and per-session plan logs.
type Manager struct {
	bus      *bus.Bus
	debounce time.Duration
	logCap   int

	mu      sync.Mutex
	watches map[string]*watch
	logs    map[string]*ring
}

type watch struct {
	fsw  *fsnotify.Watcher
	path string
	done chan struct{}
}

// New creates a watch manager publishing to b.
func New(b *bus.Bus) *Manager {
	return &Manager{
		bus:      b,
		debounce: DefaultDebounce,
		logCap:   DefaultLogCapacity,
		watches:  make(map[string]*watch),
		logs:     make(map[string]*ring),
	}
}

// SetDebounce overrides the debounce window. For tests.
func (m *Manager) SetDebounce(d time.Duration) {
	m.debounce = d
}

// Watch starts watching the plan file for a session. The containing
// directory is watched so the file can appear after the watch starts.
// Replaces any existing watch for the same session.
func (m *Manager) Watch(sessionKey, path string) error {
	m.Stop(sessionKey)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &watch{fsw: fsw, path: path, done: make(chan struct{})}
	m.mu.Lock()
	m.watches[sessionKey] = w
	m.mu.Unlock()

	go m.run(sessionKey, w)
	return nil
}

// run debounces change events for the watched file and emits a single
// plan-file-changed event per burst.
func (m *Manager) run(sessionKey string, w *watch) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timerC:
					default:
					}
				}
				timer.Reset(m.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			m.AppendLog(sessionKey, fmt.Sprintf("plan file updated: %s", w.path))
			m.bus.Publish(bus.Event{
				Type:       bus.EventPlanFileChanged,
				SessionKey: sessionKey,
				Message:    w.path,
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			_ = err
		}
	}
}

// Stop tears down the session's watch and clears its log buffer.
func (m *Manager) Stop(sessionKey string) {
	m.mu.Lock()
	w := m.watches[sessionKey]
	delete(m.watches, sessionKey)
	delete(m.logs, sessionKey)
	m.mu.Unlock()

	if w != nil {
		close(w.done)
		w.fsw.Close()
	}
}

// AppendLog records a plan-log line for a session, evicting the oldest
// line once the buffer is full.
func (m *Manager) AppendLog(sessionKey, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.logs[sessionKey]
	if r == nil {
		r = newRing(m.logCap)
		m.logs[sessionKey] = r
	}
	r.push(line)
}

// Lines returns the session's buffered plan-log lines, oldest first.
func (m *Manager) Lines(sessionKey string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.logs[sessionKey]
	if r == nil {
		return nil
	}
	return r.lines()
}

// Close stops every watch.
func (m *Manager) Close() {
	m.mu.Lock()
	watches := m.watches
	m.watches = make(map[string]*watch)
	m.logs = make(map[string]*ring)
	m.mu.Unlock()

	for _, w := range watches {
		close(w.done)
		w.fsw.Close()
	}
}
