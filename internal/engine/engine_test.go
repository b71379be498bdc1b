package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/internal/gitops"
	"github.com/condoflow/condoflow/internal/runtime"
	"github.com/condoflow/condoflow/internal/store"
	"github.com/condoflow/condoflow/pkg/models"
)

// fakeSpawner allocates deterministic session keys and can be told to
// fail for specific workers.
type fakeSpawner struct {
	mu      sync.Mutex
	next    int
	failFor map[string]bool
	spawned []string
	workers []string
	onSpawn func()
}

func (f *fakeSpawner) Spawn(ctx context.Context, worker, model string) (string, error) {
	f.mu.Lock()
	if f.failFor[worker] {
		f.mu.Unlock()
		return "", fmt.Errorf("spawn refused for worker %s", worker)
	}
	f.next++
	key := fmt.Sprintf("sess-%d", f.next)
	f.spawned = append(f.spawned, key)
	f.workers = append(f.workers, worker)
	hook := f.onSpawn
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return key, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

// fakeRuntime records sends and serves canned history.
type fakeRuntime struct {
	mu      sync.Mutex
	sent    map[string][]string
	history map[string][]runtime.Message
	histErr error
	sendErr map[string]error
	deleted []string
	aborted []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		sent:    make(map[string][]string),
		history: make(map[string][]runtime.Message),
		sendErr: make(map[string]error),
	}
}

func (f *fakeRuntime) Send(ctx context.Context, sessionKey, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[sessionKey]; err != nil {
		return err
	}
	f.sent[sessionKey] = append(f.sent[sessionKey], message)
	return nil
}

func (f *fakeRuntime) History(ctx context.Context, sessionKey string, limit int) ([]runtime.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.history[sessionKey], nil
}

func (f *fakeRuntime) Delete(ctx context.Context, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionKey)
	return nil
}

func (f *fakeRuntime) Abort(ctx context.Context, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, sessionKey)
	return nil
}

func (f *fakeRuntime) sentTo(sessionKey string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[sessionKey]...)
}

// fakeGit implements gitops.Runner with scripted outcomes.
type fakeGit struct {
	mu           sync.Mutex
	branch       string
	dirty        bool
	remote       bool
	branchExists bool
	pushErr      error
	mergeErr     error
	conflicts    []string
	commits      []string
	pushes       []string
	merges       []string
	aborts       int

	checkouts       []string
	deletedBranches []string
	worktreeAdds    []string
	worktreeRemoves []string
	prunes          int
}

func (f *fakeGit) CurrentBranch() (string, error) {
	if f.branch == "" {
		return "main", nil
	}
	return f.branch, nil
}
func (f *fakeGit) BranchExists(name string) (bool, error) { return f.branchExists, nil }

func (f *fakeGit) DeleteBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedBranches = append(f.deletedBranches, name)
	return nil
}

func (f *fakeGit) CheckoutBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, name)
	f.branch = name
	return nil
}

func (f *fakeGit) HasChanges() (bool, error) { return f.dirty, nil }
func (f *fakeGit) AddAll() error             { return nil }

func (f *fakeGit) Commit(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	f.dirty = false
	return nil
}

func (f *fakeGit) HasRemote() (bool, error) { return f.remote, nil }

func (f *fakeGit) Push(branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, branch)
	return nil
}

func (f *fakeGit) MergeNoFFMessage(branch, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merges = append(f.merges, branch)
	return nil
}

func (f *fakeGit) MergeAbort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	return nil
}

func (f *fakeGit) ConflictedFiles() ([]string, error)           { return f.conflicts, nil }
func (f *fakeGit) AheadBehind(b, base string) (int, int, error) { return 2, 1, nil }

func (f *fakeGit) WorktreeAddNewBranch(path, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worktreeAdds = append(f.worktreeAdds, path)
	return nil
}

func (f *fakeGit) WorktreeRemove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worktreeRemoves = append(f.worktreeRemoves, path)
	return nil
}

func (f *fakeGit) WorktreePrune() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes++
	return nil
}

var _ gitops.Runner = (*fakeGit)(nil)

// fakeWatcher records watch lifecycle calls.
type fakeWatcher struct {
	mu      sync.Mutex
	watched map[string]string
	stopped []string
	logs    map[string][]string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{watched: make(map[string]string), logs: make(map[string][]string)}
}

func (f *fakeWatcher) Watch(sessionKey, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched[sessionKey] = path
	return nil
}

func (f *fakeWatcher) Stop(sessionKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watched, sessionKey)
	f.stopped = append(f.stopped, sessionKey)
}

func (f *fakeWatcher) AppendLog(sessionKey, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[sessionKey] = append(f.logs[sessionKey], line)
}

func (f *fakeWatcher) Lines(sessionKey string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logs[sessionKey]...)
}

// fixture wires an engine against fakes and a temp-file store.
type fixture struct {
	engine  *Engine
	store   *store.Store
	bus     *bus.Bus
	spawner *fakeSpawner
	runtime *fakeRuntime
	git     *fakeGit
	watcher *fakeWatcher
	clock   *VirtualClock

	mu     sync.Mutex
	events []bus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "doc.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	f := &fixture{
		store:   s,
		bus:     bus.New(),
		spawner: &fakeSpawner{failFor: make(map[string]bool)},
		runtime: newFakeRuntime(),
		git:     &fakeGit{},
		watcher: newFakeWatcher(),
		clock:   NewVirtualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.bus.Subscribe(func(e bus.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})

	f.engine = New(Config{
		Store:   s,
		Bus:     f.bus,
		Runtime: f.runtime,
		Spawner: f.spawner,
		Watcher: f.watcher,
		GitFor:  func(dir string) gitops.Runner { return f.git },
		Clock:   f.clock,
	})
	return f
}

func (f *fixture) eventsOf(typ bus.EventType) []bus.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bus.Event
	for _, e := range f.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// seed inserts a condo and goals directly into the store.
func (f *fixture) seed(t *testing.T, condo *models.Condo, goals ...*models.Goal) {
	t.Helper()
	err := f.store.Update(func(doc *models.Document) error {
		if condo != nil {
			doc.Condos = append(doc.Condos, condo)
		}
		doc.Goals = append(doc.Goals, goals...)
		return nil
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
}

func (f *fixture) goal(t *testing.T, goalID string) *models.Goal {
	t.Helper()
	g, err := f.store.Goal(goalID)
	if err != nil {
		t.Fatalf("load goal %s: %v", goalID, err)
	}
	return g
}

func simpleGoal(id, condoID string, tasks ...*models.Task) *models.Goal {
	return &models.Goal{
		ID:      id,
		CondoID: condoID,
		Title:   "goal " + id,
		Status:  models.GoalStatusActive,
		Tasks:   tasks,
	}
}

func pendingTask(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Text: "do " + id, Status: models.TaskStatusPending, DependsOn: deps}
}
