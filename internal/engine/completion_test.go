package engine

import (
	"context"
	"testing"
	"time"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/internal/gitops"
	"github.com/condoflow/condoflow/internal/runtime"
	"github.com/condoflow/condoflow/pkg/models"
)

func TestSilentSessionEndAutoCompletesTask(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"},
		simpleGoal("g1", "c1", pendingTask("t1"), pendingTask("t2")))

	result, _ := f.engine.Kickoff(context.Background(), "g1")
	key := result.Spawned[0].SessionKey

	f.engine.SessionEnded(context.Background(), key, "")

	task := f.goal(t, "g1").Task(result.Spawned[0].TaskID)
	if task.Status != models.TaskStatusDone {
		t.Fatalf("task status = %s, want done", task.Status)
	}
	if task.Summary == "" {
		t.Error("auto-completed task should get a default summary")
	}

	events := f.eventsOf(bus.EventTaskCompleted)
	if len(events) != 1 {
		t.Fatalf("task-completed events = %d, want 1", len(events))
	}
	if !events[0].Assumed {
		t.Error("silent completion should be marked assumed")
	}

	doc, _ := f.store.Snapshot()
	if _, bound := doc.SessionIndex[key]; bound {
		t.Error("ended session should be unbound")
	}
}

func TestCompletionSchedulesRekickoffForUnblockedTask(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"},
		simpleGoal("g1", "c1", pendingTask("a"), pendingTask("b", "a")))

	result, _ := f.engine.Kickoff(context.Background(), "g1")
	f.engine.StartSessions(context.Background(), result)
	if f.spawner.count() != 1 {
		t.Fatalf("initial kickoff spawned %d, want 1 (only task a)", f.spawner.count())
	}

	f.engine.SessionEnded(context.Background(), result.Spawned[0].SessionKey, "")

	// Nothing new until the settle delay elapses.
	if f.spawner.count() != 1 {
		t.Fatal("dependent task spawned before the settle delay")
	}
	f.clock.Advance(2 * time.Second)

	if f.spawner.count() != 2 {
		t.Fatalf("spawner count = %d after settle delay, want 2", f.spawner.count())
	}
	b := f.goal(t, "g1").Task("b")
	if b.Status != models.TaskStatusInProgress {
		t.Errorf("task b status = %s, want in-progress", b.Status)
	}
}

func TestAllTasksDoneHandsOffToMerge(t *testing.T) {
	f := newFixture(t)
	// No worktree: the goal completes directly.
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"},
		simpleGoal("g1", "c1", pendingTask("t1"), pendingTask("t2")))

	result, _ := f.engine.Kickoff(context.Background(), "g1")
	for _, s := range result.Spawned {
		f.engine.SessionEnded(context.Background(), s.SessionKey, "")
	}

	g := f.goal(t, "g1")
	if g.Status != models.GoalStatusDone || !g.Completed {
		t.Fatalf("goal = {status:%s completed:%v}, want done/true together", g.Status, g.Completed)
	}
	if g.CompletedAt == nil {
		t.Error("completedAt should be stamped")
	}
	if len(f.eventsOf(bus.EventGoalCompleted)) != 1 {
		t.Error("expected exactly one goal-completed event")
	}
}

func TestFailureWithinBudgetResetsTask(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"},
		simpleGoal("g1", "c1", pendingTask("t1")))

	result, _ := f.engine.Kickoff(context.Background(), "g1")
	f.engine.SessionEnded(context.Background(), result.Spawned[0].SessionKey, "worker crashed")

	task := f.goal(t, "g1").Task("t1")
	if task.Status != models.TaskStatusPending {
		t.Fatalf("task status = %s, want pending after retry reset", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", task.RetryCount)
	}
	if task.SessionKey != "" {
		t.Error("retry reset should clear the session key")
	}
	if task.LastError != "worker crashed" {
		t.Errorf("lastError = %q", task.LastError)
	}
	if len(f.eventsOf(bus.EventTaskRetry)) != 1 {
		t.Error("expected a task-retry event")
	}

	// The deferred re-kickoff spawns a fresh session.
	f.clock.Advance(2 * time.Second)
	if f.spawner.count() != 2 {
		t.Fatalf("spawner count = %d, want 2 after retry kickoff", f.spawner.count())
	}
}

func TestExhaustedRetriesFailPermanently(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"},
		simpleGoal("g1", "c1", pendingTask("t1")))

	result, _ := f.engine.Kickoff(context.Background(), "g1")
	f.engine.SessionEnded(context.Background(), result.Spawned[0].SessionKey, "first failure")
	f.clock.Advance(2 * time.Second)

	g := f.goal(t, "g1")
	second := g.Task("t1").SessionKey
	if second == "" {
		t.Fatal("retry should have spawned a second session")
	}
	f.engine.SessionEnded(context.Background(), second, "second failure")

	task := f.goal(t, "g1").Task("t1")
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("task status = %s, want failed", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1 (never exceeds the budget)", task.RetryCount)
	}
	if len(f.eventsOf(bus.EventTaskFailed)) != 1 {
		t.Error("expected a task-failed event")
	}

	// No further automatic action.
	before := f.spawner.count()
	f.clock.Advance(10 * time.Second)
	if f.spawner.count() != before {
		t.Error("permanently failed task must not respawn")
	}
}

func TestSessionEndForDoneTaskIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"},
		simpleGoal("g1", "c1", pendingTask("t1"), pendingTask("t2")))

	result, _ := f.engine.Kickoff(context.Background(), "g1")
	key := result.Spawned[0].SessionKey

	// Mark the task done out of band, as the agent status tool would.
	if err := f.store.UpdateGoal("g1", func(g *models.Goal) error {
		g.TaskBySession(key).Status = models.TaskStatusDone
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	f.engine.SessionEnded(context.Background(), key, "")

	if len(f.eventsOf(bus.EventTaskCompleted)) != 0 {
		t.Error("already-done task should not emit another completion")
	}
	found := false
	for _, stopped := range f.watcher.stopped {
		if stopped == key {
			found = true
		}
	}
	if !found {
		t.Error("plan watch should be torn down even for an already-done task")
	}
}

func TestUnknownSessionEndIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.engine.SessionEnded(context.Background(), "ghost", "")
	if len(f.events) != 0 {
		t.Errorf("unexpected events: %+v", f.events)
	}
}

const planMessage = "Here is the breakdown.\n\n```json\n[\n" +
	"  {\"id\": \"a\", \"text\": \"set up schema\"},\n" +
	"  {\"id\": \"b\", \"text\": \"write queries\", \"depends_on\": [\"a\"]}\n" +
	"]\n```\n"

func seedManagerCascade(t *testing.T, f *fixture, mode models.CascadeMode) {
	t.Helper()
	g := simpleGoal("g1", "c1")
	g.Tasks = nil
	g.ManagerSessionKey = "mgr-1"
	g.CascadeState = models.CascadeStateAwaitingPlan
	g.CascadeMode = mode
	condo := &models.Condo{ID: "c1", Name: "condo", CascadePendingGoals: []string{"g1"}}
	f.seed(t, condo, g)
	if err := f.store.Update(func(doc *models.Document) error {
		doc.BindCondoSession("mgr-1", "c1")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestManagerPlanCreatesTasks(t *testing.T) {
	f := newFixture(t)
	seedManagerCascade(t, f, models.CascadeModePlan)
	f.runtime.history["mgr-1"] = []runtime.Message{
		{Role: "user", Content: "please plan"},
		{Role: "assistant", Content: planMessage},
	}

	f.engine.SessionEnded(context.Background(), "mgr-1", "")

	g := f.goal(t, "g1")
	if g.CascadeState != models.CascadeStateTasksCreated {
		t.Fatalf("cascadeState = %s, want tasks_created", g.CascadeState)
	}
	if len(g.Tasks) != 2 {
		t.Fatalf("goal has %d tasks, want 2", len(g.Tasks))
	}
	if len(g.Tasks[1].DependsOn) != 1 || g.Tasks[1].DependsOn[0] != g.Tasks[0].ID {
		t.Errorf("plan-local dependency labels should map to real task ids, got %v", g.Tasks[1].DependsOn)
	}

	condo, _ := f.store.Condo("c1")
	if len(condo.CascadePendingGoals) != 0 {
		t.Errorf("pending set = %v, want empty", condo.CascadePendingGoals)
	}
	if len(f.eventsOf(bus.EventCascadeTasksCreated)) != 1 {
		t.Error("expected a cascade-tasks-created event")
	}
	if len(f.eventsOf(bus.EventCascadeComplete)) != 1 {
		t.Error("cascade-complete should fire exactly once when the set empties")
	}

	// No automatic kickoff in plan mode.
	f.clock.Advance(5 * time.Second)
	if f.spawner.count() != 0 {
		t.Error("plan mode must not kick off automatically")
	}
}

func TestManagerPlanFullModeKicksOff(t *testing.T) {
	f := newFixture(t)
	seedManagerCascade(t, f, models.CascadeModeFull)
	f.runtime.history["mgr-1"] = []runtime.Message{
		{Role: "assistant", Content: planMessage},
	}

	f.engine.SessionEnded(context.Background(), "mgr-1", "")

	g := f.goal(t, "g1")
	if g.AutonomyMode != models.AutonomyFull {
		t.Errorf("autonomyMode = %s, want full", g.AutonomyMode)
	}

	f.clock.Advance(2 * time.Second)
	if f.spawner.count() != 1 {
		t.Fatalf("spawner count = %d, want 1 (first unblocked plan task)", f.spawner.count())
	}
}

func TestManagerPlanWithoutTaskListIsPlanReady(t *testing.T) {
	f := newFixture(t)
	seedManagerCascade(t, f, models.CascadeModePlan)
	f.runtime.history["mgr-1"] = []runtime.Message{
		{Role: "assistant", Content: "I suggest doing A then B, but want your sign-off first."},
	}

	f.engine.SessionEnded(context.Background(), "mgr-1", "")

	if got := f.goal(t, "g1").CascadeState; got != models.CascadeStatePlanReady {
		t.Fatalf("cascadeState = %s, want plan_ready", got)
	}
	if len(f.eventsOf(bus.EventCascadePlanReady)) != 1 {
		t.Error("expected a cascade-plan-ready event")
	}
}

func TestManagerHistoryFailureRecordsFetchFailed(t *testing.T) {
	f := newFixture(t)
	seedManagerCascade(t, f, models.CascadeModePlan)
	f.runtime.histErr = context.DeadlineExceeded

	f.engine.SessionEnded(context.Background(), "mgr-1", "")

	if got := f.goal(t, "g1").CascadeState; got != models.CascadeStatePlanFetchFailed {
		t.Fatalf("cascadeState = %s, want plan_fetch_failed", got)
	}
	condo, _ := f.store.Condo("c1")
	if len(condo.CascadePendingGoals) != 0 {
		t.Error("the goal should still be retired from the pending set")
	}
}

func TestCascadeCompleteFiresOnce(t *testing.T) {
	f := newFixture(t)
	g1 := simpleGoal("g1", "c1")
	g1.Tasks = nil
	g1.ManagerSessionKey = "mgr-1"
	g1.CascadeState = models.CascadeStateAwaitingPlan
	g2 := simpleGoal("g2", "c1")
	g2.Tasks = nil
	g2.ManagerSessionKey = "mgr-2"
	g2.CascadeState = models.CascadeStateAwaitingPlan
	condo := &models.Condo{ID: "c1", Name: "condo", CascadePendingGoals: []string{"g1", "g2"}}
	f.seed(t, condo, g1, g2)
	if err := f.store.Update(func(doc *models.Document) error {
		doc.BindCondoSession("mgr-1", "c1")
		doc.BindCondoSession("mgr-2", "c1")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	f.runtime.history["mgr-1"] = []runtime.Message{{Role: "assistant", Content: planMessage}}
	f.runtime.history["mgr-2"] = []runtime.Message{{Role: "assistant", Content: planMessage}}

	f.engine.SessionEnded(context.Background(), "mgr-1", "")
	if len(f.eventsOf(bus.EventCascadeComplete)) != 0 {
		t.Fatal("cascade-complete fired while goals were still pending")
	}

	f.engine.SessionEnded(context.Background(), "mgr-2", "")
	if len(f.eventsOf(bus.EventCascadeComplete)) != 1 {
		t.Fatal("cascade-complete should fire exactly once when the set empties")
	}
}

// Commands run as one-shot processes; the re-kickoff a completion
// schedules must land before the scheduler drain returns, not after the
// process is gone.
func TestSchedulerWaitDeliversDeferredRekickoff(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"},
		simpleGoal("g1", "c1", pendingTask("a"), pendingTask("b", "a")))

	eng := New(Config{
		Store:       f.store,
		Bus:         f.bus,
		Runtime:     f.runtime,
		Spawner:     f.spawner,
		Watcher:     f.watcher,
		GitFor:      func(dir string) gitops.Runner { return f.git },
		SettleDelay: 2 * time.Millisecond,
		SweepDelay:  2 * time.Millisecond,
	})

	result, err := eng.Kickoff(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Kickoff() error: %v", err)
	}
	eng.StartSessions(context.Background(), result)

	eng.SessionEnded(context.Background(), result.Spawned[0].SessionKey, "")
	eng.Scheduler().Wait()

	if f.spawner.count() != 2 {
		t.Fatalf("spawner count = %d after drain, want 2 (task b must spawn)", f.spawner.count())
	}
	if got := f.goal(t, "g1").Task("b").Status; got != models.TaskStatusInProgress {
		t.Errorf("task b status = %s, want in-progress", got)
	}
}

func TestRestoreWatchesRewatchesInProgressPlans(t *testing.T) {
	f := newFixture(t)
	running := pendingTask("a")
	running.Status = models.TaskStatusInProgress
	running.SessionKey = "sess-a"
	running.Plan = &models.TaskPlan{Status: models.PlanStatusPending, ExpectedFilePath: "/tmp/plan.md"}
	idle := pendingTask("b")
	f.seed(t, &models.Condo{ID: "c1", Name: "condo"}, simpleGoal("g1", "c1", running, idle))

	if n := f.engine.RestoreWatches(); n != 1 {
		t.Fatalf("RestoreWatches() = %d, want 1", n)
	}
	if f.watcher.watched["sess-a"] != "/tmp/plan.md" {
		t.Errorf("watch path = %q, want /tmp/plan.md", f.watcher.watched["sess-a"])
	}
}
