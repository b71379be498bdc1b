package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/internal/graph"
	"github.com/condoflow/condoflow/pkg/models"
)

// newID returns a short unique identifier.
func newID() string {
	return uuid.New().String()[:8]
}

// CreateCondo creates a condo. workspacePath and repoURL are optional.
func (e *Engine) CreateCondo(name, workspacePath, repoURL string) (*models.Condo, error) {
	if name == "" {
		return nil, fmt.Errorf("condo name is required")
	}
	condo := &models.Condo{
		ID:        newID(),
		Name:      name,
		UpdatedAt: e.clock.Now(),
	}
	if workspacePath != "" {
		condo.Workspace = &models.Workspace{Path: workspacePath, RepoURL: repoURL}
		if branch, err := e.gitFor(workspacePath).CurrentBranch(); err == nil {
			condo.Workspace.MainBranch = branch
		}
	}
	err := e.store.Update(func(doc *models.Document) error {
		doc.Condos = append(doc.Condos, condo)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return condo, nil
}

// GoalParams describes a goal to create.
type GoalParams struct {
	CondoID      string
	Title        string
	DependsOn    []string
	Phase        int
	AutonomyMode models.AutonomyMode
	CascadeMode  models.CascadeMode
	MaxRetries   int
	Tasks        []TaskParams
}

// TaskParams describes a task to create.
type TaskParams struct {
	Text          string
	AssignedAgent string
	DependsOn     []string
	Model         string
	PlanFile      string
}

// CreateGoal creates a goal with its initial tasks. Both the goal-level
// dependency graph across the condo and the goal's task graph are
// validated; a cycle or a dependency on an unknown id rejects the
// creation outright rather than leaving work permanently unspawnable.
func (e *Engine) CreateGoal(p GoalParams) (*models.Goal, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("goal title is required")
	}
	condo, err := e.store.Condo(p.CondoID)
	if err != nil {
		return nil, err
	}

	goal := &models.Goal{
		ID:           newID(),
		CondoID:      p.CondoID,
		Title:        p.Title,
		Status:       models.GoalStatusActive,
		DependsOn:    p.DependsOn,
		Phase:        p.Phase,
		AutonomyMode: p.AutonomyMode,
		CascadeMode:  p.CascadeMode,
		MaxRetries:   p.MaxRetries,
		UpdatedAt:    e.clock.Now(),
	}
	if goal.AutonomyMode == "" {
		goal.AutonomyMode = models.AutonomySupervised
	}

	taskDeps := make(graph.Deps)
	for _, tp := range p.Tasks {
		t, err := buildTask(tp)
		if err != nil {
			return nil, err
		}
		goal.Tasks = append(goal.Tasks, t)
	}
	for _, t := range goal.Tasks {
		taskDeps[t.ID] = t.DependsOn
	}
	if err := graph.Validate(taskDeps); err != nil {
		return nil, fmt.Errorf("task dependencies: %w", err)
	}

	if condo.Workspace != nil {
		wt, err := e.provisionWorktree(condo, goal.ID)
		if err != nil {
			return nil, fmt.Errorf("provision worktree: %w", err)
		}
		goal.Worktree = wt
	}

	err = e.store.Update(func(doc *models.Document) error {
		if doc.Condo(p.CondoID) == nil {
			return fmt.Errorf("condo %s: not found", p.CondoID)
		}
		goalDeps := make(graph.Deps)
		for _, g := range doc.GoalsForCondo(p.CondoID) {
			goalDeps[g.ID] = g.DependsOn
		}
		goalDeps[goal.ID] = goal.DependsOn
		if err := graph.Validate(goalDeps); err != nil {
			return fmt.Errorf("goal dependencies: %w", err)
		}
		doc.Goals = append(doc.Goals, goal)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return goal, nil
}

// provisionWorktree creates the goal's dedicated branch and worktree
// under the condo workspace. A leftover branch with the same name is
// deleted first so a recreated goal starts clean.
func (e *Engine) provisionWorktree(condo *models.Condo, goalID string) (*models.Worktree, error) {
	git := e.gitFor(condo.Workspace.Path)
	branch := "goal-" + goalID
	path := filepath.Join(condo.Workspace.Path, ".worktrees", goalID)

	exists, err := git.BranchExists(branch)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := git.DeleteBranch(branch); err != nil {
			return nil, err
		}
	}
	if err := git.WorktreeAddNewBranch(path, branch); err != nil {
		return nil, err
	}
	return &models.Worktree{Path: path, Branch: branch}, nil
}

// buildTask constructs a task from params. Dependency ids are taken as
// given; validation happens against the full graph by the caller.
func buildTask(p TaskParams) (*models.Task, error) {
	if p.Text == "" {
		return nil, fmt.Errorf("task text is required")
	}
	t := &models.Task{
		ID:            newID(),
		Text:          p.Text,
		Status:        models.TaskStatusPending,
		AssignedAgent: p.AssignedAgent,
		DependsOn:     p.DependsOn,
		Model:         p.Model,
	}
	if p.PlanFile != "" {
		t.Plan = &models.TaskPlan{Status: models.PlanStatusPending, ExpectedFilePath: p.PlanFile}
	}
	return t, nil
}

// AddTask appends a task to a goal, validating the resulting task graph.
func (e *Engine) AddTask(goalID string, p TaskParams) (*models.Task, error) {
	task, err := buildTask(p)
	if err != nil {
		return nil, err
	}
	err = e.store.UpdateGoal(goalID, func(g *models.Goal) error {
		deps := make(graph.Deps)
		for _, t := range g.Tasks {
			deps[t.ID] = t.DependsOn
		}
		deps[task.ID] = task.DependsOn
		if err := graph.Validate(deps); err != nil {
			return fmt.Errorf("task dependencies: %w", err)
		}
		g.Tasks = append(g.Tasks, task)
		g.UpdatedAt = e.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SpawnTaskSession spawns a session for one specific task. Unlike a
// kickoff pass, this targets a single task; it still refuses to spawn a
// task that already holds a session, is terminal, or has unfinished
// dependencies.
func (e *Engine) SpawnTaskSession(ctx context.Context, goalID, taskID string) (*SpawnedSession, error) {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return nil, err
	}
	task := goal.Task(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %s: not found in goal %s", taskID, goalID)
	}
	if task.Spawned() {
		return nil, fmt.Errorf("task %s already has a session", taskID)
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s is %s", taskID, task.Status)
	}
	done := make(map[string]bool)
	for _, t := range goal.Tasks {
		if t.Status == models.TaskStatusDone {
			done[t.ID] = true
		}
	}
	if !depsSatisfied(task.DependsOn, done) {
		return nil, fmt.Errorf("task %s is blocked by dependencies", taskID)
	}

	worker := e.resolveWorker(task.AssignedAgent)
	sessionKey, err := e.spawner.Spawn(ctx, worker, task.Model)
	if err != nil {
		return nil, fmt.Errorf("spawn session: %w", err)
	}
	if err := e.bindSpawn(goalID, taskID, sessionKey); err != nil {
		if derr := e.runtime.Delete(ctx, sessionKey); derr != nil {
			e.logger.Log("spawn task %s: delete orphaned session %s: %v", taskID, sessionKey, derr)
		}
		return nil, err
	}

	spawned := &SpawnedSession{
		TaskID:      taskID,
		SessionKey:  sessionKey,
		TaskContext: e.buildTaskContext(goal, task),
	}
	result := &KickoffResult{GoalID: goalID, Spawned: []*SpawnedSession{spawned}}
	e.StartSessions(ctx, result)
	return spawned, nil
}

// StartPlanCascade spawns a manager session for a goal and asks it to
// produce a task breakdown. The goal enters awaiting_plan and is added
// to its condo's pending-cascade set; the manager session is bound to
// the condo, not to any task.
func (e *Engine) StartPlanCascade(ctx context.Context, goalID string, mode models.CascadeMode) error {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return err
	}
	if goal.CascadeState == models.CascadeStateAwaitingPlan {
		return fmt.Errorf("goal %s is already awaiting a plan", goalID)
	}

	sessionKey, err := e.spawner.Spawn(ctx, e.resolveManager(), "")
	if err != nil {
		return fmt.Errorf("spawn manager session: %w", err)
	}

	err = e.store.Update(func(doc *models.Document) error {
		g := doc.Goal(goalID)
		if g == nil {
			return fmt.Errorf("goal %s: not found", goalID)
		}
		c := doc.Condo(g.CondoID)
		if c == nil {
			return fmt.Errorf("condo %s: not found", g.CondoID)
		}
		g.ManagerSessionKey = sessionKey
		g.CascadeState = models.CascadeStateAwaitingPlan
		if mode != "" {
			g.CascadeMode = mode
		}
		g.UpdatedAt = e.clock.Now()
		if !contains(c.CascadePendingGoals, goalID) {
			c.CascadePendingGoals = append(c.CascadePendingGoals, goalID)
		}
		c.UpdatedAt = e.clock.Now()
		doc.BindCondoSession(sessionKey, g.CondoID)
		return nil
	})
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.runtime.Send(sendCtx, sessionKey, planPrompt(goal)); err != nil {
		e.logger.Log("plan cascade %s: send to manager failed: %v", goalID, err)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// planPrompt builds the instruction asking a manager to break a goal
// into tasks it can emit as a fenced task list.
func planPrompt(goal *models.Goal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the goal %q into independent tasks.\n\n", goal.Title)
	b.WriteString("When your plan is final, end your reply with a fenced json list of tasks:\n\n")
	b.WriteString("```json\n[\n  {\"id\": \"a\", \"text\": \"...\", \"depends_on\": [], \"agent\": \"\"}\n]\n```\n\n")
	b.WriteString("Use the id field only to express depends_on references between tasks in the list.")
	return b.String()
}

// ApprovePlan kicks off a goal whose plan cascade produced tasks but
// stopped short of automatic execution.
func (e *Engine) ApprovePlan(ctx context.Context, goalID string) (*KickoffResult, error) {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return nil, err
	}
	if goal.CascadeState != models.CascadeStateTasksCreated {
		return nil, fmt.Errorf("goal %s has no approved plan tasks (state %q)", goalID, goal.CascadeState)
	}
	return e.KickoffAndStart(ctx, goalID)
}

// SessionStreamed handles streamed output from a session, extracting
// plan-log lines. Lines prefixed with "PLAN:" are buffered in the
// session's plan log and announced as plan-log events.
func (e *Engine) SessionStreamed(sessionKey, chunk string) {
	for _, line := range strings.Split(chunk, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "PLAN:") {
			continue
		}
		entry := strings.TrimSpace(strings.TrimPrefix(trimmed, "PLAN:"))
		if entry == "" {
			continue
		}
		if e.watcher != nil {
			e.watcher.AppendLog(sessionKey, entry)
		}
		e.publish(bus.Event{
			Type:       bus.EventPlanLog,
			SessionKey: sessionKey,
			Message:    entry,
		})
	}
}
