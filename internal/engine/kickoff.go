package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/pkg/models"
)

// SpawnedSession describes one session created during a kickoff pass.
type SpawnedSession struct {
	// TaskID is the task the session is working on.
	TaskID string `json:"task_id"`
	// SessionKey identifies the spawned session.
	SessionKey string `json:"session_key"`
	// TaskContext is the initial instruction payload for the session.
	TaskContext string `json:"task_context"`
	// HeadlessStarted reports whether the initial instructions were
	// delivered successfully.
	HeadlessStarted bool `json:"headless_started"`
}

// KickoffResult is the outcome of a kickoff pass over one goal.
type KickoffResult struct {
	// GoalID is the goal that was kicked off.
	GoalID string `json:"goal_id"`
	// Spawned lists the sessions created in this pass.
	Spawned []*SpawnedSession `json:"spawned_sessions"`
	// Errors collects per-task spawn failures. Partial success is the
	// normal outcome, not an error state.
	Errors []string `json:"errors,omitempty"`
	// Message summarizes the pass for the caller.
	Message string `json:"message"`
}

// Kickoff resolves which tasks of a goal are unblocked and spawns a
// session for each. Spawn failures are collected per task without
// aborting the remaining spawns. Returns a NotFound error only when the
// goal does not exist; a goal blocked by its dependencies is a reportable
// state, not a failure.
func (e *Engine) Kickoff(ctx context.Context, goalID string) (*KickoffResult, error) {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return nil, err
	}

	result := &KickoffResult{GoalID: goalID}

	if blocked, missing := e.goalDepsBlocked(goal); blocked {
		result.Message = fmt.Sprintf("blocked by dependencies: %s", strings.Join(missing, ", "))
		return result, nil
	}

	done := make(map[string]bool)
	for _, t := range goal.Tasks {
		if t.Status == models.TaskStatusDone {
			done[t.ID] = true
		}
	}

	for _, t := range goal.Tasks {
		if t.Spawned() || t.Status.Terminal() {
			continue
		}
		if !depsSatisfied(t.DependsOn, done) {
			continue
		}

		worker := e.resolveWorker(t.AssignedAgent)
		sessionKey, err := e.spawner.Spawn(ctx, worker, t.Model)
		if err != nil {
			e.logger.Log("kickoff %s: spawn task %s failed: %v", goalID, t.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
			continue
		}

		taskCtx := e.buildTaskContext(goal, t)
		if err := e.bindSpawn(goalID, t.ID, sessionKey); err != nil {
			e.logger.Log("kickoff %s: bind task %s failed: %v", goalID, t.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
			// The session exists in the runtime but nothing tracks it.
			if derr := e.runtime.Delete(ctx, sessionKey); derr != nil {
				e.logger.Log("kickoff %s: delete orphaned session %s: %v", goalID, sessionKey, derr)
			}
			continue
		}

		result.Spawned = append(result.Spawned, &SpawnedSession{
			TaskID:      t.ID,
			SessionKey:  sessionKey,
			TaskContext: taskCtx,
		})
	}

	switch {
	case len(result.Spawned) > 0:
		result.Message = fmt.Sprintf("spawned %d session(s)", len(result.Spawned))
	case len(result.Errors) > 0:
		result.Message = "all spawns failed"
	default:
		result.Message = "no unblocked tasks"
	}
	return result, nil
}

// goalDepsBlocked reports whether any goal-level dependency is not done,
// along with the ids of the unfinished dependencies. A dependency on a
// missing goal counts as unfinished.
func (e *Engine) goalDepsBlocked(goal *models.Goal) (bool, []string) {
	if len(goal.DependsOn) == 0 {
		return false, nil
	}
	var missing []string
	doc, err := e.store.Snapshot()
	if err != nil {
		return true, goal.DependsOn
	}
	for _, depID := range goal.DependsOn {
		dep := doc.Goal(depID)
		if dep == nil || dep.Status != models.GoalStatusDone {
			missing = append(missing, depID)
		}
	}
	return len(missing) > 0, missing
}

// depsSatisfied reports whether every listed dependency is in the done set.
func depsSatisfied(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

// bindSpawn records a successful spawn: the task moves to in-progress,
// the session is indexed, and the goal becomes active.
func (e *Engine) bindSpawn(goalID, taskID, sessionKey string) error {
	return e.store.Update(func(doc *models.Document) error {
		g := doc.Goal(goalID)
		if g == nil {
			return fmt.Errorf("goal %s: not found", goalID)
		}
		t := g.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %s: not found", taskID)
		}
		t.SessionKey = sessionKey
		t.Status = models.TaskStatusInProgress
		g.Status = models.GoalStatusActive
		g.UpdatedAt = e.clock.Now()
		doc.BindTaskSession(sessionKey, goalID)
		return nil
	})
}

// KickoffAndStart runs a kickoff pass, delivers instructions to every
// spawned session, and announces the kickoff. The manual operation
// surface and the deferred re-kickoff, retry, and sweep paths all enter
// here so every kickoff leaves the same event trail.
func (e *Engine) KickoffAndStart(ctx context.Context, goalID string) (*KickoffResult, error) {
	result, err := e.Kickoff(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if len(result.Spawned) == 0 {
		return result, nil
	}
	e.StartSessions(ctx, result)

	goal, err := e.store.Goal(goalID)
	condoID := ""
	if err == nil {
		condoID = goal.CondoID
	}
	e.publish(bus.Event{
		Type:    bus.EventKickoff,
		CondoID: condoID,
		GoalID:  goalID,
		Message: result.Message,
	})
	return result, nil
}
