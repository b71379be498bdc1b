package engine

import (
	"context"
	"fmt"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/pkg/models"
)

// assumedSummary is recorded when a session ends without an explicit
// status report. The completion is inferred, not confirmed; events
// carry the Assumed flag so observers can treat it accordingly.
const assumedSummary = "completed (assumed from session end without explicit status)"

// SessionEnded reacts to a session ending. failure is empty when the
// session ended without an explicit failure signal. Errors here are
// logged and turned into recorded state, never returned to the hook
// boundary, so one session's processing cannot destabilize another's.
func (e *Engine) SessionEnded(ctx context.Context, sessionKey, failure string) {
	doc, err := e.store.Snapshot()
	if err != nil {
		e.logger.Log("session ended %s: snapshot failed: %v", sessionKey, err)
		return
	}

	if condoID, ok := doc.SessionCondoIndex[sessionKey]; ok {
		if goal := managerGoal(doc, sessionKey); goal != nil {
			e.handleManagerEnd(ctx, condoID, goal.ID, sessionKey)
			return
		}
		e.logger.Log("session ended %s: condo-bound session with no awaiting goal", sessionKey)
		return
	}

	binding, ok := doc.SessionIndex[sessionKey]
	if !ok {
		e.logger.Log("session ended %s: no binding", sessionKey)
		return
	}
	goal := doc.Goal(binding.GoalID)
	if goal == nil {
		e.logger.Log("session ended %s: bound goal %s missing", sessionKey, binding.GoalID)
		return
	}
	task := goal.TaskBySession(sessionKey)
	if task == nil {
		e.logger.Log("session ended %s: no task bound in goal %s", sessionKey, goal.ID)
		return
	}

	e.stopWatch(sessionKey)

	if task.Status == models.TaskStatusDone {
		return
	}
	if task.Status != models.TaskStatusInProgress {
		e.logger.Log("session ended %s: task %s in state %s, ignoring", sessionKey, task.ID, task.Status)
		return
	}

	if failure == "" {
		e.completeTask(ctx, goal, task, sessionKey)
		return
	}
	e.failTask(ctx, goal, task, sessionKey, failure)
}

// managerGoal finds the goal whose manager session is awaiting a plan.
func managerGoal(doc *models.Document, sessionKey string) *models.Goal {
	for _, g := range doc.Goals {
		if g.ManagerSessionKey == sessionKey && g.CascadeState == models.CascadeStateAwaitingPlan {
			return g
		}
	}
	return nil
}

// stopWatch tears down any plan-file watch for the session and clears
// its log buffer.
func (e *Engine) stopWatch(sessionKey string) {
	if e.watcher != nil {
		e.watcher.Stop(sessionKey)
	}
}

// completeTask marks a task done after its session ended silently. The
// completion is assumed rather than reported; the summary and event say
// so. Schedules a re-kickoff for newly unblocked tasks, or hands off to
// the merge path when the goal's tasks are all done.
func (e *Engine) completeTask(ctx context.Context, goal *models.Goal, task *models.Task, sessionKey string) {
	allDone := false
	err := e.store.Update(func(doc *models.Document) error {
		g := doc.Goal(goal.ID)
		if g == nil {
			return fmt.Errorf("goal %s: not found", goal.ID)
		}
		t := g.Task(task.ID)
		if t == nil {
			return fmt.Errorf("task %s: not found", task.ID)
		}
		t.Status = models.TaskStatusDone
		if t.Summary == "" {
			t.Summary = assumedSummary
		}
		g.UpdatedAt = e.clock.Now()
		doc.UnbindSession(sessionKey)
		allDone = g.AllTasksDone()
		return nil
	})
	if err != nil {
		e.logger.Log("complete task %s: %v", task.ID, err)
		return
	}

	e.publish(bus.Event{
		Type:       bus.EventTaskCompleted,
		CondoID:    goal.CondoID,
		GoalID:     goal.ID,
		TaskID:     task.ID,
		SessionKey: sessionKey,
		Assumed:    true,
	})

	if allDone {
		e.mergeGoal(ctx, goal.ID)
		return
	}
	e.scheduleKickoff(goal.ID)
}

// failTask handles a session ending with a failure signal. Within the
// retry budget the task is reset to pending and a re-kickoff is
// scheduled; past it the task fails permanently and no further
// automatic action occurs.
func (e *Engine) failTask(ctx context.Context, goal *models.Goal, task *models.Task, sessionKey, failure string) {
	retried := false
	err := e.store.Update(func(doc *models.Document) error {
		g := doc.Goal(goal.ID)
		if g == nil {
			return fmt.Errorf("goal %s: not found", goal.ID)
		}
		t := g.Task(task.ID)
		if t == nil {
			return fmt.Errorf("task %s: not found", task.ID)
		}
		t.LastError = failure
		doc.UnbindSession(sessionKey)
		if t.RetryCount < g.RetryBudget() {
			t.RetryCount++
			t.SessionKey = ""
			t.Status = models.TaskStatusPending
			retried = true
		} else {
			t.Status = models.TaskStatusFailed
		}
		g.UpdatedAt = e.clock.Now()
		return nil
	})
	if err != nil {
		e.logger.Log("fail task %s: %v", task.ID, err)
		return
	}

	if retried {
		e.publish(bus.Event{
			Type:       bus.EventTaskRetry,
			CondoID:    goal.CondoID,
			GoalID:     goal.ID,
			TaskID:     task.ID,
			SessionKey: sessionKey,
			Error:      failure,
		})
		e.scheduleKickoff(goal.ID)
		return
	}

	e.publish(bus.Event{
		Type:       bus.EventTaskFailed,
		CondoID:    goal.CondoID,
		GoalID:     goal.ID,
		TaskID:     task.ID,
		SessionKey: sessionKey,
		Error:      failure,
	})
}

// scheduleKickoff defers a kickoff pass for the goal so the persisted
// document settles between the triggering mutation and the dependent
// read. The deferred action re-reads fresh state at fire time.
func (e *Engine) scheduleKickoff(goalID string) {
	e.sched.After(goalID, e.settleDelay, func() {
		if _, err := e.KickoffAndStart(context.Background(), goalID); err != nil {
			e.logger.Log("deferred kickoff %s: %v", goalID, err)
		}
	})
}

// handleManagerEnd processes a manager session ending while its goal
// awaits a plan: fetch recent history, extract the last assistant
// message, parse it into tasks, and retire the goal from its condo's
// pending-cascade set.
func (e *Engine) handleManagerEnd(ctx context.Context, condoID, goalID, sessionKey string) {
	histCtx, cancel := context.WithTimeout(ctx, e.historyTimeout)
	history, err := e.runtime.History(histCtx, sessionKey, 20)
	cancel()

	var content string
	if err != nil {
		e.logger.Log("manager %s: history fetch failed: %v", sessionKey, err)
	} else {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == "assistant" {
				content = history[i].Content
				break
			}
		}
	}

	state := models.CascadeStatePlanFetchFailed
	var parsed []ParsedTask
	if err == nil && content != "" {
		parsed, state = ParsePlanResponse(content)
	}

	var autoKickoff bool
	updateErr := e.store.Update(func(doc *models.Document) error {
		g := doc.Goal(goalID)
		if g == nil {
			return fmt.Errorf("goal %s: not found", goalID)
		}
		if state == models.CascadeStateTasksCreated {
			if err := appendParsedTasks(g, parsed); err != nil {
				e.logger.Log("manager %s: rejecting plan tasks: %v", sessionKey, err)
				state = models.CascadeStatePlanReady
			}
		}
		g.CascadeState = state
		if state == models.CascadeStateTasksCreated && g.CascadeMode == models.CascadeModeFull {
			g.AutonomyMode = models.AutonomyFull
			autoKickoff = true
		}
		g.UpdatedAt = e.clock.Now()
		return nil
	})
	if updateErr != nil {
		e.logger.Log("manager %s: update goal %s: %v", sessionKey, goalID, updateErr)
		return
	}

	switch state {
	case models.CascadeStateTasksCreated:
		e.publish(bus.Event{
			Type:    bus.EventCascadeTasksCreated,
			CondoID: condoID,
			GoalID:  goalID,
			Message: fmt.Sprintf("created %d task(s) from plan", len(parsed)),
		})
	case models.CascadeStatePlanReady:
		e.publish(bus.Event{
			Type:    bus.EventCascadePlanReady,
			CondoID: condoID,
			GoalID:  goalID,
		})
	}

	if autoKickoff {
		goal, err := e.store.Goal(goalID)
		if err == nil {
			if blocked, _ := e.goalDepsBlocked(goal); !blocked {
				e.scheduleKickoff(goalID)
			}
		}
	}

	e.retirePendingGoal(condoID, goalID)
}

// retirePendingGoal removes a goal from its condo's pending-cascade set
// and emits cascade-complete the moment the set first becomes empty.
func (e *Engine) retirePendingGoal(condoID, goalID string) {
	emptied := false
	err := e.store.UpdateCondo(condoID, func(c *models.Condo) error {
		emptied = c.RetirePendingGoal(goalID)
		c.UpdatedAt = e.clock.Now()
		return nil
	})
	if err != nil {
		e.logger.Log("retire pending goal %s from condo %s: %v", goalID, condoID, err)
		return
	}
	if emptied {
		e.publish(bus.Event{
			Type:    bus.EventCascadeComplete,
			CondoID: condoID,
		})
	}
}
