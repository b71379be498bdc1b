package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/condoflow/condoflow/pkg/models"
)

// StartSessions delivers the initial task-context message to every
// spawned session in the result. Each send is attempted independently; a
// failure is logged and recorded on that entry without blocking delivery
// to the others.
func (e *Engine) StartSessions(ctx context.Context, result *KickoffResult) {
	for _, s := range result.Spawned {
		sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		err := e.runtime.Send(sendCtx, s.SessionKey, s.TaskContext)
		cancel()
		if err != nil {
			e.logger.Log("start session %s: send failed: %v", s.SessionKey, err)
			s.HeadlessStarted = false
			continue
		}
		s.HeadlessStarted = true
		e.watchPlanFile(result.GoalID, s.TaskID, s.SessionKey)
	}
}

// watchPlanFile starts a plan-file watch for a newly started session if
// its task declares an expected plan file path.
func (e *Engine) watchPlanFile(goalID, taskID, sessionKey string) {
	if e.watcher == nil {
		return
	}
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return
	}
	t := goal.Task(taskID)
	if t == nil || t.Plan == nil || t.Plan.ExpectedFilePath == "" {
		return
	}
	if err := e.watcher.Watch(sessionKey, t.Plan.ExpectedFilePath); err != nil {
		e.logger.Log("watch plan file for %s: %v", sessionKey, err)
	}
}

// RestoreWatches re-establishes plan-file watches for every in-progress
// task session recorded in the store. Watches only live as long as the
// process that created them; a resident process calls this at startup.
// Returns the number of watches established.
func (e *Engine) RestoreWatches() int {
	if e.watcher == nil {
		return 0
	}
	doc, err := e.store.Snapshot()
	if err != nil {
		e.logger.Log("restore watches: %v", err)
		return 0
	}
	n := 0
	for _, g := range doc.Goals {
		for _, t := range g.Tasks {
			if t.Status != models.TaskStatusInProgress || !t.Spawned() {
				continue
			}
			if t.Plan == nil || t.Plan.ExpectedFilePath == "" {
				continue
			}
			if err := e.watcher.Watch(t.SessionKey, t.Plan.ExpectedFilePath); err != nil {
				e.logger.Log("restore watch for %s: %v", t.SessionKey, err)
				continue
			}
			n++
		}
	}
	return n
}

// buildTaskContext assembles the initial instruction payload for a
// task's session: the goal framing, the task text, dependency summaries
// from finished prerequisite tasks, and reporting instructions.
func (e *Engine) buildTaskContext(goal *models.Goal, task *models.Task) string {
	var b strings.Builder

	if e.beforeStart != nil {
		if extra := e.beforeStart(goal.ID, task.ID); extra != "" {
			b.WriteString(extra)
			b.WriteString("\n\n")
		}
	}

	fmt.Fprintf(&b, "You are working on the goal %q (task %s).\n\n", goal.Title, task.ID)
	fmt.Fprintf(&b, "## Task\n%s\n", task.Text)

	if goal.Worktree != nil {
		fmt.Fprintf(&b, "\n## Workspace\nWork in %s on branch %s. Do not switch branches.\n",
			goal.Worktree.Path, goal.Worktree.Branch)
	}

	var depSummaries []string
	for _, depID := range task.DependsOn {
		dep := goal.Task(depID)
		if dep != nil && dep.Summary != "" {
			depSummaries = append(depSummaries, fmt.Sprintf("- %s: %s", dep.ID, dep.Summary))
		}
	}
	if len(depSummaries) > 0 {
		fmt.Fprintf(&b, "\n## Completed prerequisites\n%s\n", strings.Join(depSummaries, "\n"))
	}

	if task.Plan != nil && task.Plan.ExpectedFilePath != "" {
		fmt.Fprintf(&b, "\n## Plan file\nMaintain your working plan in %s as you go.\n",
			task.Plan.ExpectedFilePath)
	}

	b.WriteString("\nWhen finished, report your status and a one-paragraph summary of what you did.")
	return b.String()
}
