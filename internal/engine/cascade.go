package engine

import (
	"context"

	"github.com/condoflow/condoflow/pkg/models"
)

// PhaseSweep re-evaluates every goal in a condo that declares tasks and
// goal-level dependencies but has never been kicked off, and kicks off
// any whose dependencies are now satisfied. This is reactive, triggered
// after completions and merges, not a polling loop; running it twice
// with no intervening state change spawns nothing the second time.
func (e *Engine) PhaseSweep(ctx context.Context, condoID string) {
	doc, err := e.store.Snapshot()
	if err != nil {
		e.logger.Log("sweep condo %s: snapshot failed: %v", condoID, err)
		return
	}

	for _, g := range doc.GoalsForCondo(condoID) {
		if g.Status == models.GoalStatusDone || g.Status == models.GoalStatusDropped {
			continue
		}
		if len(g.Tasks) == 0 || len(g.DependsOn) == 0 {
			continue
		}
		if anySpawned(g) {
			continue
		}
		if _, err := e.KickoffAndStart(ctx, g.ID); err != nil {
			e.logger.Log("sweep condo %s: kickoff %s: %v", condoID, g.ID, err)
		}
	}
}

// anySpawned reports whether any task of the goal holds a session key.
func anySpawned(g *models.Goal) bool {
	for _, t := range g.Tasks {
		if t.Spawned() {
			return true
		}
	}
	return false
}

// CloseGoal cancels the goal's deferred actions, best-effort tears down
// its sessions, stops plan-file watches, and unbinds the sessions from
// the document. An in-flight merge or push is not interrupted.
func (e *Engine) CloseGoal(ctx context.Context, goalID string) error {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return err
	}

	e.sched.CancelScope(goalID)

	var keys []string
	for _, t := range goal.Tasks {
		if t.Spawned() {
			keys = append(keys, t.SessionKey)
		}
	}
	if goal.ManagerSessionKey != "" {
		keys = append(keys, goal.ManagerSessionKey)
	}

	for _, key := range keys {
		e.stopWatch(key)
		if err := e.runtime.Abort(ctx, key); err != nil {
			e.logger.Log("close goal %s: abort session %s: %v", goalID, key, err)
		}
		if err := e.runtime.Delete(ctx, key); err != nil {
			e.logger.Log("close goal %s: delete session %s: %v", goalID, key, err)
		}
	}

	err = e.store.Update(func(doc *models.Document) error {
		for _, key := range keys {
			doc.UnbindSession(key)
		}
		g := doc.Goal(goalID)
		if g != nil {
			if g.Status != models.GoalStatusDone {
				g.Status = models.GoalStatusDropped
			}
			g.UpdatedAt = e.clock.Now()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if goal.Worktree != nil {
		e.removeWorktree(goal)
	}
	return nil
}

// removeWorktree best-effort tears down a goal's worktree in the condo
// workspace. Unmerged branches are deleted; a merged goal's branch is
// left in place.
func (e *Engine) removeWorktree(goal *models.Goal) {
	condo, err := e.store.Condo(goal.CondoID)
	if err != nil || condo.Workspace == nil {
		return
	}
	git := e.gitFor(condo.Workspace.Path)
	if err := git.WorktreeRemove(goal.Worktree.Path); err != nil {
		e.logger.Log("close goal %s: remove worktree: %v", goal.ID, err)
	}
	if err := git.WorktreePrune(); err != nil {
		e.logger.Log("close goal %s: prune worktrees: %v", goal.ID, err)
	}
	if goal.Status != models.GoalStatusDone {
		if err := git.DeleteBranch(goal.Worktree.Branch); err != nil {
			e.logger.Log("close goal %s: delete branch %s: %v", goal.ID, goal.Worktree.Branch, err)
		}
	}
}
