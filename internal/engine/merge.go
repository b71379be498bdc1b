package engine

import (
	"context"
	"fmt"

	"github.com/condoflow/condoflow/internal/bus"
	"github.com/condoflow/condoflow/internal/gitops"
	"github.com/condoflow/condoflow/pkg/models"
)

// PROpener opens a pull request for a pushed branch. The default
// implementation shells out to the gh CLI.
type PROpener interface {
	OpenPR(dir, branch, title string) (url string, err error)
}

// mergeGoal runs the merge path for a goal whose tasks are all done:
// commit leftover changes in the worktree, push the branch, merge into
// the condo's main line, mark the goal done, and schedule a condo-wide
// sweep for newly unblocked goals. A conflict or merge error leaves the
// goal not-done in a stable, inspectable state.
func (e *Engine) mergeGoal(ctx context.Context, goalID string) {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		e.logger.Log("merge %s: %v", goalID, err)
		return
	}
	condo, err := e.store.Condo(goal.CondoID)
	if err != nil {
		e.logger.Log("merge %s: %v", goalID, err)
		return
	}

	if goal.Worktree == nil || condo.Workspace == nil {
		e.finishGoal(goal, condo, false)
		return
	}

	committed := e.autoCommit(goal)
	if committed {
		e.pushBranch(goal)
	}

	if ok := e.attemptMerge(goal, condo); !ok {
		return
	}
	e.finishGoal(goal, condo, true)
}

// autoCommit best-effort commits any uncommitted changes in the goal's
// worktree. Returns true if a commit was made.
func (e *Engine) autoCommit(goal *models.Goal) bool {
	git := e.gitFor(goal.Worktree.Path)
	dirty, err := git.HasChanges()
	if err != nil {
		e.logger.Log("merge %s: check changes: %v", goal.ID, err)
		return false
	}
	if !dirty {
		return false
	}
	if err := git.AddAll(); err != nil {
		e.logger.Log("merge %s: stage changes: %v", goal.ID, err)
		return false
	}
	msg := fmt.Sprintf("%s: commit remaining changes", goal.Title)
	if err := git.Commit(msg); err != nil {
		e.logger.Log("merge %s: commit: %v", goal.ID, err)
		return false
	}
	return true
}

// pushBranch pushes the goal's branch if a remote is configured,
// recording push status either way.
func (e *Engine) pushBranch(goal *models.Goal) {
	git := e.gitFor(goal.Worktree.Path)
	hasRemote, err := git.HasRemote()
	if err != nil || !hasRemote {
		return
	}
	if err := git.Push(goal.Worktree.Branch); err != nil {
		e.recordPush(goal, models.PushStatusFailed, err.Error())
		e.publish(bus.Event{
			Type:    bus.EventPushFailed,
			CondoID: goal.CondoID,
			GoalID:  goal.ID,
			Error:   err.Error(),
		})
		return
	}
	e.recordPush(goal, models.PushStatusPushed, "")
}

// recordPush persists a push outcome on the goal.
func (e *Engine) recordPush(goal *models.Goal, status models.PushStatus, pushErr string) {
	err := e.store.UpdateGoal(goal.ID, func(g *models.Goal) error {
		g.PushStatus = status
		g.PushError = pushErr
		g.UpdatedAt = e.clock.Now()
		return nil
	})
	if err != nil {
		e.logger.Log("record push status for %s: %v", goal.ID, err)
	}
}

// attemptMerge merges the goal's branch into the condo workspace and
// records the outcome. Returns true if the merge succeeded.
func (e *Engine) attemptMerge(goal *models.Goal, condo *models.Condo) bool {
	git := e.gitFor(condo.Workspace.Path)

	if main := condo.Workspace.MainBranch; main != "" {
		cur, err := git.CurrentBranch()
		if err == nil && cur != main {
			if err := git.CheckoutBranch(main); err != nil {
				e.logger.Log("merge %s: checkout %s: %v", goal.ID, main, err)
				e.recordMerge(goal, models.MergeStatusError)
				return false
			}
		}
	}

	msg := fmt.Sprintf("Merge %s: %s", goal.Worktree.Branch, goal.Title)
	mergeErr := git.MergeNoFFMessage(goal.Worktree.Branch, msg)
	if mergeErr == nil {
		e.recordMerge(goal, models.MergeStatusMerged)
		return true
	}

	conflicted, err := git.ConflictedFiles()
	if err == nil && len(conflicted) > 0 {
		e.logger.Log("merge %s: conflict in %d file(s)", goal.ID, len(conflicted))
		if abortErr := git.MergeAbort(); abortErr != nil {
			e.logger.Log("merge %s: abort: %v", goal.ID, abortErr)
		}
		e.recordMerge(goal, models.MergeStatusConflict)
		return false
	}

	e.logger.Log("merge %s: %v", goal.ID, mergeErr)
	e.recordMerge(goal, models.MergeStatusError)
	return false
}

// recordMerge persists a merge outcome on the goal.
func (e *Engine) recordMerge(goal *models.Goal, status models.MergeStatus) {
	err := e.store.UpdateGoal(goal.ID, func(g *models.Goal) error {
		g.MergeStatus = status
		g.UpdatedAt = e.clock.Now()
		return nil
	})
	if err != nil {
		e.logger.Log("record merge status for %s: %v", goal.ID, err)
	}
}

// finishGoal marks the goal done, announces it, optionally pushes the
// condo's main branch, and schedules the condo-wide unblocked-goal sweep.
func (e *Engine) finishGoal(goal *models.Goal, condo *models.Condo, merged bool) {
	err := e.store.UpdateGoal(goal.ID, func(g *models.Goal) error {
		g.MarkDone(e.clock.Now())
		return nil
	})
	if err != nil {
		e.logger.Log("finish goal %s: %v", goal.ID, err)
		return
	}

	if merged {
		e.publish(bus.Event{
			Type:    bus.EventGoalMerged,
			CondoID: condo.ID,
			GoalID:  goal.ID,
		})
	}
	e.publish(bus.Event{
		Type:    bus.EventGoalCompleted,
		CondoID: condo.ID,
		GoalID:  goal.ID,
	})

	if merged {
		e.pushMainBranch(goal, condo)
	}
	e.scheduleSweep(condo.ID)
}

// pushMainBranch pushes the condo's main line after a successful merge,
// if a remote is configured.
func (e *Engine) pushMainBranch(goal *models.Goal, condo *models.Condo) {
	git := e.gitFor(condo.Workspace.Path)
	hasRemote, err := git.HasRemote()
	if err != nil || !hasRemote {
		return
	}
	branch, err := git.CurrentBranch()
	if err != nil {
		e.logger.Log("push main for condo %s: %v", condo.ID, err)
		return
	}
	if err := git.Push(branch); err != nil {
		e.recordPush(goal, models.PushStatusFailed, err.Error())
		e.publish(bus.Event{
			Type:    bus.EventPushFailed,
			CondoID: condo.ID,
			GoalID:  goal.ID,
			Error:   err.Error(),
		})
	}
}

// scheduleSweep defers a condo-wide unblocked-goal sweep.
func (e *Engine) scheduleSweep(condoID string) {
	e.sched.After("condo:"+condoID, e.sweepDelay, func() {
		e.PhaseSweep(context.Background(), condoID)
	})
}

// RetryPush re-runs the branch push for a goal. Idempotent; the same
// steps run on every invocation.
func (e *Engine) RetryPush(ctx context.Context, goalID string) error {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return err
	}
	if goal.Worktree == nil {
		return fmt.Errorf("goal %s has no worktree", goalID)
	}
	git := e.gitFor(goal.Worktree.Path)
	if err := git.Push(goal.Worktree.Branch); err != nil {
		e.recordPush(goal, models.PushStatusFailed, err.Error())
		e.publish(bus.Event{
			Type:    bus.EventPushFailed,
			CondoID: goal.CondoID,
			GoalID:  goalID,
			Error:   err.Error(),
		})
		return err
	}
	e.recordPush(goal, models.PushStatusPushed, "")
	return nil
}

// RetryMerge re-runs the merge path for a goal whose earlier merge
// conflicted or errored.
func (e *Engine) RetryMerge(ctx context.Context, goalID string) error {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return err
	}
	if goal.Status == models.GoalStatusDone {
		return nil
	}
	e.mergeGoal(ctx, goalID)
	return nil
}

// PushMain pushes the condo's main branch to its remote.
func (e *Engine) PushMain(ctx context.Context, condoID string) error {
	condo, err := e.store.Condo(condoID)
	if err != nil {
		return err
	}
	if condo.Workspace == nil {
		return fmt.Errorf("condo %s has no workspace", condoID)
	}
	git := e.gitFor(condo.Workspace.Path)
	branch, err := git.CurrentBranch()
	if err != nil {
		return err
	}
	return git.Push(branch)
}

// BranchInfo reports how a goal's branch relates to the condo main line.
type BranchInfo struct {
	Branch      string             `json:"branch"`
	Ahead       int                `json:"ahead"`
	Behind      int                `json:"behind"`
	MergeStatus models.MergeStatus `json:"merge_status"`
	PushStatus  models.PushStatus  `json:"push_status"`
}

// BranchStatus returns the goal branch's position relative to the
// condo's current main branch.
func (e *Engine) BranchStatus(ctx context.Context, goalID string) (*BranchInfo, error) {
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return nil, err
	}
	if goal.Worktree == nil {
		return nil, fmt.Errorf("goal %s has no worktree", goalID)
	}
	condo, err := e.store.Condo(goal.CondoID)
	if err != nil {
		return nil, err
	}
	if condo.Workspace == nil {
		return nil, fmt.Errorf("condo %s has no workspace", goal.CondoID)
	}

	git := e.gitFor(condo.Workspace.Path)
	base, err := git.CurrentBranch()
	if err != nil {
		return nil, err
	}
	ahead, behind, err := git.AheadBehind(goal.Worktree.Branch, base)
	if err != nil {
		return nil, err
	}
	return &BranchInfo{
		Branch:      goal.Worktree.Branch,
		Ahead:       ahead,
		Behind:      behind,
		MergeStatus: goal.MergeStatus,
		PushStatus:  goal.PushStatus,
	}, nil
}

// CreatePR pushes the goal's branch and opens a pull request for it.
func (e *Engine) CreatePR(ctx context.Context, goalID string, opener PROpener) (string, error) {
	if opener == nil {
		opener = gitops.NewGHOpener()
	}
	goal, err := e.store.Goal(goalID)
	if err != nil {
		return "", err
	}
	if goal.Worktree == nil {
		return "", fmt.Errorf("goal %s has no worktree", goalID)
	}

	git := e.gitFor(goal.Worktree.Path)
	if err := git.Push(goal.Worktree.Branch); err != nil {
		e.recordPush(goal, models.PushStatusFailed, err.Error())
		return "", fmt.Errorf("push branch %s: %w", goal.Worktree.Branch, err)
	}
	e.recordPush(goal, models.PushStatusPushed, "")

	url, err := opener.OpenPR(goal.Worktree.Path, goal.Worktree.Branch, goal.Title)
	if err != nil {
		return "", fmt.Errorf("open pull request: %w", err)
	}
	e.publish(bus.Event{
		Type:    bus.EventPRCreated,
		CondoID: goal.CondoID,
		GoalID:  goalID,
		Message: url,
	})
	return url, nil
}
