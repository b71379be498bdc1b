package models

import "time"

// GoalStatus represents the current state of a goal.
type GoalStatus string

const (
	// GoalStatusActive indicates the goal has spawned sessions or is ready to.
	GoalStatusActive GoalStatus = "active"
	// GoalStatusDone indicates the goal finished and merged.
	GoalStatusDone GoalStatus = "done"
	// GoalStatusBlocked indicates the goal cannot proceed.
	GoalStatusBlocked GoalStatus = "blocked"
	// GoalStatusDropped indicates the goal was abandoned.
	GoalStatusDropped GoalStatus = "dropped"
)

// Valid returns true if the status is a known value.
func (s GoalStatus) Valid() bool {
	switch s {
	case GoalStatusActive, GoalStatusDone, GoalStatusBlocked, GoalStatusDropped:
		return true
	default:
		return false
	}
}

// MergeStatus records the outcome of merging a goal's branch.
type MergeStatus string

const (
	// MergeStatusNone indicates no merge has been attempted.
	MergeStatusNone MergeStatus = "none"
	// MergeStatusMerged indicates the branch merged cleanly.
	MergeStatusMerged MergeStatus = "merged"
	// MergeStatusConflict indicates the merge hit conflicts.
	MergeStatusConflict MergeStatus = "conflict"
	// MergeStatusError indicates the merge failed for another reason.
	MergeStatusError MergeStatus = "error"
)

// PushStatus records the outcome of pushing a goal's branch.
type PushStatus string

const (
	// PushStatusNone indicates no push has been attempted.
	PushStatusNone PushStatus = "none"
	// PushStatusPushed indicates the branch pushed successfully.
	PushStatusPushed PushStatus = "pushed"
	// PushStatusFailed indicates the push failed.
	PushStatusFailed PushStatus = "failed"
)

// CascadeState tracks progress of a manager-driven plan cascade for a goal.
type CascadeState string

const (
	// CascadeStateNone indicates the goal has no plan cascade.
	CascadeStateNone CascadeState = ""
	// CascadeStateAwaitingPlan indicates a manager session is producing a plan.
	CascadeStateAwaitingPlan CascadeState = "awaiting_plan"
	// CascadeStateTasksCreated indicates the plan was parsed into tasks.
	CascadeStateTasksCreated CascadeState = "tasks_created"
	// CascadeStatePlanReady indicates a plan exists but tasks were not extracted.
	CascadeStatePlanReady CascadeState = "plan_ready"
	// CascadeStatePlanFetchFailed indicates the plan response could not be read.
	CascadeStatePlanFetchFailed CascadeState = "plan_fetch_failed"
)

// CascadeMode controls how far a plan cascade proceeds automatically.
type CascadeMode string

const (
	// CascadeModePlan stops after the plan is turned into tasks.
	CascadeModePlan CascadeMode = "plan"
	// CascadeModeFull creates tasks and kicks them off automatically.
	CascadeModeFull CascadeMode = "full"
)

// AutonomyMode controls how much supervision a goal's sessions require.
type AutonomyMode string

const (
	// AutonomySupervised requires explicit approval to proceed.
	AutonomySupervised AutonomyMode = "supervised"
	// AutonomyFull lets the cascade run without approval.
	AutonomyFull AutonomyMode = "full"
)

// Worktree is the isolated working directory and branch dedicated to a goal.
type Worktree struct {
	// Path is the working directory for the goal's sessions.
	Path string `json:"path"`
	// Branch is the goal's isolated branch merged back on completion.
	Branch string `json:"branch"`
}

// DefaultMaxRetries is the retry budget applied when a goal does not set one.
const DefaultMaxRetries = 1

// Goal represents a unit of work within a condo, decomposed into tasks.
type Goal struct {
	// ID is the unique identifier for this goal.
	ID string `json:"id"`
	// CondoID is the condo this goal belongs to.
	CondoID string `json:"condo_id"`
	// Title is the short description of the goal.
	Title string `json:"title"`
	// Status is the current state of the goal.
	Status GoalStatus `json:"status"`
	// Tasks is the ordered list of tasks in this goal.
	Tasks []*Task `json:"tasks,omitempty"`
	// DependsOn lists goal IDs that must be done before this goal kicks off.
	DependsOn []string `json:"depends_on,omitempty"`
	// Phase groups goals into ordered stages within a condo.
	Phase int `json:"phase,omitempty"`
	// AutonomyMode controls supervision for this goal's sessions.
	AutonomyMode AutonomyMode `json:"autonomy_mode,omitempty"`
	// Worktree is the goal's isolated working directory and branch, if any.
	Worktree *Worktree `json:"worktree,omitempty"`
	// ManagerSessionKey is the key of the manager session planning this goal.
	ManagerSessionKey string `json:"manager_session_key,omitempty"`
	// CascadeState tracks the goal's plan cascade progress.
	CascadeState CascadeState `json:"cascade_state,omitempty"`
	// CascadeMode controls how far the plan cascade proceeds automatically.
	CascadeMode CascadeMode `json:"cascade_mode,omitempty"`
	// MergeStatus records the outcome of the last merge attempt.
	MergeStatus MergeStatus `json:"merge_status,omitempty"`
	// PushStatus records the outcome of the last push attempt.
	PushStatus PushStatus `json:"push_status,omitempty"`
	// PushError contains the most recent push failure message.
	PushError string `json:"push_error,omitempty"`
	// MaxRetries is the per-task retry budget (DefaultMaxRetries if 0).
	MaxRetries int `json:"max_retries,omitempty"`
	// Completed mirrors Status==done. The two are set together, never
	// independently, so external observers can rely on either.
	Completed bool `json:"completed,omitempty"`
	// CompletedAt is when the goal finished, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// UpdatedAt is when the goal was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Task returns the task with the given ID, or nil if not found.
func (g *Goal) Task(taskID string) *Task {
	for _, t := range g.Tasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// TaskBySession returns the task bound to the given session key, or nil.
func (g *Goal) TaskBySession(sessionKey string) *Task {
	for _, t := range g.Tasks {
		if t.SessionKey == sessionKey {
			return t
		}
	}
	return nil
}

// RetryBudget returns the effective per-task retry limit.
func (g *Goal) RetryBudget() int {
	if g.MaxRetries > 0 {
		return g.MaxRetries
	}
	return DefaultMaxRetries
}

// AllTasksDone returns true if the goal has tasks and every one is done.
func (g *Goal) AllTasksDone() bool {
	if len(g.Tasks) == 0 {
		return false
	}
	for _, t := range g.Tasks {
		if t.Status != TaskStatusDone {
			return false
		}
	}
	return true
}

// MarkDone sets Status and Completed together and stamps CompletedAt.
func (g *Goal) MarkDone(now time.Time) {
	g.Status = GoalStatusDone
	g.Completed = true
	g.CompletedAt = &now
	g.UpdatedAt = now
}
