package models

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been spawned yet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates a session is working on the task.
	TaskStatusInProgress TaskStatus = "in-progress"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusWaiting indicates the task is waiting on external input.
	TaskStatusWaiting TaskStatus = "waiting"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusDone,
		TaskStatusBlocked, TaskStatusFailed, TaskStatusWaiting:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// PlanStatus represents the state of a task's externally maintained plan file.
type PlanStatus string

const (
	// PlanStatusPending indicates the plan file has not been written yet.
	PlanStatusPending PlanStatus = "pending"
	// PlanStatusReady indicates the plan file exists and has content.
	PlanStatusReady PlanStatus = "ready"
)

// TaskPlan describes the plan file an agent maintains while working a task.
type TaskPlan struct {
	// Status is the current plan state.
	Status PlanStatus `json:"status"`
	// Steps is the number of steps the agent has recorded.
	Steps int `json:"steps,omitempty"`
	// ExpectedFilePath is the path the agent writes its plan to.
	// When set, the engine watches this file while the task is in progress.
	ExpectedFilePath string `json:"expected_file_path,omitempty"`
}

// Task represents an atomic unit of work within a goal.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Text is the work instruction for this task.
	Text string `json:"text"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// SessionKey is the key of the session working this task.
	// Empty until the task is spawned; cleared when the task is reset for retry.
	SessionKey string `json:"session_key,omitempty"`
	// AssignedAgent is the worker role this task should be routed to.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// DependsOn lists task IDs that must be done before this task spawns.
	DependsOn []string `json:"depends_on,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// LastError contains the most recent failure message.
	LastError string `json:"last_error,omitempty"`
	// Summary is the completion summary recorded when the task finishes.
	Summary string `json:"summary,omitempty"`
	// Plan describes the task's external plan file, if the agent keeps one.
	Plan *TaskPlan `json:"plan,omitempty"`
	// Model is an optional model override for the task's session.
	Model string `json:"model,omitempty"`
}

// Spawned returns true if the task has been assigned a session and not reset.
func (t *Task) Spawned() bool {
	return t.SessionKey != ""
}
