// Package bus provides the typed lifecycle event bus for the cascade engine.
package bus

import "time"

// EventType identifies a lifecycle event. Types are namespaced by the
// entity they concern; the goal.* namespace is additionally mirrored to
// durable sinks so external relays can observe state.
type EventType string

const (
	// EventKickoff indicates sessions were spawned for a goal.
	EventKickoff EventType = "goal.kickoff"
	// EventGoalCompleted indicates a goal finished.
	EventGoalCompleted EventType = "goal.completed"
	// EventGoalMerged indicates a goal's branch merged into the main line.
	EventGoalMerged EventType = "goal.merged"
	// EventPushFailed indicates a branch push failed.
	EventPushFailed EventType = "goal.push-failed"
	// EventPRCreated indicates a pull request was opened for a goal.
	EventPRCreated EventType = "goal.pr-created"
	// EventTaskCompleted indicates a task finished.
	EventTaskCompleted EventType = "task.completed"
	// EventTaskRetry indicates a failed task was reset for another attempt.
	EventTaskRetry EventType = "task.retry"
	// EventTaskFailed indicates a task exhausted its retries.
	EventTaskFailed EventType = "task.failed"
	// EventCascadeTasksCreated indicates a manager plan produced tasks.
	EventCascadeTasksCreated EventType = "cascade.tasks-created"
	// EventCascadePlanReady indicates a manager plan is ready for approval.
	EventCascadePlanReady EventType = "cascade.plan-ready"
	// EventCascadeComplete indicates a condo's pending-cascade set emptied.
	EventCascadeComplete EventType = "cascade.complete"
	// EventPlanLog carries a line extracted from a session's plan output.
	EventPlanLog EventType = "plan.log"
	// EventPlanFileChanged indicates a watched plan file changed.
	EventPlanFileChanged EventType = "plan.file-changed"
)

// GoalNamespace returns true for events mirrored to durable sinks.
func (t EventType) GoalNamespace() bool {
	return len(t) > 5 && t[:5] == "goal."
}

// Event is a single lifecycle transition.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// CondoID is the related condo, if applicable.
	CondoID string `json:"condo_id,omitempty"`
	// GoalID is the related goal, if applicable.
	GoalID string `json:"goal_id,omitempty"`
	// TaskID is the related task, if applicable.
	TaskID string `json:"task_id,omitempty"`
	// SessionKey is the related session, if applicable.
	SessionKey string `json:"session_key,omitempty"`
	// Message provides additional context about the event.
	Message string `json:"message,omitempty"`
	// Error contains failure details for failure events.
	Error string `json:"error,omitempty"`
	// Assumed marks a task completion inferred from a silent session end
	// rather than an explicit success report.
	Assumed bool `json:"assumed,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
