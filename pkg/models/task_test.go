package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusInProgress, TaskStatusDone,
		TaskStatusBlocked, TaskStatusFailed, TaskStatusWaiting,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if TaskStatus("unknown").Valid() {
		t.Error("expected 'unknown' to be invalid")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	if !TaskStatusDone.Terminal() {
		t.Error("done should be terminal")
	}
	if !TaskStatusFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	if TaskStatusInProgress.Terminal() {
		t.Error("in-progress should not be terminal")
	}
	if TaskStatusWaiting.Terminal() {
		t.Error("waiting should not be terminal")
	}
}

func TestTask_Spawned(t *testing.T) {
	task := &Task{ID: "t1", Status: TaskStatusPending}
	if task.Spawned() {
		t.Error("task without session key should not be spawned")
	}
	task.SessionKey = "sess-1"
	if !task.Spawned() {
		t.Error("task with session key should be spawned")
	}
}
