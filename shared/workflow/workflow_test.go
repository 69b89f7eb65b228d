package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(TaskStatusTodo, TaskStatusInProgress) {
		t.Fatalf("expected TODO -> IN_PROGRESS to be allowed")
	}
	if !CanTransition(TaskStatusReview, TaskStatusDone) {
		t.Fatalf("expected REVIEW -> DONE to be allowed")
	}
	if CanTransition(TaskStatusTodo, TaskStatusDone) {
		t.Fatalf("expected TODO -> DONE to be blocked")
	}
	if !CanTransition("in_progress", "review") {
		t.Fatalf("expected case-insensitive transition check")
	}
}

func TestIsTaskStatus(t *testing.T) {
	if !IsTaskStatus("done") {
		t.Fatalf("expected done to be a valid status")
	}
	if IsTaskStatus("ARCHIVED") {
		t.Fatalf("expected ARCHIVED to be rejected")
	}
}

func TestIsPriority(t *testing.T) {
	if !IsPriority("urgent") {
		t.Fatalf("expected urgent to be a valid priority")
	}
	if IsPriority("CRITICAL") {
		t.Fatalf("expected CRITICAL to be rejected")
	}
}
