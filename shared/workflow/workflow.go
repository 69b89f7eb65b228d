package workflow

import "strings"

const (
	TaskStatusTodo       = "TODO"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusReview     = "REVIEW"
	TaskStatusDone       = "DONE"
)

const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

var taskTransitions = map[string]map[string]bool{
	TaskStatusTodo: {
		TaskStatusInProgress: true,
	},
	TaskStatusInProgress: {
		TaskStatusTodo:   true,
		TaskStatusReview: true,
	},
	TaskStatusReview: {
		TaskStatusInProgress: true,
		TaskStatusDone:       true,
	},
	TaskStatusDone: {
		TaskStatusReview: true,
	},
}

func NormalizeTaskStatus(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

func IsTaskStatus(status string) bool {
	switch NormalizeTaskStatus(status) {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone:
		return true
	}
	return false
}

func IsPriority(priority string) bool {
	switch strings.ToUpper(strings.TrimSpace(priority)) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeTaskStatus(fromStatus)
	toStatus = NormalizeTaskStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := taskTransitions[fromStatus]
	if next == nil {
		return false
	}
	return next[toStatus]
}

func AllTaskStatuses() []string {
	return []string{
		TaskStatusTodo,
		TaskStatusInProgress,
		TaskStatusReview,
		TaskStatusDone,
	}
}
