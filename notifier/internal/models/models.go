package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	KindTaskAssigned = "TASK_ASSIGNED"
	KindTaskUpdated  = "TASK_UPDATED"
	KindCommentAdded = "COMMENT_ADDED"
)

type Notification struct {
	NotificationID  uuid.UUID
	EventID         uuid.UUID
	RecipientUserID string
	Kind            string
	Message         string
	TaskID          uuid.UUID
	Read            bool
	CreatedAt       time.Time
	ReadAt          *time.Time
}

type UnreadCount struct {
	RecipientUserID string
	Count           int
}
