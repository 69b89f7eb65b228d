package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	HistoryActionCreated      = "CREATED"
	HistoryActionUpdated      = "UPDATED"
	HistoryActionCommentAdded = "COMMENT_ADDED"
)

type Task struct {
	TaskID      uuid.UUID
	Title       string
	Description string
	Status      string
	Priority    string
	AssigneeIDs []string
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Comment struct {
	CommentID uuid.UUID
	TaskID    uuid.UUID
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

type HistoryEntry struct {
	HistoryID   uuid.UUID
	TaskID      uuid.UUID
	Action      string
	Changes     []byte
	PerformedBy string
	CreatedAt   time.Time
}
