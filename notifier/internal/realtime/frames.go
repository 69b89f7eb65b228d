package realtime

import (
	"encoding/json"

	"github.com/google/uuid"

	"jungleboard/notifier/internal/models"
)

const (
	FrameTaskCreated  = "task:created"
	FrameTaskUpdated  = "task:updated"
	FrameCommentNew   = "comment:new"
	FrameNotification = "notification"
	FrameTyping       = "task:typing"
	FrameBadge        = "notification:badge"
)

const (
	ControlBoardJoin  = "board:join"
	ControlBoardLeave = "board:leave"
	ControlTaskJoin   = "task:join"
	ControlTaskLeave  = "task:leave"
	ControlTyping     = "task:typing"
)

// Frame is the typed envelope every websocket message uses, in both
// directions: {"type": "...", "payload": {...}}.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TaskCreatedPayload struct {
	TaskID string `json:"taskId"`
	Title  string `json:"title"`
}

type TaskUpdatedPayload struct {
	TaskID string `json:"taskId"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type CommentNewPayload struct {
	TaskID    string `json:"taskId"`
	CommentID string `json:"commentId"`
	AuthorID  string `json:"authorId"`
}

type NotificationPayload struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	TaskID    string `json:"taskId"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

type TypingPayload struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

type BadgePayload struct {
	Unread int `json:"unread"`
}

type ControlPayload struct {
	TaskID string `json:"taskId"`
}

func encodeFrame(frameType string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	b, err := json.Marshal(Frame{Type: frameType, Payload: raw})
	if err != nil {
		return nil
	}
	return b
}

func TaskCreatedFrame(taskID uuid.UUID, title string) []byte {
	return encodeFrame(FrameTaskCreated, TaskCreatedPayload{TaskID: taskID.String(), Title: title})
}

func TaskUpdatedFrame(taskID uuid.UUID, title string, status string) []byte {
	return encodeFrame(FrameTaskUpdated, TaskUpdatedPayload{TaskID: taskID.String(), Title: title, Status: status})
}

func CommentNewFrame(taskID uuid.UUID, commentID uuid.UUID, authorID string) []byte {
	return encodeFrame(FrameCommentNew, CommentNewPayload{TaskID: taskID.String(), CommentID: commentID.String(), AuthorID: authorID})
}

func NotificationFrame(n models.Notification) []byte {
	return encodeFrame(FrameNotification, NotificationPayload{
		ID:        n.NotificationID.String(),
		Kind:      n.Kind,
		Message:   n.Message,
		TaskID:    n.TaskID.String(),
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func TypingFrame(taskID string, userID string) []byte {
	return encodeFrame(FrameTyping, TypingPayload{TaskID: taskID, UserID: userID})
}

func BadgeFrame(unread int) []byte {
	return encodeFrame(FrameBadge, BadgePayload{Unread: unread})
}
