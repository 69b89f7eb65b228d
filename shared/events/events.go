package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeTaskCreated    = "task.created"
	TypeTaskUpdated    = "task.updated"
	TypeCommentCreated = "task.comment.created"
)

// ErrMalformed marks payloads that cannot be decoded into a known event
// shape. Consumers route these to the dead-letter topic without retrying.
var ErrMalformed = errors.New("malformed event payload")

// Envelope is the broker wire format for task domain events. One envelope is
// published per committed mutation; delivery is at-least-once.
type Envelope struct {
	EventID     uuid.UUID `json:"eventId"`
	EventType   string    `json:"eventType"`
	TaskID      uuid.UUID `json:"taskId"`
	Title       string    `json:"title,omitempty"`
	Status      string    `json:"status,omitempty"`
	AssigneeIDs []string  `json:"assigneeIds,omitempty"`
	CommentID   uuid.UUID `json:"commentId,omitempty"`
	AuthorID    string    `json:"authorId,omitempty"`
	EmittedAt   time.Time `json:"emittedAt"`
}

// Event is the closed set of decoded task events.
type Event interface {
	ID() uuid.UUID
	Task() uuid.UUID
	isEvent()
}

type TaskCreated struct {
	EventID     uuid.UUID
	TaskID      uuid.UUID
	Title       string
	AssigneeIDs []string
	EmittedAt   time.Time
}

type TaskUpdated struct {
	EventID     uuid.UUID
	TaskID      uuid.UUID
	Title       string
	Status      string
	AssigneeIDs []string
	EmittedAt   time.Time
}

type CommentCreated struct {
	EventID     uuid.UUID
	TaskID      uuid.UUID
	CommentID   uuid.UUID
	AuthorID    string
	TaskTitle   string
	AssigneeIDs []string
	EmittedAt   time.Time
}

func (e TaskCreated) ID() uuid.UUID      { return e.EventID }
func (e TaskCreated) Task() uuid.UUID    { return e.TaskID }
func (TaskCreated) isEvent()             {}
func (e TaskUpdated) ID() uuid.UUID      { return e.EventID }
func (e TaskUpdated) Task() uuid.UUID    { return e.TaskID }
func (TaskUpdated) isEvent()             {}
func (e CommentCreated) ID() uuid.UUID   { return e.EventID }
func (e CommentCreated) Task() uuid.UUID { return e.TaskID }
func (CommentCreated) isEvent()          {}

// Decode parses a broker message into exactly one event variant. It is the
// single place loosely-typed payloads become typed; anything that does not
// match a known shape fails with ErrMalformed.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.EventID == uuid.Nil || env.TaskID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing eventId/taskId", ErrMalformed)
	}
	switch env.EventType {
	case TypeTaskCreated:
		if env.Title == "" {
			return nil, fmt.Errorf("%w: %s without title", ErrMalformed, env.EventType)
		}
		return TaskCreated{
			EventID:     env.EventID,
			TaskID:      env.TaskID,
			Title:       env.Title,
			AssigneeIDs: env.AssigneeIDs,
			EmittedAt:   env.EmittedAt,
		}, nil
	case TypeTaskUpdated:
		if env.Title == "" {
			return nil, fmt.Errorf("%w: %s without title", ErrMalformed, env.EventType)
		}
		return TaskUpdated{
			EventID:     env.EventID,
			TaskID:      env.TaskID,
			Title:       env.Title,
			Status:      env.Status,
			AssigneeIDs: env.AssigneeIDs,
			EmittedAt:   env.EmittedAt,
		}, nil
	case TypeCommentCreated:
		if env.CommentID == uuid.Nil {
			return nil, fmt.Errorf("%w: %s without commentId", ErrMalformed, env.EventType)
		}
		return CommentCreated{
			EventID:     env.EventID,
			TaskID:      env.TaskID,
			CommentID:   env.CommentID,
			AuthorID:    env.AuthorID,
			TaskTitle:   env.Title,
			AssigneeIDs: env.AssigneeIDs,
			EmittedAt:   env.EmittedAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown eventType %q", ErrMalformed, env.EventType)
	}
}
