// Package emitter publishes domain events after a mutation has committed.
// Publish failures are logged and swallowed: the API response reflects the
// durable write, and a lost event means a lost notification, not a rollback.
package emitter

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"jungleboard/shared/events"
	"jungleboard/shared/logx"
	"jungleboard/tasks/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Emitter struct {
	publisher Publisher
	topic     string
	log       logx.Logger
}

func New(publisher Publisher, topic string, log logx.Logger) *Emitter {
	return &Emitter{publisher: publisher, topic: topic, log: log}
}

func (e *Emitter) TaskCreated(ctx context.Context, task models.Task) {
	e.emit(ctx, events.Envelope{
		EventID:     uuid.New(),
		EventType:   events.TypeTaskCreated,
		TaskID:      task.TaskID,
		Title:       task.Title,
		Status:      task.Status,
		AssigneeIDs: task.AssigneeIDs,
		EmittedAt:   time.Now().UTC(),
	})
}

func (e *Emitter) TaskUpdated(ctx context.Context, task models.Task) {
	e.emit(ctx, events.Envelope{
		EventID:     uuid.New(),
		EventType:   events.TypeTaskUpdated,
		TaskID:      task.TaskID,
		Title:       task.Title,
		Status:      task.Status,
		AssigneeIDs: task.AssigneeIDs,
		EmittedAt:   time.Now().UTC(),
	})
}

// CommentCreated carries the parent task's title and assignees so the
// fan-out never has to call back into this service.
func (e *Emitter) CommentCreated(ctx context.Context, comment models.Comment, task models.Task) {
	e.emit(ctx, events.Envelope{
		EventID:     uuid.New(),
		EventType:   events.TypeCommentCreated,
		TaskID:      task.TaskID,
		Title:       task.Title,
		AssigneeIDs: task.AssigneeIDs,
		CommentID:   comment.CommentID,
		AuthorID:    comment.AuthorID,
		EmittedAt:   time.Now().UTC(),
	})
}

func (e *Emitter) emit(ctx context.Context, env events.Envelope) {
	value, err := json.Marshal(env)
	if err != nil {
		e.logPublishFailure(ctx, env, err)
		return
	}
	// key by task id so one task's events stay on one partition, in order
	if err := e.publisher.Publish(ctx, e.topic, []byte(env.TaskID.String()), value, nil); err != nil {
		e.logPublishFailure(ctx, env, err)
		return
	}
	e.log.Info(ctx, "event_published", "domain event published",
		slog.String("event_id", env.EventID.String()),
		slog.String("event_type", env.EventType),
		slog.String("task_id", env.TaskID.String()),
	)
}

func (e *Emitter) logPublishFailure(ctx context.Context, env events.Envelope, err error) {
	e.log.Error(ctx, "event_publish_failed", "event lost, mutation already committed",
		slog.String("error_code", "INTERNAL_ERROR"),
		slog.String("event_id", env.EventID.String()),
		slog.String("event_type", env.EventType),
		slog.String("task_id", env.TaskID.String()),
		slog.String("error", err.Error()),
	)
}
