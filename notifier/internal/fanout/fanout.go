package fanout

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"jungleboard/notifier/internal/models"
	"jungleboard/notifier/internal/realtime"
	"jungleboard/shared/events"
	"jungleboard/shared/influxx"
	"jungleboard/shared/logx"
	"jungleboard/shared/metricsx"
)

type Repo interface {
	InsertBatch(ctx context.Context, ns []models.Notification) ([]models.Notification, error)
}

type Broadcaster interface {
	Broadcast(room string, frameType string, frame []byte) int
}

type Service struct {
	repo   Repo
	rooms  Broadcaster
	log    logx.Logger
	influx *influxx.Client
}

func NewService(repo Repo, rooms Broadcaster, log logx.Logger, influx *influxx.Client) *Service {
	return &Service{repo: repo, rooms: rooms, log: log, influx: influx}
}

// Handle processes one raw broker message: decode, persist one notification
// per recipient, then multicast to the task room, the board room and each
// recipient's user room. A decode failure returns events.ErrMalformed so the
// caller can dead-letter without retrying; any other error is retryable.
func (s *Service) Handle(ctx context.Context, raw []byte) error {
	start := time.Now()
	ctx, span := otel.Tracer("fanout").Start(ctx, "fanout.handle")
	defer span.End()

	ev, err := events.Decode(raw)
	if err != nil {
		metricsx.IncFanout("unknown", "malformed")
		return err
	}
	span.SetAttributes(
		attribute.String("event.id", ev.ID().String()),
		attribute.String("task.id", ev.Task().String()),
	)

	var (
		eventType  string
		eventFrame []byte
		pending    []models.Notification
	)

	switch e := ev.(type) {
	case events.TaskCreated:
		eventType = events.TypeTaskCreated
		eventFrame = realtime.TaskCreatedFrame(e.TaskID, e.Title)
		pending = buildNotifications(e.EventID, e.TaskID, e.AssigneeIDs,
			models.KindTaskAssigned, fmt.Sprintf("New task assigned: %s", e.Title))
	case events.TaskUpdated:
		eventType = events.TypeTaskUpdated
		eventFrame = realtime.TaskUpdatedFrame(e.TaskID, e.Title, e.Status)
		pending = buildNotifications(e.EventID, e.TaskID, e.AssigneeIDs,
			models.KindTaskUpdated, fmt.Sprintf("Task updated: %s", e.Title))
	case events.CommentCreated:
		eventType = events.TypeCommentCreated
		eventFrame = realtime.CommentNewFrame(e.TaskID, e.CommentID, e.AuthorID)
		pending = buildNotifications(e.EventID, e.TaskID, e.AssigneeIDs,
			models.KindCommentAdded, fmt.Sprintf("New comment on task: %s", e.TaskTitle))
	default:
		metricsx.IncFanout("unknown", "malformed")
		return events.ErrMalformed
	}

	created, err := s.repo.InsertBatch(ctx, pending)
	if err != nil {
		metricsx.IncFanout(eventType, "error")
		return err
	}

	taskID := ev.Task().String()
	s.rooms.Broadcast(realtime.RoomTask(taskID), eventType, eventFrame)
	s.rooms.Broadcast(realtime.RoomBoard, eventType, eventFrame)
	for _, n := range created {
		s.rooms.Broadcast(realtime.RoomUser(n.RecipientUserID), realtime.FrameNotification, realtime.NotificationFrame(n))
	}

	outcome := "ok"
	if len(created) < len(pending) {
		// redelivery hit the (event_id, recipient) unique index
		outcome = "duplicate"
	}
	metricsx.IncFanout(eventType, outcome)
	metricsx.ObserveFanoutLatency(time.Since(start))
	s.writeTelemetry(ctx, eventType, len(created), time.Since(start))

	s.log.Info(ctx, "fanout_processed", "event fanned out",
		slog.String("event_id", ev.ID().String()),
		slog.String("event_type", eventType),
		slog.String("task_id", taskID),
		slog.Int("recipients", len(pending)),
		slog.Int("created", len(created)))
	return nil
}

func buildNotifications(eventID uuid.UUID, taskID uuid.UUID, recipients []string, kind string, message string) []models.Notification {
	now := time.Now().UTC()
	out := make([]models.Notification, 0, len(recipients))
	for _, userID := range recipients {
		if userID == "" {
			continue
		}
		out = append(out, models.Notification{
			EventID:         eventID,
			RecipientUserID: userID,
			Kind:            kind,
			Message:         message,
			TaskID:          taskID,
			CreatedAt:       now,
		})
	}
	return out
}

func (s *Service) writeTelemetry(ctx context.Context, eventType string, created int, elapsed time.Duration) {
	if s.influx == nil {
		return
	}
	err := s.influx.WritePoint(ctx, "fanout",
		map[string]string{"event_type": eventType},
		map[string]any{"created": created, "latency_ms": elapsed.Milliseconds()},
		time.Now().UTC())
	if err != nil {
		metricsx.IncInfluxWriteFailure()
	}
}
