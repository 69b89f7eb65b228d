package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"jungleboard/notifier/internal/models"
	"jungleboard/notifier/internal/realtime"
	"jungleboard/shared/events"
	"jungleboard/shared/logx"
)

type fakeRepo struct {
	seen    map[string]bool
	inserts []models.Notification
	fail    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{seen: make(map[string]bool)}
}

func (r *fakeRepo) InsertBatch(_ context.Context, ns []models.Notification) ([]models.Notification, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	var created []models.Notification
	for _, n := range ns {
		key := n.EventID.String() + "/" + n.RecipientUserID
		if r.seen[key] {
			continue
		}
		r.seen[key] = true
		n.NotificationID = uuid.New()
		r.inserts = append(r.inserts, n)
		created = append(created, n)
	}
	return created, nil
}

type sentFrame struct {
	room      string
	frameType string
	payload   []byte
}

type fakeRooms struct {
	frames []sentFrame
}

func (f *fakeRooms) Broadcast(room string, frameType string, frame []byte) int {
	f.frames = append(f.frames, sentFrame{room: room, frameType: frameType, payload: frame})
	return 1
}

func (f *fakeRooms) toRoom(room string) []sentFrame {
	var out []sentFrame
	for _, sf := range f.frames {
		if sf.room == room {
			out = append(out, sf)
		}
	}
	return out
}

func testLogger() logx.Logger {
	return logx.New("fanout-test", "test", "", "error")
}

func taskCreatedRaw(t *testing.T, eventID uuid.UUID, taskID uuid.UUID, title string, assignees []string) []byte {
	t.Helper()
	raw, err := json.Marshal(events.Envelope{
		EventID:     eventID,
		EventType:   events.TypeTaskCreated,
		TaskID:      taskID,
		Title:       title,
		AssigneeIDs: assignees,
		EmittedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestHandleTaskCreatedFanout(t *testing.T) {
	repo := newFakeRepo()
	rooms := &fakeRooms{}
	svc := NewService(repo, rooms, testLogger(), nil)

	eventID := uuid.New()
	taskID := uuid.New()
	raw := taskCreatedRaw(t, eventID, taskID, "design review", []string{"user-a", "user-b"})

	if err := svc.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(repo.inserts) != 2 {
		t.Fatalf("expected 2 notification records, got %d", len(repo.inserts))
	}
	for _, n := range repo.inserts {
		if n.Kind != models.KindTaskAssigned {
			t.Fatalf("unexpected kind %s", n.Kind)
		}
		if n.Message != "New task assigned: design review" {
			t.Fatalf("unexpected message %q", n.Message)
		}
	}

	if got := rooms.toRoom(realtime.RoomBoard); len(got) != 1 {
		t.Fatalf("expected 1 board broadcast, got %d", len(got))
	}
	if got := rooms.toRoom(realtime.RoomTask(taskID.String())); len(got) != 1 {
		t.Fatalf("expected 1 task-room broadcast, got %d", len(got))
	}
	for _, user := range []string{"user-a", "user-b"} {
		got := rooms.toRoom(realtime.RoomUser(user))
		if len(got) != 1 {
			t.Fatalf("expected 1 personal broadcast for %s, got %d", user, len(got))
		}
		if got[0].frameType != realtime.FrameNotification {
			t.Fatalf("expected notification frame for %s, got %s", user, got[0].frameType)
		}
	}
}

func TestHandleRedeliveryIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	rooms := &fakeRooms{}
	svc := NewService(repo, rooms, testLogger(), nil)

	raw := taskCreatedRaw(t, uuid.New(), uuid.New(), "retry me", []string{"user-a"})

	if err := svc.Handle(context.Background(), raw); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.Handle(context.Background(), raw); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if len(repo.inserts) != 1 {
		t.Fatalf("expected redelivery to persist nothing new, got %d rows", len(repo.inserts))
	}
	if got := rooms.toRoom(realtime.RoomUser("user-a")); len(got) != 1 {
		t.Fatalf("expected no duplicate personal frame on redelivery, got %d", len(got))
	}
}

func TestHandleMalformed(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeRooms{}, testLogger(), nil)

	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"eventType":"task.exploded","eventId":"` + uuid.NewString() + `","taskId":"` + uuid.NewString() + `"}`),
		[]byte(`{"eventType":"task.created"}`),
	}
	for _, raw := range cases {
		err := svc.Handle(context.Background(), raw)
		if !errors.Is(err, events.ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %s, got %v", raw, err)
		}
	}
	if len(repo.inserts) != 0 {
		t.Fatalf("malformed payloads must not persist anything")
	}
}

func TestHandlePersistFailureIsRetryable(t *testing.T) {
	repo := newFakeRepo()
	repo.fail = errors.New("db down")
	rooms := &fakeRooms{}
	svc := NewService(repo, rooms, testLogger(), nil)

	raw := taskCreatedRaw(t, uuid.New(), uuid.New(), "flaky", []string{"user-a"})
	err := svc.Handle(context.Background(), raw)
	if err == nil || errors.Is(err, events.ErrMalformed) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if len(rooms.frames) != 0 {
		t.Fatalf("no frames may be broadcast when persistence fails")
	}
}

func TestHandleCommentCreated(t *testing.T) {
	repo := newFakeRepo()
	rooms := &fakeRooms{}
	svc := NewService(repo, rooms, testLogger(), nil)

	taskID := uuid.New()
	raw, err := json.Marshal(events.Envelope{
		EventID:     uuid.New(),
		EventType:   events.TypeCommentCreated,
		TaskID:      taskID,
		Title:       "ship it",
		CommentID:   uuid.New(),
		AuthorID:    "user-a",
		AssigneeIDs: []string{"user-a", "user-b"},
		EmittedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	if err := svc.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.inserts) != 2 {
		t.Fatalf("expected notifications for every assignee, got %d", len(repo.inserts))
	}
	if repo.inserts[0].Message != "New comment on task: ship it" {
		t.Fatalf("unexpected message %q", repo.inserts[0].Message)
	}
	if got := rooms.toRoom(realtime.RoomTask(taskID.String())); len(got) != 1 || got[0].frameType != realtime.FrameCommentNew {
		t.Fatalf("expected comment:new frame on the task room")
	}
}
