package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"jungleboard/shared/events"
	"jungleboard/shared/logx"
	"jungleboard/tasks/internal/models"
)

type stubPublisher struct {
	published []publishedMsg
	fail      error
}

type publishedMsg struct {
	topic string
	key   string
	value []byte
}

func (p *stubPublisher) Publish(_ context.Context, topic string, key []byte, value []byte, _ map[string]string) error {
	if p.fail != nil {
		return p.fail
	}
	p.published = append(p.published, publishedMsg{topic: topic, key: string(key), value: value})
	return nil
}

func testLogger() logx.Logger {
	return logx.New("emitter-test", "test", "", "error")
}

func TestTaskCreatedEnvelope(t *testing.T) {
	pub := &stubPublisher{}
	e := New(pub, "task.events", testLogger())

	task := models.Task{
		TaskID:      uuid.New(),
		Title:       "write release notes",
		Status:      "TODO",
		AssigneeIDs: []string{"user-a", "user-b"},
	}
	e.TaskCreated(context.Background(), task)

	if len(pub.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.published))
	}
	msg := pub.published[0]
	if msg.topic != "task.events" {
		t.Fatalf("unexpected topic %s", msg.topic)
	}
	if msg.key != task.TaskID.String() {
		t.Fatalf("expected message keyed by task id, got %s", msg.key)
	}

	var env events.Envelope
	if err := json.Unmarshal(msg.value, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.EventType != events.TypeTaskCreated {
		t.Fatalf("unexpected eventType %s", env.EventType)
	}
	if env.EventID == uuid.Nil {
		t.Fatalf("expected a fresh eventId")
	}
	if env.Title != task.Title || len(env.AssigneeIDs) != 2 {
		t.Fatalf("envelope lost task fields: %+v", env)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	pub := &stubPublisher{fail: errors.New("broker down")}
	e := New(pub, "task.events", testLogger())

	// must not panic or surface the error; the mutation already committed
	e.TaskCreated(context.Background(), models.Task{TaskID: uuid.New(), Title: "x", Status: "TODO"})
	e.TaskUpdated(context.Background(), models.Task{TaskID: uuid.New(), Title: "x", Status: "DONE"})
	e.CommentCreated(context.Background(), models.Comment{CommentID: uuid.New(), AuthorID: "user-a"}, models.Task{TaskID: uuid.New(), Title: "x"})

	if len(pub.published) != 0 {
		t.Fatalf("expected nothing published, got %d", len(pub.published))
	}
}

func TestCommentCreatedCarriesTaskContext(t *testing.T) {
	pub := &stubPublisher{}
	e := New(pub, "task.events", testLogger())

	task := models.Task{TaskID: uuid.New(), Title: "triage bugs", AssigneeIDs: []string{"user-b"}}
	comment := models.Comment{CommentID: uuid.New(), TaskID: task.TaskID, AuthorID: "user-a"}
	e.CommentCreated(context.Background(), comment, task)

	var env events.Envelope
	if err := json.Unmarshal(pub.published[0].value, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.EventType != events.TypeCommentCreated {
		t.Fatalf("unexpected eventType %s", env.EventType)
	}
	if env.Title != "triage bugs" {
		t.Fatalf("expected task title on comment event, got %q", env.Title)
	}
	if len(env.AssigneeIDs) != 1 || env.AssigneeIDs[0] != "user-b" {
		t.Fatalf("expected task assignees on comment event, got %v", env.AssigneeIDs)
	}
	if env.CommentID != comment.CommentID || env.AuthorID != "user-a" {
		t.Fatalf("comment identity lost: %+v", env)
	}
}
