package events

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeTaskCreated(t *testing.T) {
	raw := []byte(`{
		"eventId": "6f1e63a0-8a34-4a68-9a3c-7e9f0a3b1c11",
		"eventType": "task.created",
		"taskId": "0e7b8a44-19aa-4f0e-baf2-33e10a9d2f55",
		"title": "Ship the release",
		"assigneeIds": ["u1", "u2"]
	}`)
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	created, ok := ev.(TaskCreated)
	if !ok {
		t.Fatalf("expected TaskCreated, got %T", ev)
	}
	if created.Title != "Ship the release" || len(created.AssigneeIDs) != 2 {
		t.Fatalf("unexpected event: %#v", created)
	}
}

func TestDecodeTaskUpdatedCarriesStatus(t *testing.T) {
	raw := []byte(`{
		"eventId": "6f1e63a0-8a34-4a68-9a3c-7e9f0a3b1c11",
		"eventType": "task.updated",
		"taskId": "0e7b8a44-19aa-4f0e-baf2-33e10a9d2f55",
		"title": "Ship the release",
		"status": "DONE",
		"assigneeIds": ["u1"]
	}`)
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	updated, ok := ev.(TaskUpdated)
	if !ok {
		t.Fatalf("expected TaskUpdated, got %T", ev)
	}
	if updated.Status != "DONE" {
		t.Fatalf("expected status DONE, got %q", updated.Status)
	}
}

func TestDecodeCommentCreated(t *testing.T) {
	raw := []byte(`{
		"eventId": "6f1e63a0-8a34-4a68-9a3c-7e9f0a3b1c11",
		"eventType": "task.comment.created",
		"taskId": "0e7b8a44-19aa-4f0e-baf2-33e10a9d2f55",
		"commentId": "3b7b8a44-19aa-4f0e-baf2-33e10a9d2f99",
		"authorId": "u3",
		"title": "Ship the release",
		"assigneeIds": ["u1", "u2"]
	}`)
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	comment, ok := ev.(CommentCreated)
	if !ok {
		t.Fatalf("expected CommentCreated, got %T", ev)
	}
	if comment.AuthorID != "u3" || comment.TaskTitle != "Ship the release" {
		t.Fatalf("unexpected event: %#v", comment)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":        []byte(`{`),
		"unknown type":    []byte(`{"eventId":"6f1e63a0-8a34-4a68-9a3c-7e9f0a3b1c11","eventType":"task.deleted","taskId":"0e7b8a44-19aa-4f0e-baf2-33e10a9d2f55"}`),
		"missing ids":     []byte(`{"eventType":"task.created","title":"x"}`),
		"created untitle": []byte(`{"eventId":"6f1e63a0-8a34-4a68-9a3c-7e9f0a3b1c11","eventType":"task.created","taskId":"0e7b8a44-19aa-4f0e-baf2-33e10a9d2f55"}`),
		"comment no id":   []byte(`{"eventId":"6f1e63a0-8a34-4a68-9a3c-7e9f0a3b1c11","eventType":"task.comment.created","taskId":"0e7b8a44-19aa-4f0e-baf2-33e10a9d2f55"}`),
	}
	for name, raw := range cases {
		if _, err := Decode(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
	if _, err := Decode([]byte(`{"eventId":"` + uuid.NewString() + `"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing taskId")
	}
}
