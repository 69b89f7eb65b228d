package realtime

import (
	"testing"

	"github.com/google/uuid"
)

func TestJoinIdempotent(t *testing.T) {
	reg := NewRegistry()
	c := NewConn("c1", "user-1", nil, 4)

	reg.Join(RoomBoard, c)
	reg.Join(RoomBoard, c)
	if n := reg.RoomSize(RoomBoard); n != 1 {
		t.Fatalf("expected room size 1 after double join, got %d", n)
	}

	reg.Leave(RoomBoard, c)
	if n := reg.RoomSize(RoomBoard); n != 0 {
		t.Fatalf("expected empty room after leave, got %d", n)
	}
	reg.Leave(RoomBoard, c)
}

func TestBroadcastSnapshot(t *testing.T) {
	reg := NewRegistry()
	a := NewConn("a", "user-a", nil, 4)
	b := NewConn("b", "user-b", nil, 4)
	reg.Join(RoomTask("t1"), a)
	reg.Join(RoomTask("t1"), b)

	frame := TypingFrame("t1", "user-a")
	sent := reg.BroadcastExcept(RoomTask("t1"), FrameTyping, frame, a)
	if sent != 1 {
		t.Fatalf("expected 1 delivery excluding sender, got %d", sent)
	}
	select {
	case got := <-b.Out:
		if string(got) != string(frame) {
			t.Fatalf("unexpected frame: %s", got)
		}
	default:
		t.Fatalf("expected frame queued on receiver")
	}
	select {
	case <-a.Out:
		t.Fatalf("sender should not receive its own typing frame")
	default:
	}
}

func TestBroadcastStaysInRoom(t *testing.T) {
	reg := NewRegistry()
	watcher := NewConn("w", "user-w", nil, 4)
	other := NewConn("o", "user-o", nil, 4)
	reg.Join(RoomTask("t1"), watcher)
	reg.Join(RoomTask("t2"), other)
	reg.Join(RoomUser("user-o"), other)

	if sent := reg.Broadcast(RoomTask("t2"), FrameTaskUpdated, TaskUpdatedFrame(uuid.New(), "other task", "DONE")); sent != 1 {
		t.Fatalf("expected 1 delivery in t2, got %d", sent)
	}
	if sent := reg.Broadcast(RoomUser("user-o"), FrameBadge, BadgeFrame(2)); sent != 1 {
		t.Fatalf("expected 1 delivery in user-o room, got %d", sent)
	}
	select {
	case got := <-watcher.Out:
		t.Fatalf("t1 watcher received a frame from another room: %s", got)
	default:
	}

	frame := TaskUpdatedFrame(uuid.New(), "watched task", "REVIEW")
	if sent := reg.Broadcast(RoomTask("t1"), FrameTaskUpdated, frame); sent != 1 {
		t.Fatalf("expected 1 delivery in t1, got %d", sent)
	}
	select {
	case got := <-watcher.Out:
		if string(got) != string(frame) {
			t.Fatalf("unexpected frame: %s", got)
		}
	default:
		t.Fatalf("expected frame queued for t1 watcher")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	reg := NewRegistry()
	c := NewConn("c", "user-c", nil, 1)
	reg.Join(RoomBoard, c)

	f1 := TaskCreatedFrame(uuid.New(), "ship the release")
	if sent := reg.Broadcast(RoomBoard, FrameTaskCreated, f1); sent != 1 {
		t.Fatalf("expected first frame delivered, got %d", sent)
	}
	if sent := reg.Broadcast(RoomBoard, FrameTaskCreated, f1); sent != 0 {
		t.Fatalf("expected second frame dropped on full queue, got %d", sent)
	}
}

func TestDropRemovesEverywhere(t *testing.T) {
	reg := NewRegistry()
	c := NewConn("c", "user-c", nil, 4)
	reg.Join(RoomBoard, c)
	reg.Join(RoomTask("t1"), c)
	reg.Join(RoomUser("user-c"), c)

	reg.Drop(c)
	if n := reg.RoomSize(RoomBoard); n != 0 {
		t.Fatalf("expected board room emptied, got %d", n)
	}
	if n := reg.RoomSize(RoomTask("t1")); n != 0 {
		t.Fatalf("expected task room emptied, got %d", n)
	}
	if c.Send([]byte("x")) {
		t.Fatalf("send after drop should fail")
	}
	// second drop is a no-op
	reg.Drop(c)

	reg.Join(RoomBoard, c)
	if n := reg.RoomSize(RoomBoard); n != 0 {
		t.Fatalf("join after drop should be refused, got %d", n)
	}
}
