package expiryx

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFires(t *testing.T) {
	g := NewGuard()
	defer g.Stop()

	fired := make(chan string, 1)
	g.Schedule("user-1", 20*time.Millisecond, func(subject string) {
		fired <- subject
	})

	select {
	case subject := <-fired:
		if subject != "user-1" {
			t.Fatalf("expected user-1, got %s", subject)
		}
	case <-time.After(time.Second):
		t.Fatalf("expiry never fired")
	}
	if g.Active("user-1") {
		t.Fatalf("expected subject to be cleared after expiry")
	}
}

func TestRescheduleExtends(t *testing.T) {
	g := NewGuard()
	defer g.Stop()

	var count atomic.Int32
	g.Schedule("user-1", 30*time.Millisecond, func(string) { count.Add(1) })
	time.Sleep(15 * time.Millisecond)
	g.Schedule("user-1", 60*time.Millisecond, func(string) { count.Add(1) })

	time.Sleep(30 * time.Millisecond)
	if n := count.Load(); n != 0 {
		t.Fatalf("expected no expiry before the extended deadline, got %d", n)
	}
	time.Sleep(60 * time.Millisecond)
	if n := count.Load(); n != 1 {
		t.Fatalf("expected exactly one expiry, got %d", n)
	}
}

func TestCancel(t *testing.T) {
	g := NewGuard()
	defer g.Stop()

	g.Schedule("user-1", 20*time.Millisecond, func(string) {
		t.Errorf("expiry fired after cancel")
	})
	if !g.Cancel("user-1") {
		t.Fatalf("expected cancel to report a pending timer")
	}
	if g.Cancel("user-1") {
		t.Fatalf("expected second cancel to be a no-op")
	}
	time.Sleep(50 * time.Millisecond)
}

func TestStop(t *testing.T) {
	g := NewGuard()
	g.Schedule("a", 10*time.Millisecond, func(string) {
		t.Errorf("expiry fired after stop")
	})
	g.Stop()
	g.Schedule("b", 10*time.Millisecond, func(string) {
		t.Errorf("schedule after stop should not arm")
	})
	time.Sleep(40 * time.Millisecond)
}
