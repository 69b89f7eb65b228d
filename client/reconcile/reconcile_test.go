package reconcile

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu         sync.Mutex
	refreshes  []Update
	toasts     []Update
	highlights []string
	cleared    []string
	started    []string
	stopped    []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		RefreshCaches: func(u Update) {
			r.mu.Lock()
			r.refreshes = append(r.refreshes, u)
			r.mu.Unlock()
		},
		Toast: func(u Update) {
			r.mu.Lock()
			r.toasts = append(r.toasts, u)
			r.mu.Unlock()
		},
		SetHighlight: func(id string) {
			r.mu.Lock()
			r.highlights = append(r.highlights, id)
			r.mu.Unlock()
		},
		ClearHighlight: func(id string) {
			r.mu.Lock()
			r.cleared = append(r.cleared, id)
			r.mu.Unlock()
		},
		TypingStarted: func(taskID, userID string) {
			r.mu.Lock()
			r.started = append(r.started, taskID+"|"+userID)
			r.mu.Unlock()
		},
		TypingStopped: func(taskID, userID string) {
			r.mu.Lock()
			r.stopped = append(r.stopped, taskID+"|"+userID)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (refreshes, toasts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refreshes), len(r.toasts)
}

func TestEchoSuppression(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{})
	defer e.Stop()

	e.MarkLocalMutation("task-1")
	outcome := e.HandleUpdate(Update{Kind: KindTaskUpdated, EntityID: "task-1", Discriminant: "DONE"})
	if outcome != OutcomeEcho {
		t.Fatalf("expected echo, got %v", outcome)
	}

	refreshes, toasts := rec.counts()
	if refreshes != 1 {
		t.Fatalf("expected exactly one cache refresh, got %d", refreshes)
	}
	if toasts != 0 {
		t.Fatalf("echo must not toast, got %d", toasts)
	}
	if e.Highlighted("task-1") {
		t.Fatalf("echo must not trigger a highlight")
	}
}

func TestEchoMarkerIsOneShot(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{})
	defer e.Stop()

	e.MarkLocalMutation("task-1")
	if got := e.HandleUpdate(Update{Kind: KindTaskUpdated, EntityID: "task-1", Discriminant: "DONE"}); got != OutcomeEcho {
		t.Fatalf("expected echo, got %v", got)
	}
	// a second, different update on the same entity is foreign
	if got := e.HandleUpdate(Update{Kind: KindTaskUpdated, EntityID: "task-1", Discriminant: "REVIEW"}); got != OutcomeForeign {
		t.Fatalf("expected foreign after pending cleared, got %v", got)
	}
}

func TestStalePendingDoesNotStarveForeignUpdate(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		},
	})
	defer e.Stop()

	e.MarkLocalMutation("task-1")
	mu.Lock()
	clock = now.Add(1500 * time.Millisecond)
	mu.Unlock()

	outcome := e.HandleUpdate(Update{Kind: KindTaskUpdated, EntityID: "task-1", Discriminant: "DONE"})
	if outcome != OutcomeForeign {
		t.Fatalf("expected expired pending to yield foreign, got %v", outcome)
	}
	_, toasts := rec.counts()
	if toasts != 1 {
		t.Fatalf("expected a toast for the foreign update, got %d", toasts)
	}
}

func TestDedupAbsorbsOverlappingRooms(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{})
	defer e.Stop()

	u := Update{Kind: KindCommentNew, EntityID: "task-1", Discriminant: "comment-9"}
	if got := e.HandleUpdate(u); got != OutcomeForeign {
		t.Fatalf("expected first delivery to be foreign, got %v", got)
	}
	if got := e.HandleUpdate(u); got != OutcomeDropped {
		t.Fatalf("expected duplicate delivery to be dropped, got %v", got)
	}

	refreshes, toasts := rec.counts()
	if refreshes != 1 || toasts != 1 {
		t.Fatalf("expected single refresh/toast, got %d/%d", refreshes, toasts)
	}
}

func TestDedupWindowExpires(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		},
	})
	defer e.Stop()

	u := Update{Kind: KindCommentNew, EntityID: "task-1", Discriminant: "comment-9"}
	e.HandleUpdate(u)

	mu.Lock()
	clock = now.Add(900 * time.Millisecond)
	mu.Unlock()
	if got := e.HandleUpdate(u); got != OutcomeForeign {
		t.Fatalf("expected delivery outside dedup window to pass, got %v", got)
	}
}

func TestHighlightRescheduleGuard(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{HighlightTTL: 40 * time.Millisecond})
	defer e.Stop()

	e.HandleUpdate(Update{Kind: KindTaskUpdated, EntityID: "task-1", Discriminant: "IN_PROGRESS"})
	time.Sleep(20 * time.Millisecond)
	// a second rapid update re-arms; the first timer must not clear it
	e.HandleUpdate(Update{Kind: KindTaskUpdated, EntityID: "task-1", Discriminant: "REVIEW"})

	time.Sleep(25 * time.Millisecond)
	if !e.Highlighted("task-1") {
		t.Fatalf("first timer wrongly cleared the re-armed highlight")
	}

	time.Sleep(40 * time.Millisecond)
	if e.Highlighted("task-1") {
		t.Fatalf("highlight should clear after the re-armed TTL")
	}
	rec.mu.Lock()
	cleared := len(rec.cleared)
	rec.mu.Unlock()
	if cleared != 1 {
		t.Fatalf("expected exactly one clear callback, got %d", cleared)
	}
}

func TestTypingPresence(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{TypingTTL: 40 * time.Millisecond})
	defer e.Stop()

	e.HandleTyping("task-1", "user-a")
	if !e.Typing("task-1", "user-a") {
		t.Fatalf("expected typing presence after event")
	}

	time.Sleep(20 * time.Millisecond)
	e.HandleTyping("task-1", "user-a")
	time.Sleep(25 * time.Millisecond)
	if !e.Typing("task-1", "user-a") {
		t.Fatalf("second typing event should restart the expiry")
	}

	time.Sleep(40 * time.Millisecond)
	if e.Typing("task-1", "user-a") {
		t.Fatalf("typing presence should expire")
	}

	rec.mu.Lock()
	started, stopped := len(rec.started), len(rec.stopped)
	rec.mu.Unlock()
	if started != 1 {
		t.Fatalf("expected one started callback, got %d", started)
	}
	if stopped != 1 {
		t.Fatalf("expected one stopped callback, got %d", stopped)
	}
}

func TestTypingPairsAreIndependent(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(rec.callbacks(), Options{TypingTTL: 30 * time.Millisecond})
	defer e.Stop()

	e.HandleTyping("task-1", "user-a")
	e.HandleTyping("task-1", "user-b")
	time.Sleep(15 * time.Millisecond)
	e.HandleTyping("task-1", "user-b")
	time.Sleep(20 * time.Millisecond)

	if e.Typing("task-1", "user-a") {
		t.Fatalf("user-a presence should have expired")
	}
	if !e.Typing("task-1", "user-b") {
		t.Fatalf("user-b presence should still be live")
	}
}
