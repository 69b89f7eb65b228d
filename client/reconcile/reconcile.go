// Package reconcile is the client-side engine that decides what a live
// update means for the UI: the echo of the client's own in-flight write, a
// duplicate delivery from overlapping room subscriptions, or a genuinely
// foreign change that needs a toast and a highlight.
package reconcile

import (
	"sync"
	"time"

	"jungleboard/shared/expiryx"
)

const (
	KindTaskCreated = "task:created"
	KindTaskUpdated = "task:updated"
	KindCommentNew  = "comment:new"
)

type Outcome int

const (
	// OutcomeDropped means a duplicate delivery was absorbed; no UI effect.
	OutcomeDropped Outcome = iota
	// OutcomeEcho means the update confirmed our own pending write; caches
	// refreshed, no toast.
	OutcomeEcho
	// OutcomeForeign means someone else changed the entity; caches
	// refreshed and a toast surfaced.
	OutcomeForeign
)

// Update is one live frame reduced to what reconciliation needs. The
// discriminant separates otherwise identical deliveries of distinct changes,
// e.g. the status for task:updated or the comment id for comment:new.
type Update struct {
	Kind         string
	EntityID     string
	Discriminant string
}

type Callbacks struct {
	RefreshCaches  func(u Update)
	Toast          func(u Update)
	SetHighlight   func(entityID string)
	ClearHighlight func(entityID string)
	TypingStarted  func(taskID string, userID string)
	TypingStopped  func(taskID string, userID string)
}

type Options struct {
	// SuppressionWindow bounds how long a local mutation can claim a later
	// live update as its echo.
	SuppressionWindow time.Duration
	// DedupWindow absorbs duplicate deliveries of the same change.
	DedupWindow time.Duration
	// HighlightTTL is how long a foreign status change stays highlighted.
	HighlightTTL time.Duration
	// TypingTTL clears typing presence when no further typing event arrives.
	TypingTTL time.Duration

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SuppressionWindow <= 0 {
		o.SuppressionWindow = 1000 * time.Millisecond
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 800 * time.Millisecond
	}
	if o.HighlightTTL <= 0 {
		o.HighlightTTL = 2500 * time.Millisecond
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 2000 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Engine struct {
	opts Options
	cb   Callbacks

	mu      sync.Mutex
	pending map[string]time.Time
	dedup   map[string]time.Time

	highlights *expiryx.Guard
	typing     *expiryx.Guard
}

func NewEngine(cb Callbacks, opts Options) *Engine {
	return &Engine{
		opts:       opts.withDefaults(),
		cb:         cb,
		pending:    make(map[string]time.Time),
		dedup:      make(map[string]time.Time),
		highlights: expiryx.NewGuard(),
		typing:     expiryx.NewGuard(),
	}
}

// MarkLocalMutation records that this client just issued a write for the
// entity. The most recent mark per entity wins.
func (e *Engine) MarkLocalMutation(entityID string) {
	e.mu.Lock()
	e.pending[entityID] = e.opts.Now()
	e.mu.Unlock()
}

// HandleUpdate runs the reconciliation algorithm for one live update:
// dedup check, marker record, echo-suppression check, then foreign handling.
func (e *Engine) HandleUpdate(u Update) Outcome {
	now := e.opts.Now()
	dedupKey := u.Kind + "|" + u.EntityID + "|" + u.Discriminant

	e.mu.Lock()
	if seen, ok := e.dedup[dedupKey]; ok && now.Sub(seen) < e.opts.DedupWindow {
		e.mu.Unlock()
		return OutcomeDropped
	}
	e.dedup[dedupKey] = now
	e.pruneDedupLocked(now)

	if issued, ok := e.pending[u.EntityID]; ok {
		if now.Sub(issued) < e.opts.SuppressionWindow {
			delete(e.pending, u.EntityID)
			e.mu.Unlock()
			if e.cb.RefreshCaches != nil {
				e.cb.RefreshCaches(u)
			}
			return OutcomeEcho
		}
		// stale pending entry must not starve a foreign update
		delete(e.pending, u.EntityID)
	}
	e.mu.Unlock()

	if e.cb.RefreshCaches != nil {
		e.cb.RefreshCaches(u)
	}
	if e.cb.Toast != nil {
		e.cb.Toast(u)
	}
	if u.Kind == KindTaskUpdated {
		e.setHighlight(u.EntityID)
	}
	return OutcomeForeign
}

func (e *Engine) setHighlight(entityID string) {
	if e.cb.SetHighlight != nil {
		e.cb.SetHighlight(entityID)
	}
	e.highlights.Schedule(entityID, e.opts.HighlightTTL, func(subject string) {
		if e.cb.ClearHighlight != nil {
			e.cb.ClearHighlight(subject)
		}
	})
}

// Highlighted reports whether a foreign status change is still visually
// marked on the entity.
func (e *Engine) Highlighted(entityID string) bool {
	return e.highlights.Active(entityID)
}

// HandleTyping records typing presence for (task, user) and restarts its
// expiry. The expiry only clears the exact pair it was scheduled for.
func (e *Engine) HandleTyping(taskID string, userID string) {
	subject := taskID + "|" + userID
	fresh := !e.typing.Active(subject)
	e.typing.Schedule(subject, e.opts.TypingTTL, func(string) {
		if e.cb.TypingStopped != nil {
			e.cb.TypingStopped(taskID, userID)
		}
	})
	if fresh && e.cb.TypingStarted != nil {
		e.cb.TypingStarted(taskID, userID)
	}
}

func (e *Engine) Typing(taskID string, userID string) bool {
	return e.typing.Active(taskID + "|" + userID)
}

// Stop cancels all pending highlight and typing timers, e.g. on disconnect.
// Durable state is untouched; only presentation timers die here.
func (e *Engine) Stop() {
	e.highlights.Stop()
	e.typing.Stop()
}

func (e *Engine) pruneDedupLocked(now time.Time) {
	if len(e.dedup) < 1024 {
		return
	}
	for k, seen := range e.dedup {
		if now.Sub(seen) >= e.opts.DedupWindow {
			delete(e.dedup, k)
		}
	}
}
