// Package expiryx provides a debounced expiry guard: each Schedule call on a
// subject supersedes the previous one, and a fired timer only expires the
// subject if no newer Schedule happened in the meantime.
package expiryx

import (
	"sync"
	"time"
)

type entry struct {
	gen   uint64
	timer *time.Timer
}

type Guard struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
	stopped bool
}

func NewGuard() *Guard {
	return &Guard{entries: make(map[string]*entry)}
}

// Schedule arms (or re-arms) the expiry timer for subject. When the timer
// fires and no newer Schedule or Cancel has intervened, onExpire runs once
// with the subject already removed from the guard.
func (g *Guard) Schedule(subject string, d time.Duration, onExpire func(subject string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	if prev, ok := g.entries[subject]; ok {
		prev.timer.Stop()
	}
	g.nextGen++
	gen := g.nextGen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(d, func() {
		if g.expire(subject, gen) && onExpire != nil {
			onExpire(subject)
		}
	})
	g.entries[subject] = e
}

// Cancel disarms the pending expiry for subject, if any. Returns whether a
// timer was pending.
func (g *Guard) Cancel(subject string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[subject]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(g.entries, subject)
	return true
}

func (g *Guard) Active(subject string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[subject]
	return ok
}

// Stop disarms every pending timer. Callbacks scheduled after Stop never run.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	for subject, e := range g.entries {
		e.timer.Stop()
		delete(g.entries, subject)
	}
}

// expire removes the subject only if the stored generation still matches the
// one the timer was armed with; a stale fire is a no-op.
func (g *Guard) expire(subject string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	e, ok := g.entries[subject]
	if !ok || e.gen != gen {
		return false
	}
	delete(g.entries, subject)
	return true
}
