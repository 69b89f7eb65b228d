package realtime

import (
	"sync"

	"github.com/gorilla/websocket"

	"jungleboard/shared/metricsx"
)

const (
	RoomBoard = "board"
)

func RoomUser(userID string) string {
	return "user:" + userID
}

func RoomTask(taskID string) string {
	return "task:" + taskID
}

type Conn struct {
	ID     string
	UserID string
	WS     *websocket.Conn
	// bounded outbound queue (backpressure)
	Out chan []byte

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

func NewConn(id string, userID string, ws *websocket.Conn, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Conn{
		ID:     id,
		UserID: userID,
		WS:     ws,
		Out:    make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// Send queues a frame without blocking; a slow reader loses frames rather
// than stalling the broadcaster.
func (c *Conn) Send(frame []byte) bool {
	if frame == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	// non-blocking under the conn lock so Drop cannot close Out mid-send
	select {
	case c.Out <- frame:
		return true
	default:
		metricsx.IncDroppedFrame()
		return false
	}
}

type room struct {
	mu      sync.RWMutex
	members map[*Conn]struct{}
}

// Registry tracks which connections are in which rooms. Membership is
// per-room locked so a broadcast to one room never contends with joins on
// another.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds the connection to a room. Joining twice is a no-op.
func (reg *Registry) Join(name string, c *Conn) {
	if c == nil || name == "" {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.rooms[name] = struct{}{}
	c.mu.Unlock()

	r := reg.room(name)
	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()
}

// Leave removes the connection from a room. Leaving a room the connection is
// not in is a no-op.
func (reg *Registry) Leave(name string, c *Conn) {
	if c == nil || name == "" {
		return
	}
	c.mu.Lock()
	delete(c.rooms, name)
	c.mu.Unlock()

	reg.mu.RLock()
	r, ok := reg.rooms[name]
	reg.mu.RUnlock()
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.members, c)
	r.mu.Unlock()
}

// Drop removes the connection from every room it joined and closes its
// outbound queue. Safe to call more than once.
func (reg *Registry) Drop(c *Conn) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	names := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		names = append(names, name)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	for _, name := range names {
		reg.mu.RLock()
		r, ok := reg.rooms[name]
		reg.mu.RUnlock()
		if !ok {
			continue
		}
		r.mu.Lock()
		delete(r.members, c)
		r.mu.Unlock()
	}
	close(c.Out)
}

// Broadcast fans a frame out to every member of a room. The member set is
// snapshotted under the room lock and sends happen outside it, so a full
// queue on one connection never blocks the rest.
func (reg *Registry) Broadcast(name string, frameType string, frame []byte) int {
	return reg.broadcast(name, frameType, frame, nil)
}

// BroadcastExcept is Broadcast minus one connection, used for typing echoes.
func (reg *Registry) BroadcastExcept(name string, frameType string, frame []byte, skip *Conn) int {
	return reg.broadcast(name, frameType, frame, skip)
}

func (reg *Registry) broadcast(name string, frameType string, frame []byte, skip *Conn) int {
	if frame == nil {
		return 0
	}
	reg.mu.RLock()
	r, ok := reg.rooms[name]
	reg.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.members))
	for c := range r.members {
		if c == skip {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Send(frame) {
			sent++
		}
	}
	if sent > 0 {
		metricsx.IncBroadcast(frameType)
	}
	return sent
}

func (reg *Registry) RoomSize(name string) int {
	reg.mu.RLock()
	r, ok := reg.rooms[name]
	reg.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.RLock()
	n := len(r.members)
	r.mu.RUnlock()
	return n
}

func (reg *Registry) room(name string) *room {
	reg.mu.RLock()
	r, ok := reg.rooms[name]
	reg.mu.RUnlock()
	if ok {
		return r
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[name]; ok {
		return r
	}
	r = &room{members: make(map[*Conn]struct{})}
	reg.rooms[name] = r
	return r
}
