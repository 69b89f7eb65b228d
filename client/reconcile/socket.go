package reconcile

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type taskFramePayload struct {
	TaskID    string `json:"taskId"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CommentID string `json:"commentId"`
	UserID    string `json:"userId"`
}

type notificationPayload struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	TaskID  string `json:"taskId"`
}

// Socket is a thin websocket client that joins rooms and feeds live frames
// into a reconciliation engine.
type Socket struct {
	ws     *websocket.Conn
	engine *Engine

	// OnNotification receives personal-room notification frames untouched by
	// reconciliation; they carry their own identity and never duplicate.
	OnNotification func(id string, kind string, message string, taskID string)
	// OnBadge receives unread-count pushes.
	OnBadge func(unread int)
}

// Dial connects to the realtime gateway. userID may be empty; the connection
// then works for room traffic only.
func Dial(ctx context.Context, rawURL string, userID string, engine *Engine) (*Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &Socket{ws: ws, engine: engine}, nil
}

func (s *Socket) control(msgType string, taskID string) error {
	msg := frame{Type: msgType}
	if taskID != "" {
		raw, err := json.Marshal(map[string]string{"taskId": taskID})
		if err != nil {
			return err
		}
		msg.Payload = raw
	}
	return s.ws.WriteJSON(msg)
}

func (s *Socket) JoinBoard() error          { return s.control("board:join", "") }
func (s *Socket) LeaveBoard() error         { return s.control("board:leave", "") }
func (s *Socket) JoinTask(id string) error  { return s.control("task:join", id) }
func (s *Socket) LeaveTask(id string) error { return s.control("task:leave", id) }
func (s *Socket) Typing(id string) error    { return s.control("task:typing", id) }

// Run reads frames until the connection drops or ctx is canceled, routing
// each through the engine. It returns the read error; a clean close returns
// websocket.ErrCloseSent or a close error.
func (s *Socket) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ws.Close()
	}()
	defer s.engine.Stop()

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		s.dispatch(f)
	}
}

func (s *Socket) dispatch(f frame) {
	switch f.Type {
	case KindTaskCreated:
		var p taskFramePayload
		if json.Unmarshal(f.Payload, &p) == nil && p.TaskID != "" {
			s.engine.HandleUpdate(Update{Kind: KindTaskCreated, EntityID: p.TaskID, Discriminant: p.Title})
		}
	case KindTaskUpdated:
		var p taskFramePayload
		if json.Unmarshal(f.Payload, &p) == nil && p.TaskID != "" {
			s.engine.HandleUpdate(Update{Kind: KindTaskUpdated, EntityID: p.TaskID, Discriminant: p.Status})
		}
	case KindCommentNew:
		var p taskFramePayload
		if json.Unmarshal(f.Payload, &p) == nil && p.TaskID != "" {
			s.engine.HandleUpdate(Update{Kind: KindCommentNew, EntityID: p.TaskID, Discriminant: p.CommentID})
		}
	case "task:typing":
		var p taskFramePayload
		if json.Unmarshal(f.Payload, &p) == nil && p.TaskID != "" && p.UserID != "" {
			s.engine.HandleTyping(p.TaskID, p.UserID)
		}
	case "notification":
		if s.OnNotification == nil {
			return
		}
		var p notificationPayload
		if json.Unmarshal(f.Payload, &p) == nil {
			s.OnNotification(p.ID, p.Kind, p.Message, p.TaskID)
		}
	case "notification:badge":
		if s.OnBadge == nil {
			return
		}
		var p struct {
			Unread int `json:"unread"`
		}
		if json.Unmarshal(f.Payload, &p) == nil {
			s.OnBadge(p.Unread)
		}
	}
}

func (s *Socket) Close() error {
	return s.ws.Close()
}
