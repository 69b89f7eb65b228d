package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"jungleboard/shared/authx"
	"jungleboard/shared/logx"
	"jungleboard/shared/metricsx"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	Registry     *Registry
	Log          logx.Logger
	Verifier     *authx.JWTVerifier
	WriteTimeout time.Duration
	SendBuffer   int
}

// ServeHTTP upgrades the request and runs the session. The userId query
// param identifies the client; a missing userId is tolerated, the connection
// just never receives user-addressed frames. When a bearer token is present
// and a verifier is configured, the token subject wins over the query param.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))

	if h.Verifier != nil {
		if token := bearerToken(r); token != "" {
			auth, err := h.Verifier.Verify(r.Context(), token)
			if err != nil {
				h.Log.Warn(r.Context(), "ws_auth_failed", "websocket token rejected",
					slog.String("error_code", "UNAUTHENTICATED"))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			userID = auth.Subject
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := NewConn(uuid.NewString(), userID, ws, h.SendBuffer)
	if userID != "" {
		h.Registry.Join(RoomUser(userID), c)
		h.Log.Info(r.Context(), "ws_connected", "client connected",
			slog.String("conn_id", c.ID), slog.String("user_id", userID))
	} else {
		h.Log.Warn(r.Context(), "ws_connected", "client connected without userId",
			slog.String("conn_id", c.ID))
	}
	metricsx.IncWSConnections()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Handler) writeLoop(c *Conn) {
	wt := h.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	defer func() {
		_ = c.WS.Close()
	}()
	for b := range c.Out {
		_ = c.WS.SetWriteDeadline(time.Now().Add(wt))
		if err := c.WS.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (h *Handler) readLoop(c *Conn) {
	defer func() {
		h.Registry.Drop(c)
		metricsx.DecWSConnections()
		h.Log.Info(context.Background(), "ws_disconnected", "client disconnected",
			slog.String("conn_id", c.ID), slog.String("user_id", c.UserID))
	}()

	for {
		_, raw, err := c.WS.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case ControlBoardJoin:
			h.Registry.Join(RoomBoard, c)
		case ControlBoardLeave:
			h.Registry.Leave(RoomBoard, c)
		case ControlTaskJoin:
			if taskID := controlTaskID(frame); taskID != "" {
				h.Registry.Join(RoomTask(taskID), c)
			}
		case ControlTaskLeave:
			if taskID := controlTaskID(frame); taskID != "" {
				h.Registry.Leave(RoomTask(taskID), c)
			}
		case ControlTyping:
			taskID := controlTaskID(frame)
			if taskID == "" || c.UserID == "" {
				continue
			}
			h.Registry.BroadcastExcept(RoomTask(taskID), FrameTyping, TypingFrame(taskID, c.UserID), c)
		}
	}
}

func controlTaskID(frame Frame) string {
	var p ControlPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return ""
	}
	return strings.TrimSpace(p.TaskID)
}

func bearerToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		if strings.HasPrefix(strings.ToLower(v), "bearer ") {
			return strings.TrimSpace(v[len("bearer "):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
