package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/luminodash/collab/internal/app"
	"github.com/luminodash/collab/internal/core"
	"github.com/luminodash/collab/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSController upgrades connections and shuttles wire events between
// the socket and the session coordinator.
type WSController struct {
	Coord      *app.Coordinator
	ReadLimit  int64
	PingPeriod time.Duration
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}
	once sync.Once
}

var errConnClosed = errors.New("connection closed")

// TrySend queues a frame without blocking. The send channel is never
// closed: closed connections are signalled through done, so a broadcast
// racing a kick gets an error, not a panic.
func (c *wsConn) TrySend(f core.Frame) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// credential pulls the client credential from the Authorization header
// or, for browser websockets that cannot set headers, the token query
// parameter.
func credential(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return c.Query("token")
}

func (ctl *WSController) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "adapters.ws").Err(err).Msg("ws upgrade failed")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{conn: ws, send: make(chan core.Frame, 64), done: make(chan struct{})}

	sess, err := ctl.Coord.Connect(ctx, credential(c), conn)
	if err != nil {
		log.Warn().Str("module", "adapters.ws").Err(err).Msg("connection rejected")
		frame := core.MarshalEvent(core.ErrorEvent{Type: core.EvError, Code: app.CodeAuthentication, Message: "authentication error"})
		_ = ws.WriteMessage(websocket.TextMessage, frame)
		_ = ws.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}

func (ctl *WSController) writePump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			// Closing the socket unblocks the read pump's ReadMessage,
			// so shutdown reaps idle connections too.
			c.Close()
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Str("module", "adapters.ws").Err(err).Msg("write failed")
				return
			}
		}
	}
}

func (ctl *WSController) readPump(ctx context.Context, cancel context.CancelFunc, sess *app.Session, c *wsConn) {
	defer func() {
		ctl.Coord.Disconnect(sess)
		cancel()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Str("module", "adapters.ws").Str("user", string(sess.Identity.UserID)).Err(err).Msg("read loop exit")
				return
			}
			ctl.dispatch(ctx, sess, c, data)
		}
	}
}

// envelope is the common head of every inbound event.
type envelope struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

func (ctl *WSController) dispatch(ctx context.Context, sess *app.Session, c *wsConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Str("module", "adapters.ws").Err(err).Msg("bad envelope")
		return
	}

	switch env.Type {
	case "join-room":
		ctl.Coord.JoinRoom(ctx, sess, env.RoomID)
	case "cursor-move":
		var p struct {
			X         float64         `json:"x"`
			Y         float64         `json:"y"`
			Selection json.RawMessage `json:"selection"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		ctl.Coord.CursorMove(sess, env.RoomID, domain.Cursor{X: p.X, Y: p.Y}, p.Selection)
	case "lock-component":
		var p struct {
			ComponentID string `json:"componentId"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		ctl.Coord.LockComponent(sess, env.RoomID, p.ComponentID)
	case "unlock-component":
		var p struct {
			ComponentID string `json:"componentId"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		ctl.Coord.UnlockComponent(sess, env.RoomID, p.ComponentID)
	case "update-canvas":
		var p struct {
			Operation   string         `json:"operation"`
			ComponentID string         `json:"componentId"`
			Changes     map[string]any `json:"changes"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		ctl.Coord.UpdateCanvas(sess, env.RoomID, domain.OperationKind(p.Operation), p.ComponentID, p.Changes)
	case "save-dashboard":
		var p struct {
			LayoutSchema domain.LayoutSchema `json:"layoutSchema"`
			Version      *int64              `json:"version"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		ctl.Coord.SaveDashboard(ctx, sess, env.RoomID, p.LayoutSchema, p.Version)
	case "sync-message":
		var p struct {
			Message []byte `json:"message"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		ctl.Coord.Sync(ctx, sess, env.RoomID, p.Message)
	case "awareness-update":
		var p struct {
			Update []byte `json:"update"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		ctl.Coord.Awareness(sess, env.RoomID, p.Update)
	case "typing-start":
		ctl.Coord.Typing(sess, env.RoomID, true)
	case "typing-stop":
		ctl.Coord.Typing(sess, env.RoomID, false)
	case "ping":
		ctl.sendJSON(c, map[string]string{"type": "pong"})
	case "whoami":
		resp := struct {
			Type   string        `json:"type"`
			UserID domain.UserID `json:"userId"`
			Name   string        `json:"name"`
			RoomID domain.RoomID `json:"roomId,omitempty"`
		}{
			Type:   "whoami",
			UserID: sess.Identity.UserID,
			Name:   sess.Identity.DisplayName,
			RoomID: sess.RoomID(),
		}
		ctl.sendJSON(c, resp)
	default:
		log.Warn().Str("module", "adapters.ws").Str("type", env.Type).Msg("unknown event type")
	}
}

func (ctl *WSController) sendJSON(c *wsConn, v any) {
	if frame := core.MarshalEvent(v); frame != nil {
		_ = c.TrySend(frame)
	}
}
