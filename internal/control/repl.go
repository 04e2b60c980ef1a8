package control

import (
	"context"
	"net/http"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ReplMessage is a client frame on /repl.
type ReplMessage struct {
	Type      string `json:"type"`
	Source    string `json:"source,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{}
	if len(s.cfg.AllowOrigins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.cfg.AllowOrigins, "*") || slices.Contains(s.cfg.AllowOrigins, origin)
		}
	}
	return u
}

// repl evaluates one script per "execute" frame until the client goes
// away. Frames are handled in order.
func (s *Server) repl(c *gin.Context) {
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	reqCtx := c.Request.Context()
	s.send(conn, gin.H{"type": "ready", "context": s.engine.Current()})

	for {
		var msg ReplMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "execute":
			s.replExecute(reqCtx, conn, msg)
		case "reapply":
			if s.engine.ScheduleReapply() {
				s.send(conn, gin.H{"type": "scheduled"})
			} else {
				s.sendError(conn, "engine loop is stopped")
			}
		case "ping":
			s.send(conn, gin.H{"type": "pong"})
		default:
			s.sendError(conn, "unknown message type: "+msg.Type)
		}
	}
}

func (s *Server) replExecute(parent context.Context, conn *websocket.Conn, msg ReplMessage) {
	req := ExecuteRequest{Source: msg.Source, TimeoutMS: msg.TimeoutMS}
	ctx, cancel := context.WithTimeout(parent, req.timeout())
	defer cancel()

	res, err := s.engine.Execute(ctx, req.Source)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	if err := s.send(conn, gin.H{"type": "result", "value": res.Value, "text": res.Text}); err != nil {
		s.send(conn, gin.H{"type": "result", "text": res.Text})
	}
}

func (s *Server) send(conn *websocket.Conn, frame gin.H) error {
	payload, err := sonic.Marshal(frame)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.logger.Debug("WebSocket write error", zap.Error(err))
	}
	return nil
}

func (s *Server) sendError(conn *websocket.Conn, message string) {
	s.send(conn, gin.H{"type": "error", "error": message})
}
