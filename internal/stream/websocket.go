// Package stream pushes a session's display and action events to a WebSocket client.
package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/inapp-messaging/internal/events"
	"github.com/shehryarbajwa/inapp-messaging/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	bufferSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	sessionMgr *session.Manager
	logger     *slog.Logger
}

func NewServer(sessionMgr *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessionMgr: sessionMgr,
		logger:     logger,
	}
}

// HandleEvents upgrades the request and streams every event of sessionID as
// JSON text frames until the client goes away. Events are dropped for a
// client that falls more than bufferSize events behind.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.sessionMgr.GetSession(sessionID); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	queue := make(chan events.Event, bufferSize)
	sub := s.sessionMgr.Bus().Subscribe(func(e events.Event) {
		if e.SessionID != sessionID {
			return
		}
		select {
		case queue <- e:
		default:
			s.logger.Warn("event stream behind, dropping event", "session_id", sessionID, "kind", e.Kind)
		}
	})
	defer sub.Unsubscribe()

	s.logger.Info("event stream opened", "session_id", sessionID)

	// The client never sends anything we use; reading surfaces its close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("event stream read error", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			s.logger.Info("event stream closed", "session_id", sessionID)
			return
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Warn("event stream write failed", "session_id", sessionID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
