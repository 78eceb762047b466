package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamMessage is one websocket frame.
type StreamMessage struct {
	Type string     `json:"type"` // snapshot | update
	Job  entity.Job `json:"job"`
}

// stream sends the current jobs, then every change as it happens.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("stream.upgrade.failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.updates.Subscribe()
	defer cancel()

	// reader: only pongs and close frames are expected
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					s.logger.Debug("stream.read.closed", "error", err)
				}
				return
			}
		}
	}()

	write := func(msg StreamMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("stream.write.failed", "error", err)
			return false
		}
		return true
	}

	for _, j := range s.jobs.List() {
		if !write(StreamMessage{Type: "snapshot", Job: j}) {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case job, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !write(StreamMessage{Type: "update", Job: job}) {
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
