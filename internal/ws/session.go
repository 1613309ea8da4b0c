package ws

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// ConnInfo identifies a session for lifecycle events and audit trails.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// Session is one live websocket connection for one authenticated user. All
// outbound traffic goes through the buffered send channel and a single write
// pump, so fan-out never blocks an event handler and frames never interleave.
type Session struct {
	conn      *websocket.Conn
	userID    int64
	info      ConnInfo
	send      chan models.ServerEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, userID int64, info ConnInfo) *Session {
	return &Session{
		conn:   conn,
		userID: userID,
		info:   info,
		send:   make(chan models.ServerEvent, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// UserID returns the authenticated user behind the session.
func (s *Session) UserID() int64 {
	return s.userID
}

// queue enqueues an outbound event without blocking. A full buffer means the
// client stopped draining; the caller is expected to close the session then.
func (s *Session) queue(event models.ServerEvent) bool {
	select {
	case s.send <- event:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case event := <-s.send:
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("failed to serialize event %q: %v", event.Event, err)
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
