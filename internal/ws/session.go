package ws

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// State is the connection lifecycle. Disconnected is terminal.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateDisconnected
)

// Session is one live handle of a participant. Several may coexist for one
// participant (multi-device). State transitions race with hub fan-out from
// other connections, so the field is atomic.
type Session struct {
	ID       string
	UserID   string
	TenantID string
	Send     chan []byte
	state    atomic.Int32 // zero value is StateConnecting
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString(), Send: make(chan []byte, 64)}
}

func (s *Session) State() State      { return State(s.state.Load()) }
func (s *Session) SetState(st State) { s.state.Store(int32(st)) }
func (s *Session) Joined() bool      { return s.State() == StateJoined }

// Push queues an outbound frame without blocking; a slow consumer drops
// frames rather than stalling fan-out.
func (s *Session) Push(payload []byte) bool {
	select {
	case s.Send <- payload:
		return true
	default:
		return false
	}
}

// WritePump drains the send channel onto the socket with write deadlines and
// keepalive pings. Runs until the channel closes or a write fails.
func (s *Session) WritePump(conn *websocket.Conn, pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case b, ok := <-s.Send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// Frame is the outbound wire shape shared by every server event.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func EncodeFrame(event string, data interface{}) []byte {
	b, _ := json.Marshal(Frame{Event: event, Data: data})
	return b
}
