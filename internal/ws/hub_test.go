package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinedSession(userID string) *Session {
	s := NewSession()
	s.UserID = userID
	s.SetState(StateJoined)
	return s
}

func TestHubAddIdempotent(t *testing.T) {
	h := NewHub(nil)
	s := joinedSession("u1")

	h.Add(s)
	h.Add(s)
	assert.Equal(t, 1, h.HandleCount("u1"))
}

func TestHubMultiDevice(t *testing.T) {
	h := NewHub(nil)
	s1 := joinedSession("u1")
	s2 := joinedSession("u1")
	h.Add(s1)
	h.Add(s2)
	assert.Equal(t, 2, h.HandleCount("u1"))

	h.SendToUser("u1", []byte(`{"event":"ping"}`))
	assert.Len(t, s1.Send, 1)
	assert.Len(t, s2.Send, 1)

	assert.False(t, h.Remove(s1), "one handle remains")
	assert.True(t, h.Remove(s2), "last handle gone")
	assert.Equal(t, 0, h.HandleCount("u1"))
}

func TestHubRooms(t *testing.T) {
	h := NewHub(nil)
	s := joinedSession("u1")
	h.Add(s)

	assert.False(t, h.IsSubscribed("u1", "c1"))
	h.JoinRoom("c1", s)
	assert.True(t, h.IsSubscribed("u1", "c1"))
	assert.False(t, h.IsSubscribed("u2", "c1"))

	h.SendToRoom("c1", []byte(`x`))
	assert.Len(t, s.Send, 1)

	h.LeaveRoom("c1", s)
	assert.False(t, h.IsSubscribed("u1", "c1"))
}

func TestHubRemoveCleansRooms(t *testing.T) {
	h := NewHub(nil)
	s := joinedSession("u1")
	h.Add(s)
	h.JoinRoom("c1", s)
	h.JoinRoom("c2", s)

	h.Remove(s)
	assert.False(t, h.IsSubscribed("u1", "c1"))
	assert.False(t, h.IsSubscribed("u1", "c2"))
}

func TestIsSubscribedRequiresJoinedState(t *testing.T) {
	h := NewHub(nil)
	s := NewSession()
	s.UserID = "u1"
	s.SetState(StateAuthenticated)
	h.Add(s)
	h.JoinRoom("c1", s)

	assert.False(t, h.IsSubscribed("u1", "c1"), "authenticated but not joined")

	s.SetState(StateJoined)
	assert.True(t, h.IsSubscribed("u1", "c1"))
}

// Disconnect on one connection flips session state while other connections'
// handlers read it through the hub; run with -race.
func TestStateTransitionDuringFanout(t *testing.T) {
	h := NewHub(nil)
	s := joinedSession("u1")
	h.Add(s)
	h.JoinRoom("c1", s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.SetState(StateDisconnected)
			s.SetState(StateJoined)
		}
	}()
	for alive := true; alive; {
		select {
		case <-done:
			alive = false
		default:
			h.IsSubscribed("u1", "c1")
		}
	}
	assert.True(t, h.IsSubscribed("u1", "c1"))
}

func TestSessionPushDropsWhenFull(t *testing.T) {
	s := NewSession()
	for i := 0; i < cap(s.Send); i++ {
		require.True(t, s.Push([]byte("x")))
	}
	assert.False(t, s.Push([]byte("overflow")))
}

func TestEncodeFrame(t *testing.T) {
	b := EncodeFrame("messageSent", map[string]string{"chatId": "c1"})
	var f struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &f))
	assert.Equal(t, "messageSent", f.Event)
	assert.JSONEq(t, `{"chatId":"c1"}`, string(f.Data))
}
