package clientsession

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakesession/pkg/coordinator"
)

func TestSendEnqueuesEncodedMessage(t *testing.T) {
	s := New("alice", nil)
	s.Send(coordinator.ServerMessage{Kind: "notification"})

	raw := <-s.Outbound()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "notification", decoded["kind"])
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	s := New("alice", nil)
	for i := 0; i < outboundBuffer; i++ {
		s.Send(coordinator.ServerMessage{Kind: "tick"})
	}
	// One more Send must not block even though the buffer is saturated.
	done := make(chan struct{})
	go func() {
		s.Send(coordinator.ServerMessage{Kind: "tick"})
		close(done)
	}()
	<-done
}

func TestCloseUnblocksSend(t *testing.T) {
	s := New("alice", nil)
	s.Close()
	s.Send(coordinator.ServerMessage{Kind: "tick"})
}

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	s := New("alice", nil)
	r.Put(s)

	got, ok := r.Get("alice")
	assert.True(t, ok)
	assert.Same(t, s, got)

	r.Remove("alice")
	_, ok = r.Get("alice")
	assert.False(t, ok)
}
