package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuklatul1021/Waveline/internal/config"
)

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 1 << 16,
	}
}

func TestSendMessageAfterUnregister(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()

	client := &Client{ID: "peer-1", Hub: h, Send: make(chan []byte, 4)}
	h.Register(client)
	h.Unregister(client)

	// Unregister is processed asynchronously; wait until the send
	// channel has been closed.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-client.Send:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// A broadcast still holding this connection must be a no-op,
	// not a send on a closed channel.
	assert.NotPanics(t, func() {
		require.NoError(t, client.SendMessage(map[string]string{"type": "peerLeft"}))
	})
	assert.NoError(t, h.SendToClient("peer-1", map[string]string{"type": "peerLeft"}))
}

func TestSendMessageDropsWhenBufferFull(t *testing.T) {
	client := &Client{ID: "peer-1", Send: make(chan []byte, 1)}

	require.NoError(t, client.SendMessage("first"))
	// Buffer is full now; the next send drops instead of blocking.
	require.NoError(t, client.SendMessage("second"))
	assert.Len(t, client.Send, 1)
}

func TestCloseSendIsIdempotent(t *testing.T) {
	client := &Client{ID: "peer-1", Send: make(chan []byte, 1)}
	client.closeSend()
	assert.NotPanics(t, client.closeSend)
}
