package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testClient(h *Hub, buffer int) *Client {
	return &Client{hub: h, send: make(chan []byte, buffer)}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHubInitAndBroadcast(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	h.SetInitDataProvider(func() *InitData {
		return &InitData{ActiveTrip: "trip-1"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := testClient(h, 8)
	c.Register()

	init := receive(t, c)
	assert.Equal(t, MsgTypeInit, init.Type)
	assert.Equal(t, map[string]interface{}{"active_trip": "trip-1"}, init.Data)

	h.BroadcastMessage(MsgTypeTripState, map[string]string{"state": "active"})
	msg := receive(t, c)
	assert.Equal(t, MsgTypeTripState, msg.Type)

	assert.Equal(t, 1, h.ClientCount())
	c.Unregister()
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := testClient(h, 0)
	slow.Register()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.BroadcastMessage(MsgTypeBehaviour, "x")
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := testClient(h, 1)
	c.Register()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped

	_, ok := <-c.send
	assert.False(t, ok)

	// Run 退出后注册与注销不阻塞
	late := testClient(h, 1)
	late.Register()
	late.Unregister()
	_, ok = <-late.send
	assert.False(t, ok)
}
