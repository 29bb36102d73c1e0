// internal/transport/memory_test.go
package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

// collector records every message an endpoint receives.
type collector struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *collector) handler(msg protocol.Message, _ *Conn) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) last() protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return nil
	}
	return c.msgs[len(c.msgs)-1]
}

func TestMemoryRoomClaim(t *testing.T) {
	net := NewNetwork()
	host := net.NewPeer()
	rival := net.NewPeer()

	require.NoError(t, host.CreateAsHost(context.Background(), "ABCDEF"))
	err := rival.CreateAsHost(context.Background(), "ABCDEF")
	assert.ErrorIs(t, err, ErrRoomTaken)

	host.Teardown()
	assert.NoError(t, rival.CreateAsHost(context.Background(), "ABCDEF"))
	rival.Teardown()
}

func TestMemoryConnectUnknownRoom(t *testing.T) {
	net := NewNetwork()
	client := net.NewPeer()
	err := client.ConnectAsClient(context.Background(), "NOROOM", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemoryDelivery(t *testing.T) {
	net := NewNetwork()
	host := net.NewPeer()
	client := net.NewPeer()

	var hostRecv, clientRecv collector
	host.OnMessage(hostRecv.handler)
	client.OnMessage(clientRecv.handler)

	require.NoError(t, host.CreateAsHost(context.Background(), "ABCDEF"))
	require.NoError(t, client.ConnectAsClient(context.Background(), "ABCDEF", "addr-1"))

	client.Broadcast(&protocol.Guess{PlayerID: "p1", QuestionID: "q1"})
	require.Eventually(t, func() bool { return hostRecv.count() == 1 }, time.Second, 5*time.Millisecond)
	guess, ok := hostRecv.last().(*protocol.Guess)
	require.True(t, ok)
	assert.Equal(t, "p1", guess.PlayerID)

	host.Broadcast(&protocol.TimerSync{TimeRemaining: 30})
	require.Eventually(t, func() bool { return clientRecv.count() == 1 }, time.Second, 5*time.Millisecond)

	host.Teardown()
	client.Teardown()
}

func TestMemoryBroadcastExcept(t *testing.T) {
	net := NewNetwork()
	host := net.NewPeer()
	player := net.NewPeer()
	watcher := net.NewPeer()

	var peers []*Conn
	host.OnPeer(func(c *Conn) { peers = append(peers, c) })

	var playerRecv, watcherRecv collector
	player.OnMessage(playerRecv.handler)
	watcher.OnMessage(watcherRecv.handler)

	require.NoError(t, host.CreateAsHost(context.Background(), "ABCDEF"))
	require.NoError(t, player.ConnectAsClient(context.Background(), "ABCDEF", "addr-player"))
	require.NoError(t, watcher.ConnectAsClient(context.Background(), "ABCDEF", "addr-watcher"))
	require.Len(t, peers, 2)

	var watcherConn *Conn
	for _, c := range peers {
		if c.Addr() == "addr-watcher" {
			watcherConn = c
		}
	}
	require.NotNil(t, watcherConn)

	host.Broadcast(&protocol.TimerSync{TimeRemaining: 30}, watcherConn)
	require.Eventually(t, func() bool { return playerRecv.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, watcherRecv.count(), "an excluded connection must not hear the broadcast")

	host.Teardown()
	player.Teardown()
	watcher.Teardown()
}

func TestMemoryDropNotifiesRemote(t *testing.T) {
	net := NewNetwork()
	host := net.NewPeer()
	client := net.NewPeer()

	dropped := make(chan *Conn, 1)
	host.OnDisconnect(func(c *Conn) { dropped <- c })

	var peerConn *Conn
	accepted := make(chan struct{}, 1)
	host.OnPeer(func(c *Conn) {
		peerConn = c
		accepted <- struct{}{}
	})

	require.NoError(t, host.CreateAsHost(context.Background(), "ABCDEF"))
	require.NoError(t, client.ConnectAsClient(context.Background(), "ABCDEF", "addr-1"))

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("host never saw the peer")
	}
	assert.Equal(t, "addr-1", peerConn.Addr())

	// Sever from the client side: the host must hear about it.
	for conn := range client.links {
		client.Drop(conn)
	}
	select {
	case conn := <-dropped:
		assert.Equal(t, peerConn, conn)
		assert.False(t, conn.Open())
	case <-time.After(time.Second):
		t.Fatal("host never saw the drop")
	}

	host.Teardown()
	client.Teardown()
}

func TestConnSendAfterClose(t *testing.T) {
	var delivered int
	conn := NewConn("addr", func([]byte) { delivered++ })
	conn.Send([]byte("one"))
	conn.Close()
	conn.Send([]byte("two"))
	assert.Equal(t, 1, delivered)
	assert.False(t, conn.Open())
}
