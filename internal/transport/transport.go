// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

// RoomPrefix namespaces room addresses so they cannot collide with unrelated
// uses of the same transport network.
const RoomPrefix = "peerquiz-vs-"

// ConnectTimeout bounds how long a connect attempt may take to reach the
// open state before it fails with ErrTimeout.
const ConnectTimeout = 10 * time.Second

// Closed error taxonomy for connection failures. Everything the UI needs to
// distinguish maps onto one of these four.
var (
	ErrRoomTaken    = errors.New("transport: room address already claimed")
	ErrRoomNotFound = errors.New("transport: room address not found")
	ErrConnection   = errors.New("transport: connection error")
	ErrTimeout      = errors.New("transport: connect timed out")
)

// RoomAddr returns the namespaced transport address for a room code.
func RoomAddr(roomCode string) string {
	return RoomPrefix + roomCode
}

// Handler consumes one decoded inbound message together with the connection
// it arrived on.
type Handler func(msg protocol.Message, conn *Conn)

// Transport wraps point-to-point connections to one or more remote peers.
// Broadcast and Unicast are fire-and-forget: they silently no-op on
// connections that are not open, and callers must not assume delivery.
type Transport interface {
	// CreateAsHost claims the room address and starts accepting peers.
	CreateAsHost(ctx context.Context, roomCode string) error

	// ConnectAsClient dials the room's host. addr is the local transport
	// address to connect under; empty means generate a fresh one.
	ConnectAsClient(ctx context.Context, roomCode, addr string) error

	// Broadcast sends to every open connection. Connections listed in
	// except are skipped, which lets a host keep spectator links out of
	// player-directed traffic.
	Broadcast(msg protocol.Message, except ...*Conn)
	Unicast(conn *Conn, msg protocol.Message)

	// OnMessage registers the inbound message callback. Register before
	// connecting; later registrations replace the callback.
	OnMessage(h Handler)

	// OnPeer is invoked when an inbound connection is accepted (host side),
	// surfacing it to the coordinator as a new peer event.
	OnPeer(h func(conn *Conn))

	// OnDisconnect is invoked when an established connection drops.
	OnDisconnect(h func(conn *Conn))

	// Addr is the local transport address, valid once connected/hosting.
	Addr() string

	Teardown()
}

// Conn is one live point-to-point connection. The zero sink means sends are
// dropped, which keeps Send safe on torn-down connections.
type Conn struct {
	addr string

	mu   sync.Mutex
	open bool
	sink func([]byte)
}

// NewConn builds a connection whose outbound frames are delivered through
// sink. Used by the concrete transports and by test doubles.
func NewConn(addr string, sink func([]byte)) *Conn {
	return &Conn{addr: addr, open: true, sink: sink}
}

// Addr returns the remote peer's transport address.
func (c *Conn) Addr() string { return c.addr }

// Open reports whether the connection still accepts sends.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send queues one frame. Closed connections swallow the frame silently; the
// protocol tolerates loss instead of guaranteeing delivery.
func (c *Conn) Send(frame []byte) {
	c.mu.Lock()
	sink := c.sink
	open := c.open
	c.mu.Unlock()
	if !open || sink == nil {
		return
	}
	sink(frame)
}

// Close marks the connection unusable for further sends.
func (c *Conn) Close() {
	c.mu.Lock()
	c.open = false
	c.sink = nil
	c.mu.Unlock()
}
