// internal/transport/memory.go
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

// Network is an in-process rendezvous for Memory transports. It stands in
// for the real peer network in tests and the local demo mode, with the same
// semantics: claimed room addresses, at-most-once delivery, silent drops on
// closed connections.
type Network struct {
	mu    sync.Mutex
	rooms map[string]*Memory
}

// NewNetwork creates an empty in-process peer network.
func NewNetwork() *Network {
	return &Network{rooms: make(map[string]*Memory)}
}

// NewPeer creates a transport endpoint attached to this network.
func (n *Network) NewPeer() *Memory {
	return &Memory{net: n, links: make(map[*Conn]*memLink)}
}

// Memory is the in-process transport endpoint.
type Memory struct {
	net *Network

	mu      sync.Mutex
	addr    string
	room    string // claimed room address when hosting
	links   map[*Conn]*memLink
	handler Handler
	onPeer  func(*Conn)
	onDrop  func(*Conn)
	inbox   chan inboundFrame
	done    chan struct{}
}

// memLink wires a local Conn to the remote endpoint it delivers into.
type memLink struct {
	remote     *Memory
	remoteConn *Conn // the Conn representing us on the remote side
}

type inboundFrame struct {
	frame []byte
	conn  *Conn
}

func (t *Memory) OnMessage(h Handler)          { t.mu.Lock(); t.handler = h; t.mu.Unlock() }
func (t *Memory) OnPeer(h func(conn *Conn))    { t.mu.Lock(); t.onPeer = h; t.mu.Unlock() }
func (t *Memory) OnDisconnect(h func(c *Conn)) { t.mu.Lock(); t.onDrop = h; t.mu.Unlock() }

func (t *Memory) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// dispatch runs the endpoint's single delivery loop so message handling is
// serialized exactly like a real event loop.
func (t *Memory) dispatch() {
	for {
		select {
		case <-t.done:
			return
		case in := <-t.inbox:
			msg, err := protocol.Decode(in.frame)
			if err != nil {
				continue // malformed frames are dropped
			}
			t.mu.Lock()
			handler := t.handler
			t.mu.Unlock()
			if handler != nil {
				handler(msg, in.conn)
			}
		}
	}
}

func (t *Memory) start() {
	t.mu.Lock()
	if t.inbox == nil {
		t.inbox = make(chan inboundFrame, 64)
		t.done = make(chan struct{})
		go t.dispatch()
	}
	t.mu.Unlock()
}

// CreateAsHost claims the namespaced room address on the network.
func (t *Memory) CreateAsHost(ctx context.Context, roomCode string) error {
	room := RoomAddr(roomCode)

	t.net.mu.Lock()
	if _, taken := t.net.rooms[room]; taken {
		t.net.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomTaken, room)
	}
	t.net.rooms[room] = t
	t.net.mu.Unlock()

	t.mu.Lock()
	t.addr = room
	t.room = room
	t.mu.Unlock()
	t.start()
	return nil
}

// ConnectAsClient pairs this endpoint with the room's host.
func (t *Memory) ConnectAsClient(ctx context.Context, roomCode, addr string) error {
	if addr == "" {
		addr = roomCode + "-" + uuid.NewString()[:8]
	}

	t.net.mu.Lock()
	host, ok := t.net.rooms[RoomAddr(roomCode)]
	t.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomCode)
	}

	t.mu.Lock()
	t.addr = addr
	t.mu.Unlock()
	t.start()
	host.start()

	// Build the connection pair: ours pointing at the host, the host's
	// pointing back at us under our address.
	var localConn, hostConn *Conn
	localConn = NewConn(RoomAddr(roomCode), func(frame []byte) {
		host.deliver(frame, hostConn)
	})
	hostConn = NewConn(addr, func(frame []byte) {
		t.deliver(frame, localConn)
	})

	t.mu.Lock()
	t.links[localConn] = &memLink{remote: host, remoteConn: hostConn}
	t.mu.Unlock()

	host.mu.Lock()
	host.links[hostConn] = &memLink{remote: t, remoteConn: localConn}
	onPeer := host.onPeer
	host.mu.Unlock()

	if onPeer != nil {
		onPeer(hostConn)
	}
	return nil
}

// deliver queues one inbound frame for the dispatch loop.
func (t *Memory) deliver(frame []byte, conn *Conn) {
	t.mu.Lock()
	inbox := t.inbox
	t.mu.Unlock()
	if inbox == nil {
		return
	}
	select {
	case inbox <- inboundFrame{frame: frame, conn: conn}:
	default:
		// Full inbox behaves like a lossy network.
	}
}

func (t *Memory) Broadcast(msg protocol.Message, except ...*Conn) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	skip := make(map[*Conn]bool, len(except))
	for _, c := range except {
		skip[c] = true
	}
	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.links))
	for c := range t.links {
		if skip[c] {
			continue
		}
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		c.Send(frame)
	}
}

func (t *Memory) Unicast(conn *Conn, msg protocol.Message) {
	if conn == nil {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	conn.Send(frame)
}

// Drop severs one link from this side, notifying the remote endpoint's
// disconnect callback. Tests use it to simulate network loss.
func (t *Memory) Drop(conn *Conn) {
	t.mu.Lock()
	link, ok := t.links[conn]
	if ok {
		delete(t.links, conn)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	conn.Close()

	link.remote.mu.Lock()
	delete(link.remote.links, link.remoteConn)
	onDrop := link.remote.onDrop
	link.remote.mu.Unlock()
	link.remoteConn.Close()
	if onDrop != nil {
		onDrop(link.remoteConn)
	}
}

// Teardown closes every link and releases the claimed room address.
func (t *Memory) Teardown() {
	t.mu.Lock()
	links := t.links
	t.links = make(map[*Conn]*memLink)
	room := t.room
	t.room = ""
	t.addr = ""
	done := t.done
	t.done = nil
	t.inbox = nil
	t.mu.Unlock()

	if done != nil {
		close(done)
	}

	for conn, link := range links {
		conn.Close()
		link.remote.mu.Lock()
		delete(link.remote.links, link.remoteConn)
		onDrop := link.remote.onDrop
		link.remote.mu.Unlock()
		link.remoteConn.Close()
		if onDrop != nil {
			onDrop(link.remoteConn)
		}
	}

	if room != "" {
		t.net.mu.Lock()
		delete(t.net.rooms, room)
		t.net.mu.Unlock()
	}
}
