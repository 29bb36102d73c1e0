// internal/transport/ws.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

const wsSubprotocol = "peerquiz"

// writeTimeout bounds a single websocket write so one stalled peer cannot
// back up the rest of the room.
const writeTimeout = 3 * time.Second

// WSConfig configures the websocket transport.
type WSConfig struct {
	// Bind is the listen address used when hosting, e.g. ":4000".
	Bind string

	// GatewayURL is the base URL peers dial to reach a host,
	// e.g. "ws://198.51.100.7:4000". For a host this is the address it
	// advertises in invites.
	GatewayURL string

	Logger *logrus.Logger
}

// WS is the websocket transport. The host side runs its own HTTP listener
// and accepts inbound peers on the namespaced room path; the client side
// holds a single dialed connection to the host.
type WS struct {
	cfg WSConfig
	log *logrus.Logger

	mu      sync.Mutex
	addr    string
	server  *http.Server
	links   map[*Conn]*wsLink
	handler Handler
	onPeer  func(*Conn)
	onDrop  func(*Conn)
	closed  bool
}

// wsLink pairs a Conn with its websocket and outbound queue.
type wsLink struct {
	ws     *websocket.Conn
	out    chan []byte
	cancel context.CancelFunc
}

// NewWS builds a websocket transport. The zero logger falls back to the
// logrus standard logger.
func NewWS(cfg WSConfig) *WS {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &WS{
		cfg:   cfg,
		log:   cfg.Logger,
		links: make(map[*Conn]*wsLink),
	}
}

func (t *WS) OnMessage(h Handler)          { t.mu.Lock(); t.handler = h; t.mu.Unlock() }
func (t *WS) OnPeer(h func(conn *Conn))    { t.mu.Lock(); t.onPeer = h; t.mu.Unlock() }
func (t *WS) OnDisconnect(h func(c *Conn)) { t.mu.Lock(); t.onDrop = h; t.mu.Unlock() }

// Addr returns the local transport address.
func (t *WS) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// CreateAsHost claims the room address by binding the listener and
// registering the namespaced room path.
func (t *WS) CreateAsHost(ctx context.Context, roomCode string) error {
	room := RoomAddr(roomCode)

	ln, err := net.Listen("tcp", t.cfg.Bind)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrRoomTaken, room)
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms/"+room, t.acceptPeer)

	srv := &http.Server{
		Handler:      logMiddleware(t.log, mux),
		ReadTimeout:  0, // websocket connections are long-lived
		WriteTimeout: 0,
	}

	t.mu.Lock()
	t.addr = room
	t.server = srv
	t.closed = false
	t.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.WithError(err).Warn("room listener exited")
		}
	}()

	t.log.WithFields(logrus.Fields{"room": room, "bind": ln.Addr().String()}).
		Info("hosting room")
	return nil
}

// acceptPeer upgrades one inbound connection and surfaces it as a new peer.
func (t *WS) acceptPeer(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		t.log.WithError(err).Warn("websocket accept failed")
		return
	}
	if ws.Subprotocol() != wsSubprotocol {
		ws.Close(websocket.StatusPolicyViolation, "client must use the peerquiz subprotocol")
		return
	}

	peerAddr := r.URL.Query().Get("addr")
	if peerAddr == "" {
		peerAddr = uuid.NewString()
	}

	conn := t.attach(peerAddr, ws)
	if conn == nil {
		ws.Close(websocket.StatusGoingAway, "room is shutting down")
		return
	}

	t.mu.Lock()
	onPeer := t.onPeer
	t.mu.Unlock()
	if onPeer != nil {
		onPeer(conn)
	}

	t.readLoop(r.Context(), conn, ws)
}

// ConnectAsClient dials the host's room endpoint. A fresh transport address
// is generated unless the caller supplies the persisted one.
func (t *WS) ConnectAsClient(ctx context.Context, roomCode, addr string) error {
	if addr == "" {
		addr = roomCode + "-" + uuid.NewString()[:8]
	}

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	url := strings.TrimSuffix(t.cfg.GatewayURL, "/") + "/rooms/" + RoomAddr(roomCode) + "?addr=" + addr
	ws, resp, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		switch {
		case resp != nil && resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomCode)
		case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
			return ErrTimeout
		default:
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	t.mu.Lock()
	t.addr = addr
	t.closed = false
	t.mu.Unlock()

	conn := t.attach(RoomAddr(roomCode), ws)
	if conn == nil {
		ws.Close(websocket.StatusGoingAway, "transport torn down")
		return ErrConnection
	}

	go t.readLoop(context.Background(), conn, ws)
	t.log.WithFields(logrus.Fields{"room": roomCode, "addr": addr}).Info("joined room")
	return nil
}

// attach registers a websocket under a new Conn and starts its write pump.
func (t *WS) attach(peerAddr string, ws *websocket.Conn) *Conn {
	link := &wsLink{ws: ws, out: make(chan []byte, 32)}

	conn := NewConn(peerAddr, func(frame []byte) {
		select {
		case link.out <- frame:
		default:
			// Queue full: drop. The protocol re-delivers what matters
			// (timer-sync every second, snapshots on reconnect).
			t.log.WithField("peer", peerAddr).Warn("outbound queue full, frame dropped")
		}
	})

	pumpCtx, cancel := context.WithCancel(context.Background())
	link.cancel = cancel

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return nil
	}
	t.links[conn] = link
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case frame := <-link.out:
				wctx, wcancel := context.WithTimeout(pumpCtx, writeTimeout)
				err := ws.Write(wctx, websocket.MessageText, frame)
				wcancel()
				if err != nil {
					t.log.WithField("peer", peerAddr).WithError(err).Debug("websocket write failed")
					return
				}
			}
		}
	}()

	return conn
}

// readLoop decodes inbound frames and hands them to the message callback
// until the connection drops.
func (t *WS) readLoop(ctx context.Context, conn *Conn, ws *websocket.Conn) {
	defer t.detach(conn)

	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				t.log.WithField("peer", conn.Addr()).Debug("peer closed connection")
			} else if ctx.Err() == nil {
				t.log.WithField("peer", conn.Addr()).WithError(err).Debug("websocket read failed")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed or unknown frames are dropped, never raised.
			t.log.WithField("peer", conn.Addr()).WithError(err).Debug("dropping bad frame")
			continue
		}

		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()
		if handler != nil {
			handler(msg, conn)
		}
	}
}

// detach tears down one connection and notifies the disconnect callback.
func (t *WS) detach(conn *Conn) {
	t.mu.Lock()
	link, ok := t.links[conn]
	if ok {
		delete(t.links, conn)
	}
	onDrop := t.onDrop
	closed := t.closed
	t.mu.Unlock()

	if !ok {
		return
	}
	conn.Close()
	link.cancel()
	link.ws.Close(websocket.StatusNormalClosure, "")

	if onDrop != nil && !closed {
		onDrop(conn)
	}
}

// Broadcast encodes once and queues the frame on every open connection not
// listed in except.
func (t *WS) Broadcast(msg protocol.Message, except ...*Conn) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		t.log.WithError(err).Error("broadcast encode failed")
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

// Unicast sends one message to a single peer, silently dropping it if the
// connection is no longer open.
func (t *WS) Unicast(conn *Conn, msg protocol.Message) {
	if conn == nil {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		t.log.WithError(err).Error("unicast encode failed")
		return
	}
	conn.Send(frame)
}

// Teardown closes every connection and stops the host listener.
func (t *WS) Teardown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	links := t.links
	t.links = make(map[*Conn]*wsLink)
	srv := t.server
	t.server = nil
	t.addr = ""
	t.mu.Unlock()

	for conn, link := range links {
		conn.Close()
		link.cancel()
		link.ws.Close(websocket.StatusNormalClosure, "room closed")
	}

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(ctx)
		cancel()
	}
}
