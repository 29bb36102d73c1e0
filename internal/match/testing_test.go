// internal/match/testing_test.go
package match

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/peerquiz/peerquiz/internal/oracle"
	"github.com/peerquiz/peerquiz/internal/protocol"
	"github.com/peerquiz/peerquiz/internal/session"
	"github.com/peerquiz/peerquiz/internal/transport"
)

// recorder is a transport double that records every outbound message instead
// of delivering it.
type recorder struct {
	mu         sync.Mutex
	addr       string
	handler    transport.Handler
	onPeer     func(*transport.Conn)
	onDrop     func(*transport.Conn)
	broadcasts []broadcastRec
	unicasts   []unicastRec
	tornDown   bool
}

type broadcastRec struct {
	msg    protocol.Message
	except []*transport.Conn
}

type unicastRec struct {
	conn *transport.Conn
	msg  protocol.Message
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) CreateAsHost(_ context.Context, roomCode string) error {
	r.mu.Lock()
	r.addr = transport.RoomAddr(roomCode)
	r.tornDown = false
	r.mu.Unlock()
	return nil
}

func (r *recorder) ConnectAsClient(_ context.Context, roomCode, addr string) error {
	if addr == "" {
		addr = roomCode + "-test"
	}
	r.mu.Lock()
	r.addr = addr
	r.tornDown = false
	r.mu.Unlock()
	return nil
}

func (r *recorder) Broadcast(msg protocol.Message, except ...*transport.Conn) {
	r.mu.Lock()
	r.broadcasts = append(r.broadcasts, broadcastRec{msg: msg, except: except})
	r.mu.Unlock()
}

func (r *recorder) Unicast(conn *transport.Conn, msg protocol.Message) {
	r.mu.Lock()
	r.unicasts = append(r.unicasts, unicastRec{conn: conn, msg: msg})
	r.mu.Unlock()
}

func (r *recorder) OnMessage(h transport.Handler)        { r.mu.Lock(); r.handler = h; r.mu.Unlock() }
func (r *recorder) OnPeer(h func(*transport.Conn))       { r.mu.Lock(); r.onPeer = h; r.mu.Unlock() }
func (r *recorder) OnDisconnect(h func(*transport.Conn)) { r.mu.Lock(); r.onDrop = h; r.mu.Unlock() }

func (r *recorder) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

func (r *recorder) Teardown() { r.mu.Lock(); r.tornDown = true; r.mu.Unlock() }

func (r *recorder) broadcastsOf(kind protocol.Kind) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, b := range r.broadcasts {
		if b.msg.Kind() == kind {
			out = append(out, b.msg)
		}
	}
	return out
}

// lastExcept returns the excluded connections of the newest broadcast of the
// given kind.
func (r *recorder) lastExcept(kind protocol.Kind) []*transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.broadcasts) - 1; i >= 0; i-- {
		if r.broadcasts[i].msg.Kind() == kind {
			return r.broadcasts[i].except
		}
	}
	return nil
}

func (r *recorder) lastBroadcast(kind protocol.Kind) protocol.Message {
	msgs := r.broadcastsOf(kind)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (r *recorder) unicastsTo(conn *transport.Conn) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, u := range r.unicasts {
		if u.conn == conn {
			out = append(out, u.msg)
		}
	}
	return out
}

// stubOracle serves a fixed target and an explicit equivalence table.
type stubOracle struct {
	target string
	twins  map[string]string
}

func (s stubOracle) PickRandomTarget(protocol.QuestionFilter) (string, error) {
	if s.target == "" {
		return "", oracle.ErrNoCandidates
	}
	return s.target, nil
}

func (s stubOracle) IsEquivalent(candidateID, targetID string) bool {
	return candidateID == targetID || s.twins[candidateID] == targetID
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newHostRoom creates a hosting room with collapsed timers: the countdown
// runs inline and round advancement is parked until a test asks for it.
func newHostRoom(t *testing.T, store session.Store) (*Room, *recorder) {
	t.Helper()
	rec := newRecorder()
	if store == nil {
		store = session.NewMemoryStore()
	}
	r := NewRoom(Config{
		Transport: rec,
		Sessions:  store,
		Oracle:    stubOracle{target: "q-target", twins: map[string]string{"q-twin": "q-target"}},
		Logger:    quietLogger(),
		SelfName:  "Host",
	})
	r.countdownInterval = 0
	r.advanceDelay = time.Hour
	r.endDelay = 0

	_, err := r.CreateRoom(context.Background(), "")
	require.NoError(t, err)
	return r, rec
}

// joinPlayer delivers a join announcement for a fresh peer connection.
func joinPlayer(r *Room, id, name string) *transport.Conn {
	conn := transport.NewConn("addr-"+id, nil)
	r.handleMessage(&protocol.PlayerInfo{ID: id, Name: name, Role: protocol.RolePlayer}, conn)
	return conn
}

// rejoinToken digs the minted token out of the full-state unicast a peer
// received on join.
func rejoinToken(t *testing.T, rec *recorder, conn *transport.Conn) string {
	t.Helper()
	for _, msg := range rec.unicastsTo(conn) {
		if fs, ok := msg.(*protocol.FullState); ok {
			return fs.RejoinToken
		}
	}
	t.Fatal("no full-state unicast for connection")
	return ""
}

// startUntimedMatch joins one opponent and starts an untimed match so round
// resolution is driven purely by answers.
func startUntimedMatch(t *testing.T, r *Room) *transport.Conn {
	t.Helper()
	r.Settings.TimeLimit = 0
	conn := joinPlayer(r, "p2", "Guest")
	require.NoError(t, r.StartMatch())
	require.Equal(t, protocol.StatePlaying, r.State)
	return conn
}
