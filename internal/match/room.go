// internal/match/room.go
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/peerquiz/peerquiz/internal/auth"
	"github.com/peerquiz/peerquiz/internal/oracle"
	"github.com/peerquiz/peerquiz/internal/protocol"
	"github.com/peerquiz/peerquiz/internal/session"
	"github.com/peerquiz/peerquiz/internal/transport"
)

var (
	// ErrNotHost is returned when a host-only intent is invoked on a mirror.
	ErrNotHost = errors.New("match: operation requires the host role")

	// ErrNotEnoughPlayers is returned when a match start is attempted with
	// fewer than two connected players.
	ErrNotEnoughPlayers = errors.New("match: need at least two connected players")

	// ErrBadState is returned when an intent is invalid in the current
	// lifecycle state.
	ErrBadState = errors.New("match: invalid state for operation")
)

// Config wires a Room's collaborators.
type Config struct {
	Transport transport.Transport
	Sessions  session.Store
	Oracle    oracle.Oracle
	Logger    *logrus.Logger

	// SelfName is the local display name. Empty picks a generated one.
	SelfName string

	// OnChange fires after every observable state change. It runs outside
	// the room lock, so it may call Snapshot.
	OnChange func()
}

// Room is one participant's view of a quiz room. Exactly one peer per room
// runs the host strategy and owns every transition; all other peers run the
// mirror strategy and apply host broadcasts verbatim.
type Room struct {
	mu  sync.Mutex
	log *logrus.Logger

	tr       transport.Transport
	sessions session.Store
	oracle   oracle.Oracle

	Code     string
	State    protocol.State
	Settings protocol.RoomSettings

	Players    []*protocol.Player
	Spectators []*protocol.Player

	CurrentRound *protocol.Round
	RoundNumber  int
	Countdown    int
	Elapsed      int
	MatchWinner  string

	// Err holds the latest host rejection surfaced to this peer.
	Err string

	SelfID   string
	SelfName string
	role     protocol.Role

	strategy strategy

	// Host-side connection registries, keyed by participant ID.
	playerConns    map[string]*transport.Conn
	spectatorConns map[string]*transport.Conn
	forfeited      map[string]bool

	passcodeHash string
	secret       []byte

	roundStartedAt time.Time

	// timerGen invalidates in-flight timers: every callback captures the
	// generation at schedule time and aborts if it has moved on.
	timerGen       int
	tickTimer      *time.Timer
	advanceTimer   *time.Timer
	countdownTimer *time.Timer

	reconnector *reconnector
	closing     bool

	// reconnectSleep overrides the reconnect backoff wait. Nil uses the
	// real clock; tests substitute an instant one.
	reconnectSleep func(ctx context.Context, d time.Duration) error

	onChange func()

	// Intervals are fields so tests can collapse the timers. A non-positive
	// value runs the callback inline.
	tickInterval      time.Duration
	countdownInterval time.Duration
	advanceDelay      time.Duration
	endDelay          time.Duration
}

// NewRoom builds an idle room bound to a transport. It registers the
// transport callbacks immediately, so the same Room serves a full
// create/join/leave cycle.
func NewRoom(cfg Config) *Room {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	name := cfg.SelfName
	if name == "" {
		name = protocol.RandomPlayerName()
	}

	r := &Room{
		log:      log,
		tr:       cfg.Transport,
		sessions: cfg.Sessions,
		oracle:   cfg.Oracle,
		State:    protocol.StateIdle,
		Settings: protocol.DefaultRoomSettings(),
		SelfID:   uuid.NewString(),
		SelfName: name,
		onChange: cfg.OnChange,

		playerConns:    make(map[string]*transport.Conn),
		spectatorConns: make(map[string]*transport.Conn),
		forfeited:      make(map[string]bool),

		tickInterval:      time.Second,
		countdownInterval: time.Second,
		advanceDelay:      3 * time.Second,
		endDelay:          2 * time.Second,
	}

	r.tr.OnMessage(r.handleMessage)
	r.tr.OnPeer(r.handlePeer)
	r.tr.OnDisconnect(r.handleDisconnect)
	return r
}

// Role returns the local participant's role.
func (r *Room) Role() protocol.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.role
}

// CreateRoom claims a fresh room code as host. An empty passcode leaves the
// room open.
func (r *Room) CreateRoom(ctx context.Context, passcode string) (string, error) {
	code := protocol.NewRoomCode()
	secret, err := auth.NewRoomSecret()
	if err != nil {
		return "", err
	}
	var passHash string
	if passcode != "" {
		passHash, err = auth.HashPasscode(passcode)
		if err != nil {
			return "", err
		}
	}

	if err := r.tr.CreateAsHost(ctx, code); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.Code = code
	r.role = protocol.RoleHost
	r.strategy = hostStrategy{}
	r.secret = secret
	r.passcodeHash = passHash
	r.State = protocol.StateWaiting
	r.Players = []*protocol.Player{{
		ID:        r.SelfID,
		Name:      r.SelfName,
		Role:      protocol.RoleHost,
		Connected: true,
	}}
	r.persistSessionLocked(ctx, "")
	r.persistSnapshotLocked(ctx)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"room": code, "host": r.SelfID}).Info("room created")
	r.notify()
	return code, nil
}

// Join connects to an existing room as a player and announces the local
// identity to the host. The lobby state arrives asynchronously as a
// full-state push.
func (r *Room) Join(ctx context.Context, roomCode, passcode string) error {
	return r.connect(ctx, roomCode, passcode, protocol.RolePlayer)
}

// Watch connects to an existing room as a spectator.
func (r *Room) Watch(ctx context.Context, roomCode, passcode string) error {
	return r.connect(ctx, roomCode, passcode, protocol.RoleSpectator)
}

func (r *Room) connect(ctx context.Context, roomCode, passcode string, role protocol.Role) error {
	if err := r.tr.ConnectAsClient(ctx, roomCode, ""); err != nil {
		return fmt.Errorf("match: connect to room %s: %w", roomCode, err)
	}

	r.mu.Lock()
	r.Code = roomCode
	r.role = role
	r.strategy = mirrorStrategy{}
	r.State = protocol.StateWaiting
	// The rejoin token arrives later with the full-state push; a token-less
	// record still makes the seat resumable if that push is lost.
	r.persistSessionLocked(ctx, "")
	r.mu.Unlock()

	r.tr.Broadcast(&protocol.PlayerInfo{
		ID:       r.SelfID,
		Name:     r.SelfName,
		Role:     role,
		Passcode: passcode,
	})
	r.log.WithFields(logrus.Fields{"room": roomCode, "role": role}).Info("joined room")
	r.notify()
	return nil
}

// StartMatch begins the countdown. Host only, lobby only, and at least two
// connected players must be present.
func (r *Room) StartMatch() error {
	r.mu.Lock()
	if r.role != protocol.RoleHost {
		r.mu.Unlock()
		return ErrNotHost
	}
	if r.State != protocol.StateLobby && r.State != protocol.StateWaiting {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, r.State)
	}
	if r.connectedPlayersLocked() < 2 {
		r.mu.Unlock()
		return ErrNotEnoughPlayers
	}
	r.beginCountdownLocked()
	r.mu.Unlock()
	r.notify()
	return nil
}

// UpdateSettings replaces the room settings and broadcasts them. Host only;
// settings are frozen once the countdown starts.
func (r *Room) UpdateSettings(s protocol.RoomSettings) error {
	r.mu.Lock()
	if r.role != protocol.RoleHost {
		r.mu.Unlock()
		return ErrNotHost
	}
	if r.State != protocol.StateLobby && r.State != protocol.StateWaiting {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, r.State)
	}
	r.Settings = s
	r.broadcastPlayersLocked(&protocol.RoomSettingsMsg{Settings: s})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())
	r.mu.Unlock()
	r.notify()
	return nil
}

// SubmitGuess locks in the local player's answer for the open round. On the
// host it resolves directly; on a mirror it is sent to the host, which owns
// correctness and scoring.
func (r *Room) SubmitGuess(questionID string) error {
	if questionID == "" {
		return fmt.Errorf("%w: empty guess", ErrBadState)
	}

	r.mu.Lock()
	if r.State != protocol.StatePlaying {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, r.State)
	}
	guess := &protocol.Guess{PlayerID: r.SelfID, QuestionID: questionID}
	if r.role == protocol.RoleHost {
		hostStrategy{}.applyGuess(r, guess)
		r.mu.Unlock()
		r.notify()
		return nil
	}
	if p := r.findPlayerLocked(r.SelfID); p != nil {
		p.HasAnswered = true
	}
	r.mu.Unlock()

	r.tr.Broadcast(guess)
	r.notify()
	return nil
}

// Restart resets scores and replays the countdown with the same settings and
// participants. Host only, match-end only.
func (r *Room) Restart() error {
	r.mu.Lock()
	if r.role != protocol.RoleHost {
		r.mu.Unlock()
		return ErrNotHost
	}
	if r.State != protocol.StateMatchEnd {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, r.State)
	}
	r.resetMatchLocked()
	r.broadcastPlayersLocked(&protocol.RestartGame{})
	r.beginCountdownLocked()
	r.mu.Unlock()
	r.notify()
	return nil
}

// Forfeit concedes the match for the local player.
func (r *Room) Forfeit() error {
	r.mu.Lock()
	if r.State != protocol.StatePlaying && r.State != protocol.StateRoundEnd {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, r.State)
	}
	msg := &protocol.Forfeit{PlayerID: r.SelfID}
	if r.role == protocol.RoleHost {
		hostStrategy{}.applyForfeit(r, msg)
		r.mu.Unlock()
		r.notify()
		return nil
	}
	r.mu.Unlock()

	r.tr.Broadcast(msg)
	return nil
}

// Leave tears the room down: timers cancelled, session cleared, transport
// closed, state back to idle. The player record on the host side survives as
// disconnected, so Leave never forecloses a later rejoin by someone else.
func (r *Room) Leave(ctx context.Context) {
	r.mu.Lock()
	r.closing = true
	r.timerGen++
	r.stopTimersLocked()
	if r.reconnector != nil {
		r.reconnector.stop()
		r.reconnector = nil
	}
	wasHost := r.role == protocol.RoleHost
	code := r.Code

	r.Code = ""
	r.State = protocol.StateIdle
	r.Settings = protocol.DefaultRoomSettings()
	r.Players = nil
	r.Spectators = nil
	r.CurrentRound = nil
	r.RoundNumber = 0
	r.Countdown = 0
	r.Elapsed = 0
	r.MatchWinner = ""
	r.Err = ""
	r.role = ""
	r.strategy = nil
	r.playerConns = make(map[string]*transport.Conn)
	r.spectatorConns = make(map[string]*transport.Conn)
	r.forfeited = make(map[string]bool)
	r.secret = nil
	r.passcodeHash = ""
	r.mu.Unlock()

	if r.sessions != nil {
		if err := r.sessions.ClearSession(ctx); err != nil {
			r.log.WithError(err).Warn("clear session")
		}
		if wasHost && code != "" {
			if err := r.sessions.ClearSnapshot(ctx, code); err != nil {
				r.log.WithError(err).Warn("clear snapshot")
			}
		}
	}
	r.tr.Teardown()

	r.mu.Lock()
	r.closing = false
	r.mu.Unlock()
	r.notify()
}

// Snapshot returns a deep copy of the current room state.
func (r *Room) Snapshot() protocol.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// IsReconnecting reports whether the automatic reconnect loop is running.
func (r *Room) IsReconnecting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnector != nil && r.reconnector.running()
}

// --- transport callbacks ---

func (r *Room) handleMessage(msg protocol.Message, conn *transport.Conn) {
	r.mu.Lock()
	if r.strategy == nil {
		r.mu.Unlock()
		return
	}
	r.strategy.apply(r, msg, conn)
	r.mu.Unlock()
	r.notify()
}

// handlePeer fires on the host when an inbound connection is accepted. The
// connection stays anonymous until its player-info or reconnect arrives.
func (r *Room) handlePeer(conn *transport.Conn) {
	r.log.WithField("addr", conn.Addr()).Debug("peer connected")
}

func (r *Room) handleDisconnect(conn *transport.Conn) {
	r.mu.Lock()
	if r.closing || r.State == protocol.StateIdle {
		r.mu.Unlock()
		return
	}

	if r.role == protocol.RoleHost {
		hostStrategy{}.applyDisconnect(r, conn)
		r.mu.Unlock()
		r.notify()
		return
	}

	// Mirror side: the link to the host dropped. Spectators and players both
	// try to come back; only an explicit Leave gives up the seat.
	r.startReconnectLocked()
	r.mu.Unlock()
	r.notify()
}

// --- shared locked helpers ---

func (r *Room) findPlayerLocked(id string) *protocol.Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) findSpectatorLocked(id string) *protocol.Player {
	for _, p := range r.Spectators {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) connectedPlayersLocked() int {
	n := 0
	for _, p := range r.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

// eligibleLocked reports players still competing: connected and not
// forfeited.
func (r *Room) eligibleLocked() []*protocol.Player {
	var out []*protocol.Player
	for _, p := range r.Players {
		if p.Connected && !r.forfeited[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) snapshotLocked() protocol.RoomSnapshot {
	snap := protocol.RoomSnapshot{
		RoomCode:    r.Code,
		State:       r.State,
		Settings:    r.Settings,
		RoundNumber: r.RoundNumber,
		Elapsed:     r.Elapsed,
	}
	for _, p := range r.Players {
		snap.Players = append(snap.Players, *p)
	}
	for _, s := range r.Spectators {
		snap.Spectators = append(snap.Spectators, *s)
	}
	if r.CurrentRound != nil {
		round := *r.CurrentRound
		round.Results = append([]protocol.RoundOutcome(nil), r.CurrentRound.Results...)
		snap.CurrentRound = &round
	}
	return snap
}

func (r *Room) persistSessionLocked(ctx context.Context, rejoinToken string) {
	if r.sessions == nil {
		return
	}
	sess := &protocol.Session{
		RoomCode:      r.Code,
		PlayerName:    r.SelfName,
		PlayerID:      r.SelfID,
		Role:          r.role,
		TransportAddr: r.tr.Addr(),
		RejoinToken:   rejoinToken,
	}
	if r.role == protocol.RoleHost {
		sess.RoomSecret = r.secret
	}
	if err := r.sessions.SaveSession(ctx, sess); err != nil {
		r.log.WithError(err).Warn("persist session")
	}
}

func (r *Room) persistSnapshotLocked(ctx context.Context) {
	if r.sessions == nil || r.role != protocol.RoleHost {
		return
	}
	snap := r.snapshotLocked()
	if err := r.sessions.SaveSnapshot(ctx, &snap); err != nil {
		r.log.WithError(err).Warn("persist snapshot")
	}
}

// broadcastPlayersLocked sends a host state message to every connection
// except the spectator links; spectators only ever see full snapshots. On a
// mirror the single link goes to the host, so nothing is excluded.
func (r *Room) broadcastPlayersLocked(msg protocol.Message) {
	if len(r.spectatorConns) == 0 {
		r.tr.Broadcast(msg)
		return
	}
	except := make([]*transport.Conn, 0, len(r.spectatorConns))
	for _, c := range r.spectatorConns {
		except = append(except, c)
	}
	r.tr.Broadcast(msg, except...)
}

// fanOutSpectatorsLocked pushes a fresh full snapshot to every spectator.
// Spectators get snapshots instead of deltas so they can never drift.
func (r *Room) fanOutSpectatorsLocked() {
	if len(r.spectatorConns) == 0 {
		return
	}
	state := &protocol.SpectatorState{Room: r.snapshotLocked()}
	for _, conn := range r.spectatorConns {
		r.tr.Unicast(conn, state)
	}
}

func (r *Room) resetMatchLocked() {
	r.timerGen++
	r.stopTimersLocked()
	r.CurrentRound = nil
	r.RoundNumber = 0
	r.Elapsed = 0
	r.MatchWinner = ""
	r.forfeited = make(map[string]bool)
	for _, p := range r.Players {
		p.Score = 0
		p.AnswerTimeMS = 0
		p.ResetAnswer()
	}
}

func (r *Room) stopTimersLocked() {
	if r.tickTimer != nil {
		r.tickTimer.Stop()
		r.tickTimer = nil
	}
	if r.advanceTimer != nil {
		r.advanceTimer.Stop()
		r.advanceTimer = nil
	}
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
}

func (r *Room) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}
