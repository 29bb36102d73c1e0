// internal/match/strategy.go
package match

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peerquiz/peerquiz/internal/auth"
	"github.com/peerquiz/peerquiz/internal/protocol"
	"github.com/peerquiz/peerquiz/internal/transport"
)

// strategy is the per-role message policy. The host strategy consumes peer
// intents and emits authoritative broadcasts; the mirror strategy applies
// those broadcasts and never decides anything on its own.
type strategy interface {
	apply(r *Room, msg protocol.Message, conn *transport.Conn)
}

type hostStrategy struct{}

func (h hostStrategy) apply(r *Room, msg protocol.Message, conn *transport.Conn) {
	switch m := msg.(type) {
	case *protocol.PlayerInfo:
		h.applyPlayerInfo(r, m, conn)
	case *protocol.Guess:
		h.applyGuess(r, m)
	case *protocol.Reconnect:
		h.applyReconnect(r, m, conn)
	case *protocol.Forfeit:
		h.applyForfeit(r, m)
	default:
		// Hosts never accept state messages from peers; only the four
		// intents above may move the room.
	}
}

func (h hostStrategy) applyPlayerInfo(r *Room, m *protocol.PlayerInfo, conn *transport.Conn) {
	if conn == nil {
		return
	}
	if r.passcodeHash != "" {
		ok, err := auth.VerifyPasscode(m.Passcode, r.passcodeHash)
		if err != nil || !ok {
			r.tr.Unicast(conn, &protocol.ErrorMsg{Message: "invalid passcode"})
			return
		}
	}

	id := m.ID
	if id == "" {
		r.tr.Unicast(conn, &protocol.ErrorMsg{Message: "missing player id"})
		return
	}
	name := m.Name
	if name == "" {
		name = protocol.RandomPlayerName()
	}

	if m.Role == protocol.RoleSpectator {
		spec := r.findSpectatorLocked(id)
		if spec == nil {
			spec = &protocol.Player{ID: id, Name: name, Role: protocol.RoleSpectator}
			r.Spectators = append(r.Spectators, spec)
		}
		spec.Connected = true
		r.spectatorConns[id] = conn
		token := h.mintToken(r, id)
		r.tr.Unicast(conn, &protocol.FullState{Room: r.snapshotLocked(), RejoinToken: token})
		r.persistSnapshotLocked(context.Background())
		r.log.WithFields(logrus.Fields{"room": r.Code, "spectator": id}).Info("spectator joined")
		return
	}

	existing := r.findPlayerLocked(id)
	if existing == nil {
		if r.State != protocol.StateWaiting && r.State != protocol.StateLobby {
			r.tr.Unicast(conn, &protocol.ErrorMsg{Message: "match already in progress"})
			return
		}
		existing = &protocol.Player{ID: id, Name: name, Role: protocol.RolePlayer}
		r.Players = append(r.Players, existing)
	}
	existing.Connected = true
	r.playerConns[id] = conn

	if r.State == protocol.StateWaiting && r.connectedPlayersLocked() >= 2 {
		r.State = protocol.StateLobby
	}

	token := h.mintToken(r, id)
	r.tr.Unicast(conn, &protocol.FullState{Room: r.snapshotLocked(), RejoinToken: token})
	r.broadcastPlayersLocked(&protocol.PlayerJoined{Player: *existing})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())
	r.log.WithFields(logrus.Fields{"room": r.Code, "player": id, "name": existing.Name}).Info("player joined")
}

func (h hostStrategy) applyGuess(r *Room, m *protocol.Guess) {
	if r.State != protocol.StatePlaying || r.CurrentRound == nil || r.CurrentRound.Resolved() {
		return
	}
	p := r.findPlayerLocked(m.PlayerID)
	if p == nil || r.forfeited[p.ID] || p.HasAnswered || m.QuestionID == "" {
		return
	}

	p.LastGuess = m.QuestionID
	p.LastGuessAt = time.Now().UnixMilli()
	p.HasAnswered = true

	r.broadcastPlayersLocked(&protocol.PlayerAnswered{PlayerID: p.ID})
	r.fanOutSpectatorsLocked()

	if r.allEligibleAnsweredLocked() {
		r.resolveRoundLocked()
	}
}

func (h hostStrategy) applyReconnect(r *Room, m *protocol.Reconnect, conn *transport.Conn) {
	if conn == nil {
		return
	}
	playerID, err := auth.VerifyRejoinToken(r.secret, r.Code, m.Token)
	if err != nil || playerID != m.PlayerID {
		r.tr.Unicast(conn, &protocol.ErrorMsg{Message: "invalid rejoin token"})
		return
	}

	if spec := r.findSpectatorLocked(playerID); spec != nil {
		spec.Connected = true
		r.spectatorConns[playerID] = conn
		r.tr.Unicast(conn, &protocol.FullState{Room: r.snapshotLocked(), RejoinToken: m.Token})
		return
	}

	p := r.findPlayerLocked(playerID)
	if p == nil {
		r.tr.Unicast(conn, &protocol.ErrorMsg{Message: "unknown player"})
		return
	}
	p.Connected = true
	if m.Name != "" {
		p.Name = m.Name
	}
	r.playerConns[playerID] = conn

	r.tr.Unicast(conn, &protocol.FullState{Room: r.snapshotLocked(), RejoinToken: m.Token})
	r.broadcastPlayersLocked(&protocol.PlayerJoined{Player: *p})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())
	r.log.WithFields(logrus.Fields{"room": r.Code, "player": playerID}).Info("player reconnected")
}

func (h hostStrategy) applyForfeit(r *Room, m *protocol.Forfeit) {
	p := r.findPlayerLocked(m.PlayerID)
	if p == nil || r.forfeited[p.ID] {
		return
	}
	if r.State != protocol.StatePlaying && r.State != protocol.StateRoundEnd {
		return
	}
	r.forfeited[p.ID] = true
	// A forfeit is a departure: the seat goes dark for everyone, and the
	// player-left broadcast carries it to the mirrors.
	p.Connected = false
	delete(r.playerConns, p.ID)
	r.broadcastPlayersLocked(&protocol.PlayerLeft{PlayerID: p.ID})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())
	r.log.WithFields(logrus.Fields{"room": r.Code, "player": p.ID}).Info("player forfeited")

	eligible := r.eligibleLocked()
	if len(eligible) == 1 {
		r.endMatchLocked(eligible[0].ID)
		return
	}
	if r.State == protocol.StatePlaying && r.allEligibleAnsweredLocked() {
		r.resolveRoundLocked()
	}
}

// applyDisconnect marks a dropped peer as disconnected without removing its
// record, so a later reconnect restores the seat.
func (h hostStrategy) applyDisconnect(r *Room, conn *transport.Conn) {
	for id, c := range r.spectatorConns {
		if c == conn {
			delete(r.spectatorConns, id)
			if spec := r.findSpectatorLocked(id); spec != nil {
				spec.Connected = false
			}
			return
		}
	}

	for id, c := range r.playerConns {
		if c != conn {
			continue
		}
		delete(r.playerConns, id)
		p := r.findPlayerLocked(id)
		if p == nil {
			return
		}
		p.Connected = false
		r.broadcastPlayersLocked(&protocol.PlayerLeft{PlayerID: id})
		r.fanOutSpectatorsLocked()
		r.persistSnapshotLocked(context.Background())
		r.log.WithFields(logrus.Fields{"room": r.Code, "player": id}).Info("player disconnected")

		if r.State == protocol.StatePlaying && r.CurrentRound != nil &&
			!r.CurrentRound.Resolved() && r.allEligibleAnsweredLocked() {
			r.resolveRoundLocked()
		}
		return
	}
}

func (hostStrategy) mintToken(r *Room, participantID string) string {
	token, err := auth.MintRejoinToken(r.secret, r.Code, participantID)
	if err != nil {
		r.log.WithError(err).Warn("mint rejoin token")
		return ""
	}
	return token
}

type mirrorStrategy struct{}

func (s mirrorStrategy) apply(r *Room, msg protocol.Message, _ *transport.Conn) {
	switch m := msg.(type) {
	case *protocol.RoomSettingsMsg:
		r.Settings = m.Settings

	case *protocol.GameStart:
		r.Err = ""
		r.startMirrorCountdownLocked()

	case *protocol.NewRound:
		round := m.Round
		r.CurrentRound = &round
		r.RoundNumber = round.Number
		r.State = protocol.StatePlaying
		for _, p := range r.Players {
			p.ResetAnswer()
		}

	case *protocol.PlayerAnswered:
		if p := r.findPlayerLocked(m.PlayerID); p != nil {
			p.HasAnswered = true
		}

	case *protocol.RoundResult:
		s.applyRoundResult(r, m)

	case *protocol.TimerSync:
		if r.CurrentRound != nil {
			r.CurrentRound.TimeRemaining = m.TimeRemaining
			r.CurrentRound.HintLevel = m.HintLevel
		}

	case *protocol.MatchEnd:
		r.Players = r.Players[:0]
		for i := range m.Players {
			p := m.Players[i]
			r.Players = append(r.Players, &p)
		}
		r.MatchWinner = m.WinnerID
		r.State = protocol.StateMatchEnd

	case *protocol.RestartGame:
		r.resetMatchLocked()
		r.startMirrorCountdownLocked()

	case *protocol.FullState:
		s.adoptSnapshot(r, m.Room)
		if m.RejoinToken != "" {
			r.persistSessionLocked(context.Background(), m.RejoinToken)
		}

	case *protocol.SpectatorState:
		s.adoptSnapshot(r, m.Room)

	case *protocol.PlayerJoined:
		p := r.findPlayerLocked(m.Player.ID)
		if p == nil {
			cp := m.Player
			r.Players = append(r.Players, &cp)
		} else {
			*p = m.Player
		}
		if r.State == protocol.StateWaiting && len(r.Players) >= 2 {
			r.State = protocol.StateLobby
		}

	case *protocol.PlayerLeft:
		if p := r.findPlayerLocked(m.PlayerID); p != nil {
			p.Connected = false
		}

	case *protocol.ErrorMsg:
		r.Err = m.Message
		r.log.WithField("room", r.Code).WithField("error", m.Message).Warn("host rejected request")

	default:
		// Host-bound intents (guess, forfeit, player-info, reconnect) carry
		// no meaning on a mirror.
	}
}

func (mirrorStrategy) applyRoundResult(r *Room, m *protocol.RoundResult) {
	for _, outcome := range m.Results {
		p := r.findPlayerLocked(outcome.PlayerID)
		if p == nil {
			continue
		}
		correct := outcome.Correct
		p.LastGuessCorrect = &correct
		p.LastGuess = outcome.Guess
		p.RoundScore = outcome.Score
		p.Score += outcome.Score
	}
	if r.CurrentRound != nil {
		r.CurrentRound.Results = append([]protocol.RoundOutcome(nil), m.Results...)
		r.CurrentRound.QuestionID = m.CorrectQuestion
	}
	r.State = protocol.StateRoundEnd
}

func (mirrorStrategy) adoptSnapshot(r *Room, snap protocol.RoomSnapshot) {
	r.State = snap.State
	r.Settings = snap.Settings
	r.RoundNumber = snap.RoundNumber
	r.Elapsed = snap.Elapsed

	r.Players = r.Players[:0]
	for i := range snap.Players {
		p := snap.Players[i]
		r.Players = append(r.Players, &p)
	}
	r.Spectators = r.Spectators[:0]
	for i := range snap.Spectators {
		sp := snap.Spectators[i]
		r.Spectators = append(r.Spectators, &sp)
	}
	if snap.CurrentRound != nil {
		round := *snap.CurrentRound
		r.CurrentRound = &round
	} else {
		r.CurrentRound = nil
	}
}
