// internal/match/recover.go
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

// Resume restores a previous session after a process restart. It returns
// false when no resumable session exists; that is not an error. Hosts
// re-claim their room from the persisted snapshot, clients reconnect to it.
func (r *Room) Resume(ctx context.Context) (bool, error) {
	if r.sessions == nil {
		return false, nil
	}
	sess, err := r.sessions.LoadSession(ctx)
	if err != nil {
		return false, fmt.Errorf("match: load session: %w", err)
	}
	if sess == nil || sess.RoomCode == "" {
		return false, nil
	}

	if sess.Role == protocol.RoleHost {
		return r.resumeAsHost(ctx, sess)
	}
	return r.resumeAsClient(ctx, sess)
}

// resumeAsHost rebuilds the room from the persisted snapshot and re-claims
// the transport address. Every remote participant is marked disconnected
// until it reconnects; rejoin tokens minted before the crash stay valid
// because the room secret is restored with the session.
func (r *Room) resumeAsHost(ctx context.Context, sess *protocol.Session) (bool, error) {
	snap, err := r.sessions.LoadSnapshot(ctx, sess.RoomCode)
	if err != nil {
		return false, fmt.Errorf("match: load snapshot: %w", err)
	}
	if snap == nil {
		return false, nil
	}

	if err := r.tr.CreateAsHost(ctx, sess.RoomCode); err != nil {
		return false, fmt.Errorf("match: re-claim room %s: %w", sess.RoomCode, err)
	}

	r.mu.Lock()
	r.Code = sess.RoomCode
	r.role = protocol.RoleHost
	r.strategy = hostStrategy{}
	r.secret = sess.RoomSecret
	r.SelfID = sess.PlayerID
	if sess.PlayerName != "" {
		r.SelfName = sess.PlayerName
	}

	r.Settings = snap.Settings
	r.State = snap.State
	r.RoundNumber = snap.RoundNumber
	r.Elapsed = snap.Elapsed

	r.Players = r.Players[:0]
	for i := range snap.Players {
		p := snap.Players[i]
		p.Connected = p.ID == r.SelfID
		r.Players = append(r.Players, &p)
	}
	r.Spectators = r.Spectators[:0]
	for i := range snap.Spectators {
		sp := snap.Spectators[i]
		sp.Connected = false
		r.Spectators = append(r.Spectators, &sp)
	}

	if snap.CurrentRound != nil {
		round := *snap.CurrentRound
		r.CurrentRound = &round
	} else {
		r.CurrentRound = nil
	}

	switch r.State {
	case protocol.StatePlaying:
		// Guesses in flight at crash time are unrecoverable; the round
		// resumes from the persisted clock and everyone answers again.
		for _, p := range r.Players {
			p.ResetAnswer()
		}
		if r.CurrentRound != nil && r.Settings.TimeLimit > 0 {
			elapsed := r.Settings.TimeLimit - r.CurrentRound.TimeRemaining
			if elapsed < 0 {
				elapsed = 0
			}
			r.roundStartedAt = time.Now().Add(-time.Duration(elapsed) * time.Second)
			r.scheduleTickLocked()
		}
	case protocol.StateCountdown:
		r.beginCountdownLocked()
	case protocol.StateRoundEnd:
		gen := r.timerGen
		r.advanceTimer = r.schedule(r.advanceDelay, func() {
			if r.timerGen != gen || r.State != protocol.StateRoundEnd {
				return
			}
			r.startNewRoundLocked()
		})
	}

	r.persistSessionLocked(ctx, "")
	r.persistSnapshotLocked(ctx)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"room": sess.RoomCode, "state": snap.State}).Info("room resumed from snapshot")
	r.notify()
	return true, nil
}

// resumeAsClient reconnects to the room under a fresh transport address and
// proves identity with the stored rejoin token.
func (r *Room) resumeAsClient(ctx context.Context, sess *protocol.Session) (bool, error) {
	r.mu.Lock()
	r.Code = sess.RoomCode
	r.role = sess.Role
	r.strategy = mirrorStrategy{}
	r.State = protocol.StateWaiting
	r.SelfID = sess.PlayerID
	if sess.PlayerName != "" {
		r.SelfName = sess.PlayerName
	}
	r.mu.Unlock()

	if err := r.dialHost(ctx, sess.RoomCode); err != nil {
		return false, fmt.Errorf("match: resume room %s: %w", sess.RoomCode, err)
	}
	r.notify()
	return true, nil
}
