// internal/match/room_test.go
package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerquiz/peerquiz/internal/auth"
	"github.com/peerquiz/peerquiz/internal/protocol"
	"github.com/peerquiz/peerquiz/internal/session"
	"github.com/peerquiz/peerquiz/internal/transport"
)

func TestCreateRoom(t *testing.T) {
	store := session.NewMemoryStore()
	r, _ := newHostRoom(t, store)

	assert.Len(t, r.Code, protocol.RoomCodeLength)
	assert.Equal(t, protocol.StateWaiting, r.State)
	assert.Equal(t, protocol.RoleHost, r.Role())

	require.Len(t, r.Players, 1)
	assert.Equal(t, r.SelfID, r.Players[0].ID)
	assert.True(t, r.Players[0].Connected)

	sess, err := store.LoadSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, protocol.RoleHost, sess.Role)
	assert.NotEmpty(t, sess.RoomSecret, "host session must carry the room secret")
}

func TestJoinMovesToLobby(t *testing.T) {
	store := session.NewMemoryStore()
	r, rec := newHostRoom(t, store)

	conn := joinPlayer(r, "p2", "Guest")

	assert.Equal(t, protocol.StateLobby, r.State)
	require.Len(t, r.Players, 2)

	joined := rec.lastBroadcast(protocol.KindPlayerJoined)
	require.NotNil(t, joined)
	assert.Equal(t, "p2", joined.(*protocol.PlayerJoined).Player.ID)

	assert.NotEmpty(t, rejoinToken(t, rec, conn))

	snap, err := store.LoadSnapshot(context.Background(), r.Code)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Players, 2)
}

func TestJoinIdempotent(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	joinPlayer(r, "p2", "Guest")
	joinPlayer(r, "p2", "Guest")
	assert.Len(t, r.Players, 2, "re-announcing the same identity must not duplicate the record")
}

func TestJoinWrongPasscode(t *testing.T) {
	rec := newRecorder()
	r := NewRoom(Config{
		Transport: rec,
		Sessions:  session.NewMemoryStore(),
		Oracle:    stubOracle{target: "q-target"},
		Logger:    quietLogger(),
		SelfName:  "Host",
	})
	_, err := r.CreateRoom(context.Background(), "sekrit")
	require.NoError(t, err)

	conn := transport.NewConn("addr-p2", nil)
	r.handleMessage(&protocol.PlayerInfo{ID: "p2", Name: "Guest", Role: protocol.RolePlayer, Passcode: "wrong"}, conn)

	assert.Len(t, r.Players, 1)
	msgs := rec.unicastsTo(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindError, msgs[0].Kind())

	r.handleMessage(&protocol.PlayerInfo{ID: "p2", Name: "Guest", Role: protocol.RolePlayer, Passcode: "sekrit"}, conn)
	assert.Len(t, r.Players, 2)
}

func TestStartMatchRequiresTwoPlayers(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	assert.ErrorIs(t, r.StartMatch(), ErrNotEnoughPlayers)
}

func TestStartMatchBeginsFirstRound(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	startUntimedMatch(t, r)

	assert.Equal(t, 1, r.RoundNumber)
	require.NotNil(t, r.CurrentRound)
	assert.Equal(t, "q-target", r.CurrentRound.QuestionID)
	assert.NotNil(t, rec.lastBroadcast(protocol.KindGameStart))
	assert.NotNil(t, rec.lastBroadcast(protocol.KindNewRound))
}

func TestGuessFlowAndResolution(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	startUntimedMatch(t, r)

	require.NoError(t, r.SubmitGuess("q-target"))
	assert.Equal(t, protocol.StatePlaying, r.State, "round stays open until everyone answers")
	assert.Len(t, rec.broadcastsOf(protocol.KindPlayerAnswered), 1)

	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-wrong"}, nil)

	assert.Equal(t, protocol.StateRoundEnd, r.State)
	result := rec.lastBroadcast(protocol.KindRoundResult)
	require.NotNil(t, result)
	rr := result.(*protocol.RoundResult)
	assert.Equal(t, "q-target", rr.CorrectQuestion)
	require.Len(t, rr.Results, 2)

	host := r.findPlayerLocked(r.SelfID)
	guest := r.findPlayerLocked("p2")
	assert.Equal(t, 500, host.Score, "untimed correct answers pay the flat reward")
	assert.Equal(t, 0, guest.Score)
	require.NotNil(t, guest.LastGuessCorrect)
	assert.False(t, *guest.LastGuessCorrect)
}

func TestStatTwinGuessCounts(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	startUntimedMatch(t, r)

	require.NoError(t, r.SubmitGuess("q-twin"))
	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-wrong"}, nil)

	host := r.findPlayerLocked(r.SelfID)
	assert.Equal(t, 500, host.Score, "an equivalent answer scores like the target itself")
}

func TestDuplicateGuessIgnored(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	startUntimedMatch(t, r)

	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-target"}, nil)
	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-wrong"}, nil)

	guest := r.findPlayerLocked("p2")
	assert.Equal(t, "q-target", guest.LastGuess, "only the first answer of a round counts")
	assert.Len(t, rec.broadcastsOf(protocol.KindPlayerAnswered), 1)
}

func TestStaleGuessAfterResolution(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	startUntimedMatch(t, r)

	require.NoError(t, r.SubmitGuess("q-target"))
	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-wrong"}, nil)
	require.Equal(t, protocol.StateRoundEnd, r.State)

	scoreBefore := r.findPlayerLocked("p2").Score
	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-target"}, nil)
	assert.Equal(t, scoreBefore, r.findPlayerLocked("p2").Score)
	assert.Equal(t, protocol.StateRoundEnd, r.State)
}

func TestRoundsModeMatchEnd(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	r.Settings.Mode = protocol.ModeRounds
	r.Settings.TotalRounds = 1
	startUntimedMatch(t, r)

	require.NoError(t, r.SubmitGuess("q-target"))
	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-wrong"}, nil)

	assert.Equal(t, protocol.StateMatchEnd, r.State)
	assert.Equal(t, r.SelfID, r.MatchWinner)

	end := rec.lastBroadcast(protocol.KindMatchEnd)
	require.NotNil(t, end)
	assert.Equal(t, r.SelfID, end.(*protocol.MatchEnd).WinnerID)
}

func TestTargetScoreEndsOnSameResolution(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	r.Settings.Mode = protocol.ModeScore
	r.Settings.TargetScore = 500
	startUntimedMatch(t, r)

	require.NoError(t, r.SubmitGuess("q-target"))
	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-wrong"}, nil)

	assert.Equal(t, protocol.StateMatchEnd, r.State,
		"the end condition is evaluated on the resolution that crossed the target")
	assert.Equal(t, r.SelfID, r.MatchWinner)
}

func TestForfeitDeclaresRemainingPlayerWinner(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	startUntimedMatch(t, r)

	r.handleMessage(&protocol.Forfeit{PlayerID: "p2"}, nil)

	assert.Equal(t, protocol.StateMatchEnd, r.State)
	assert.Equal(t, r.SelfID, r.MatchWinner)
}

func TestForfeitMarksPlayerDisconnected(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	r.Settings.TimeLimit = 0
	joinPlayer(r, "p2", "Guest")
	joinPlayer(r, "p3", "Other")
	require.NoError(t, r.StartMatch())
	require.Equal(t, protocol.StatePlaying, r.State)

	r.handleMessage(&protocol.Forfeit{PlayerID: "p2"}, nil)

	require.Len(t, r.Players, 3, "a forfeit keeps the record like any departure")
	assert.False(t, r.findPlayerLocked("p2").Connected)

	left := rec.lastBroadcast(protocol.KindPlayerLeft)
	require.NotNil(t, left, "mirrors learn about a forfeit from the departure broadcast")
	assert.Equal(t, "p2", left.(*protocol.PlayerLeft).PlayerID)

	// Two players remain, so the match goes on without waiting for p2.
	assert.Equal(t, protocol.StatePlaying, r.State)
	require.NoError(t, r.SubmitGuess("q-target"))
	r.handleMessage(&protocol.Guess{PlayerID: "p3", QuestionID: "q-wrong"}, nil)
	assert.Equal(t, protocol.StateRoundEnd, r.State,
		"the round resolves once the remaining players answer")
}

func TestPlayerBroadcastsExcludeSpectators(t *testing.T) {
	r, rec := newHostRoom(t, nil)

	spec := transport.NewConn("addr-spec", nil)
	r.handleMessage(&protocol.PlayerInfo{ID: "s1", Name: "Watcher", Role: protocol.RoleSpectator}, spec)

	startUntimedMatch(t, r)

	for _, kind := range []protocol.Kind{
		protocol.KindGameStart,
		protocol.KindNewRound,
		protocol.KindPlayerJoined,
	} {
		assert.Contains(t, rec.lastExcept(kind), spec,
			"%s must not reach spectator connections", kind)
	}
}

func TestDisconnectMarksNotRemoves(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	conn := joinPlayer(r, "p2", "Guest")

	r.handleDisconnect(conn)

	require.Len(t, r.Players, 2, "departures keep the record for later rejoin")
	guest := r.findPlayerLocked("p2")
	assert.False(t, guest.Connected)

	left := rec.lastBroadcast(protocol.KindPlayerLeft)
	require.NotNil(t, left)
	assert.Equal(t, "p2", left.(*protocol.PlayerLeft).PlayerID)
}

func TestDisconnectResolvesWaitingRound(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	conn := startUntimedMatch(t, r)

	require.NoError(t, r.SubmitGuess("q-target"))
	require.Equal(t, protocol.StatePlaying, r.State)

	r.handleDisconnect(conn)
	assert.Equal(t, protocol.StateRoundEnd, r.State,
		"a round waiting only on a vanished player resolves immediately")
}

func TestReconnectRestoresSeat(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	conn := joinPlayer(r, "p2", "Guest")
	token := rejoinToken(t, rec, conn)

	r.handleDisconnect(conn)
	require.False(t, r.findPlayerLocked("p2").Connected)

	fresh := transport.NewConn("addr-p2-retry", nil)
	r.handleMessage(&protocol.Reconnect{PlayerID: "p2", Name: "Guest", Addr: fresh.Addr(), Token: token}, fresh)

	require.Len(t, r.Players, 2, "reconnect must restore, not duplicate")
	assert.True(t, r.findPlayerLocked("p2").Connected)

	var gotFullState bool
	for _, msg := range rec.unicastsTo(fresh) {
		if _, ok := msg.(*protocol.FullState); ok {
			gotFullState = true
		}
	}
	assert.True(t, gotFullState, "a returning player catches up from one full-state push")
}

func TestReconnectBadTokenRejected(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	conn := joinPlayer(r, "p2", "Guest")
	r.handleDisconnect(conn)

	fresh := transport.NewConn("addr-p2-retry", nil)
	r.handleMessage(&protocol.Reconnect{PlayerID: "p2", Name: "Guest", Addr: fresh.Addr(), Token: "forged"}, fresh)

	assert.False(t, r.findPlayerLocked("p2").Connected)
	msgs := rec.unicastsTo(fresh)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindError, msgs[0].Kind())
}

func TestReconnectTokenBoundToPlayer(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	conn2 := joinPlayer(r, "p2", "Guest")
	conn3 := joinPlayer(r, "p3", "Other")
	token3 := rejoinToken(t, rec, conn3)

	r.handleDisconnect(conn2)
	fresh := transport.NewConn("addr-p2-retry", nil)
	r.handleMessage(&protocol.Reconnect{PlayerID: "p2", Name: "Guest", Addr: fresh.Addr(), Token: token3}, fresh)

	assert.False(t, r.findPlayerLocked("p2").Connected,
		"a token minted for another player must not transfer the seat")
}

func TestRestartResetsScores(t *testing.T) {
	r, _ := newHostRoom(t, nil)
	r.Settings.TotalRounds = 1
	startUntimedMatch(t, r)

	require.NoError(t, r.SubmitGuess("q-target"))
	r.handleMessage(&protocol.Guess{PlayerID: "p2", QuestionID: "q-wrong"}, nil)
	require.Equal(t, protocol.StateMatchEnd, r.State)

	require.NoError(t, r.Restart())

	assert.Equal(t, protocol.StatePlaying, r.State)
	assert.Equal(t, 1, r.RoundNumber)
	assert.Empty(t, r.MatchWinner)
	for _, p := range r.Players {
		assert.Zero(t, p.Score)
		assert.Zero(t, p.AnswerTimeMS)
	}
}

func TestUpdateSettings(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	joinPlayer(r, "p2", "Guest")

	s := r.Settings
	s.TotalRounds = 9
	require.NoError(t, r.UpdateSettings(s))
	assert.Equal(t, 9, r.Settings.TotalRounds)

	msg := rec.lastBroadcast(protocol.KindRoomSettings)
	require.NotNil(t, msg)
	assert.Equal(t, 9, msg.(*protocol.RoomSettingsMsg).Settings.TotalRounds)

	r.Settings.TimeLimit = 0
	require.NoError(t, r.StartMatch())
	assert.ErrorIs(t, r.UpdateSettings(s), ErrBadState, "settings freeze once the countdown starts")
}

func TestUpdateSettingsHostOnly(t *testing.T) {
	rec := newRecorder()
	r := NewRoom(Config{
		Transport: rec,
		Sessions:  session.NewMemoryStore(),
		Oracle:    stubOracle{},
		Logger:    quietLogger(),
		SelfName:  "Guest",
	})
	require.NoError(t, r.Join(context.Background(), "ABC234", ""))
	assert.ErrorIs(t, r.UpdateSettings(protocol.DefaultRoomSettings()), ErrNotHost)
}

func TestLateJoinRejected(t *testing.T) {
	r, rec := newHostRoom(t, nil)
	startUntimedMatch(t, r)

	late := transport.NewConn("addr-late", nil)
	r.handleMessage(&protocol.PlayerInfo{ID: "p9", Name: "Late", Role: protocol.RolePlayer}, late)

	assert.Nil(t, r.findPlayerLocked("p9"))
	msgs := rec.unicastsTo(late)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindError, msgs[0].Kind())
}

func TestSpectatorReceivesSnapshots(t *testing.T) {
	r, rec := newHostRoom(t, nil)

	spec := transport.NewConn("addr-spec", nil)
	r.handleMessage(&protocol.PlayerInfo{ID: "s1", Name: "Watcher", Role: protocol.RoleSpectator}, spec)

	require.Len(t, r.Spectators, 1)
	assert.Len(t, r.Players, 1, "spectators never become players")

	joinPlayer(r, "p2", "Guest")

	var sawResync bool
	for _, msg := range rec.unicastsTo(spec) {
		if ss, ok := msg.(*protocol.SpectatorState); ok {
			sawResync = true
			assert.Len(t, ss.Room.Players, 2)
		}
	}
	assert.True(t, sawResync, "spectators resync from snapshots on every change")
}

func TestLeaveResetsEverything(t *testing.T) {
	store := session.NewMemoryStore()
	r, rec := newHostRoom(t, store)
	joinPlayer(r, "p2", "Guest")
	code := r.Code

	r.Leave(context.Background())

	assert.Equal(t, protocol.StateIdle, r.State)
	assert.Empty(t, r.Players)
	assert.True(t, rec.tornDown)

	sess, err := store.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	snap, err := store.LoadSnapshot(context.Background(), code)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestOldTokensSurviveSecretPersistence(t *testing.T) {
	store := session.NewMemoryStore()
	r, rec := newHostRoom(t, store)
	conn := joinPlayer(r, "p2", "Guest")
	token := rejoinToken(t, rec, conn)

	sess, err := store.LoadSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)

	playerID, err := auth.VerifyRejoinToken(sess.RoomSecret, r.Code, token)
	require.NoError(t, err)
	assert.Equal(t, "p2", playerID)
}
