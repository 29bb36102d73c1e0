// internal/protocol/message.go
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the wire discriminator for protocol messages.
type Kind string

const (
	KindPlayerInfo     Kind = "player-info"
	KindRoomSettings   Kind = "room-settings"
	KindGameStart      Kind = "game-start"
	KindNewRound       Kind = "new-round"
	KindGuess          Kind = "guess"
	KindPlayerAnswered Kind = "player-answered"
	KindRoundResult    Kind = "round-result"
	KindMatchEnd       Kind = "match-end"
	KindRestartGame    Kind = "restart-game"
	KindTimerSync      Kind = "timer-sync"
	KindSpectatorState Kind = "spectator-state"
	KindError          Kind = "error"
	KindReconnect      Kind = "reconnect"
	KindFullState      Kind = "full-state"
	KindForfeit        Kind = "forfeit"
	KindPlayerJoined   Kind = "player-joined"
	KindPlayerLeft     Kind = "player-left"
)

// ErrUnknownKind is returned by Decode for kinds outside the closed set.
// Receivers drop such messages rather than surfacing them.
var ErrUnknownKind = errors.New("protocol: unknown message kind")

// Message is a closed tagged variant. New message kinds are added as new
// variants with a Kind case in Decode, never by probing optional fields.
type Message interface {
	Kind() Kind
}

// PlayerInfo announces a joining participant to the host.
type PlayerInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Passcode string `json:"passcode,omitempty"`
}

// RoomSettingsMsg broadcasts the host's settings after every change.
type RoomSettingsMsg struct {
	Settings RoomSettings `json:"settings"`
}

// GameStart tells mirrors to enter the countdown phase.
type GameStart struct{}

// NewRound carries a freshly generated round to every participant.
type NewRound struct {
	Round Round `json:"round"`
}

// Guess is a non-host player's answer submission. Correctness is decided by
// the host at resolution time, not by the sender.
type Guess struct {
	PlayerID   string `json:"playerId"`
	QuestionID string `json:"questionId"`
}

// PlayerAnswered notifies everyone that a player has locked in an answer.
type PlayerAnswered struct {
	PlayerID string `json:"playerId"`
}

// RoundResult carries the host's atomic resolution of a round: per-player
// outcomes plus the revealed target.
type RoundResult struct {
	Results         []RoundOutcome `json:"results"`
	CorrectQuestion string         `json:"correctQuestion"`
}

// MatchEnd carries the final player records and the winner.
type MatchEnd struct {
	Players  []Player `json:"players"`
	WinnerID string   `json:"winnerId"`
}

// RestartGame tells mirrors to reset scores and replay the countdown.
type RestartGame struct{}

// TimerSync is the host's once-per-second countdown broadcast so clients
// never run their own drifting timers.
type TimerSync struct {
	TimeRemaining int `json:"timeRemaining"`
	HintLevel     int `json:"hintLevel"`
}

// SpectatorState is the full-snapshot resync spectators receive instead of
// player-only deltas.
type SpectatorState struct {
	Room RoomSnapshot `json:"room"`
}

// ErrorMsg surfaces a host-side rejection to one peer.
type ErrorMsg struct {
	Message string `json:"message"`
}

// Reconnect is the explicit "returning player" announcement, distinct from a
// plain join so the host restores the existing record instead of creating a
// duplicate.
type Reconnect struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Addr     string `json:"addr"`
	Token    string `json:"token"`
}

// FullState pushes the complete room snapshot to a single peer so its mirror
// catches up in one message. RejoinToken is set when the host is issuing or
// re-issuing the peer's reconnect credential.
type FullState struct {
	Room        RoomSnapshot `json:"room"`
	RejoinToken string       `json:"rejoinToken,omitempty"`
}

// Forfeit is a voluntary concession by one player.
type Forfeit struct {
	PlayerID string `json:"playerId"`
}

// PlayerJoined is the incremental delta players receive when someone joins.
type PlayerJoined struct {
	Player Player `json:"player"`
}

// PlayerLeft marks a player as disconnected on every mirror.
type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

func (PlayerInfo) Kind() Kind      { return KindPlayerInfo }
func (RoomSettingsMsg) Kind() Kind { return KindRoomSettings }
func (GameStart) Kind() Kind       { return KindGameStart }
func (NewRound) Kind() Kind        { return KindNewRound }
func (Guess) Kind() Kind           { return KindGuess }
func (PlayerAnswered) Kind() Kind  { return KindPlayerAnswered }
func (RoundResult) Kind() Kind     { return KindRoundResult }
func (MatchEnd) Kind() Kind        { return KindMatchEnd }
func (RestartGame) Kind() Kind     { return KindRestartGame }
func (TimerSync) Kind() Kind       { return KindTimerSync }
func (SpectatorState) Kind() Kind  { return KindSpectatorState }
func (ErrorMsg) Kind() Kind        { return KindError }
func (Reconnect) Kind() Kind       { return KindReconnect }
func (FullState) Kind() Kind       { return KindFullState }
func (Forfeit) Kind() Kind         { return KindForfeit }
func (PlayerJoined) Kind() Kind    { return KindPlayerJoined }
func (PlayerLeft) Kind() Kind      { return KindPlayerLeft }

// envelope is the wire frame: the discriminator plus the variant payload.
type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode frames a message for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Type: msg.Kind(), Data: data})
}

// Decode parses a wire frame into its concrete variant. Unknown kinds and
// malformed payloads return an error; callers drop those frames so a hostile
// or stale peer cannot crash the receiver.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("protocol: bad frame: %w", err)
	}

	var msg Message
	switch env.Type {
	case KindPlayerInfo:
		msg = &PlayerInfo{}
	case KindRoomSettings:
		msg = &RoomSettingsMsg{}
	case KindGameStart:
		msg = &GameStart{}
	case KindNewRound:
		msg = &NewRound{}
	case KindGuess:
		msg = &Guess{}
	case KindPlayerAnswered:
		msg = &PlayerAnswered{}
	case KindRoundResult:
		msg = &RoundResult{}
	case KindMatchEnd:
		msg = &MatchEnd{}
	case KindRestartGame:
		msg = &RestartGame{}
	case KindTimerSync:
		msg = &TimerSync{}
	case KindSpectatorState:
		msg = &SpectatorState{}
	case KindError:
		msg = &ErrorMsg{}
	case KindReconnect:
		msg = &Reconnect{}
	case KindFullState:
		msg = &FullState{}
	case KindForfeit:
		msg = &Forfeit{}
	case KindPlayerJoined:
		msg = &PlayerJoined{}
	case KindPlayerLeft:
		msg = &PlayerLeft{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, fmt.Errorf("protocol: bad %s payload: %w", env.Type, err)
		}
	}
	return msg, nil
}
