// internal/protocol/model.go
package protocol

// Role identifies a participant's function within a room.
type Role string

const (
	RoleHost      Role = "host"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// State is the room lifecycle state tag. Only the host advances it
// autonomously; every other participant mirrors host broadcasts.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting-for-players"
	StateLobby      State = "lobby"
	StateCountdown  State = "countdown"
	StatePlaying    State = "playing"
	StateRoundEnd   State = "round-result"
	StateMatchEnd   State = "match-end"
)

// GameMode selects the match-end condition.
type GameMode string

const (
	ModeRounds GameMode = "rounds"
	ModeScore  GameMode = "score"
)

// QuestionFilter narrows the question pool a round target is drawn from.
type QuestionFilter struct {
	MinGeneration    int  `json:"minGeneration"`
	MaxGeneration    int  `json:"maxGeneration"`
	FullyEvolvedOnly bool `json:"fullyEvolvedOnly"`
	IncludeMega      bool `json:"includeMega"`
}

// RoomSettings is owned by the host and treated as read-only by everyone
// else. A TimeLimit of 0 means rounds are untimed.
type RoomSettings struct {
	Filter       QuestionFilter `json:"filter"`
	TimeLimit    int            `json:"timeLimit"`
	HintsEnabled bool           `json:"hintsEnabled"`
	Mode         GameMode       `json:"mode"`
	TotalRounds  int            `json:"totalRounds"`
	TargetScore  int            `json:"targetScore"`
}

// DefaultRoomSettings returns the settings a freshly created room starts with.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		Filter: QuestionFilter{
			MinGeneration:    1,
			MaxGeneration:    9,
			FullyEvolvedOnly: true,
			IncludeMega:      false,
		},
		TimeLimit:    40,
		HintsEnabled: true,
		Mode:         ModeRounds,
		TotalRounds:  5,
		TargetScore:  5000,
	}
}

// Player is one participant's record inside a room. Records are never
// removed while the room exists; departures only flip Connected.
type Player struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Role             Role   `json:"role"`
	Score            int    `json:"score"`
	RoundScore       int    `json:"roundScore"`
	HasAnswered      bool   `json:"hasAnswered"`
	LastGuess        string `json:"lastGuess,omitempty"`
	LastGuessCorrect *bool  `json:"lastGuessCorrect,omitempty"`

	// LastGuessAt is the host-observed arrival time of the guess in unix
	// milliseconds. 0 means no guess this round.
	LastGuessAt int64 `json:"lastGuessAt,omitempty"`

	// AnswerTimeMS accumulates time spent on correct answers across the
	// match; it is the first match-end tie-breaker.
	AnswerTimeMS int64 `json:"answerTimeMs"`

	Connected bool `json:"connected"`
}

// ResetAnswer clears the per-round answer fields.
func (p *Player) ResetAnswer() {
	p.HasAnswered = false
	p.LastGuess = ""
	p.LastGuessCorrect = nil
	p.LastGuessAt = 0
	p.RoundScore = 0
}

// RoundOutcome is one player's result for a resolved round.
type RoundOutcome struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Guess      string `json:"guess,omitempty"`
	Correct    bool   `json:"correct"`
	Score      int    `json:"score"`
}

// Round is one timed question cycle. A round is open until Results is
// populated by the host's resolution, never both.
type Round struct {
	Number        int            `json:"number"`
	QuestionID    string         `json:"questionId"`
	Tags          []string       `json:"tags,omitempty"`
	TimeRemaining int            `json:"timeRemaining"`
	HintLevel     int            `json:"hintLevel"`
	Results       []RoundOutcome `json:"results,omitempty"`
}

// Resolved reports whether the round has been resolved by the host.
func (r *Round) Resolved() bool {
	return r != nil && len(r.Results) > 0
}

// RoomSnapshot is the full serializable room state. It is what spectators
// resynchronize from, what a rejoining player catches up with, and what the
// host persists for crash recovery.
type RoomSnapshot struct {
	RoomCode     string       `json:"roomCode"`
	State        State        `json:"state"`
	Settings     RoomSettings `json:"settings"`
	Players      []Player     `json:"players"`
	Spectators   []Player     `json:"spectators"`
	CurrentRound *Round       `json:"currentRound,omitempty"`
	RoundNumber  int          `json:"roundNumber"`
	Elapsed      int          `json:"elapsed"`
}

// Session is the persisted identity/room binding used exclusively for
// reconnection after an unexpected disconnect or process restart.
type Session struct {
	RoomCode      string `json:"roomCode"`
	PlayerName    string `json:"playerName"`
	PlayerID      string `json:"playerId"`
	Role          Role   `json:"role"`
	TransportAddr string `json:"transportAddr"`

	// RejoinToken proves the logical identity to the host on reconnect.
	RejoinToken string `json:"rejoinToken,omitempty"`

	// RoomSecret is set on host sessions only, so a restarted host keeps
	// validating tokens it minted before the crash.
	RoomSecret []byte `json:"roomSecret,omitempty"`
}
