// internal/match/round.go
package match

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peerquiz/peerquiz/internal/oracle"
	"github.com/peerquiz/peerquiz/internal/protocol"
)

const (
	countdownTicks = 3

	// Scoring constants: a correct answer in a timed round earns the base
	// plus a speed bonus proportional to the fraction of time left. Untimed
	// rounds pay a flat reward.
	baseReward = 100
	speedBonus = 900
	flatReward = 500
)

// Score computes the reward for one answer. An incorrect answer always
// scores zero; timeRemaining outside [0, timeLimit] is clamped, so the
// result is always within [baseReward, baseReward+speedBonus] for timed
// correct answers.
func Score(timeRemaining, timeLimit int, correct bool) int {
	if !correct {
		return 0
	}
	if timeLimit <= 0 {
		return flatReward
	}
	frac := float64(timeRemaining) / float64(timeLimit)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return int(math.Round(baseReward + speedBonus*frac))
}

// startNewRoundLocked draws a fresh target and opens the next round. Host
// only; callers hold the room lock.
func (r *Room) startNewRoundLocked() {
	r.timerGen++
	r.stopTimersLocked()

	targetID, err := r.oracle.PickRandomTarget(r.Settings.Filter)
	if err != nil {
		r.log.WithError(err).WithField("room", r.Code).Error("pick round target")
		r.Err = "could not generate a question"
		r.State = protocol.StateLobby
		r.broadcastPlayersLocked(&protocol.ErrorMsg{Message: r.Err})
		return
	}

	var tags []string
	if d, ok := r.oracle.(oracle.Describer); ok {
		if q, found := d.Describe(targetID); found {
			tags = q.Tags
		}
	}

	r.RoundNumber++
	r.CurrentRound = &protocol.Round{
		Number:        r.RoundNumber,
		QuestionID:    targetID,
		Tags:          tags,
		TimeRemaining: r.Settings.TimeLimit,
	}
	for _, p := range r.Players {
		p.ResetAnswer()
	}
	r.State = protocol.StatePlaying
	r.roundStartedAt = time.Now()

	r.broadcastPlayersLocked(&protocol.NewRound{Round: *r.CurrentRound})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())
	r.log.WithFields(logrus.Fields{"room": r.Code, "round": r.RoundNumber}).Info("round started")

	if r.Settings.TimeLimit > 0 {
		r.scheduleTickLocked()
	}
}

// allEligibleAnsweredLocked reports whether every competing player has
// locked in an answer for the open round.
func (r *Room) allEligibleAnsweredLocked() bool {
	eligible := r.eligibleLocked()
	if len(eligible) == 0 {
		return false
	}
	for _, p := range eligible {
		if !p.HasAnswered {
			return false
		}
	}
	return true
}

// resolveRoundLocked scores every player, publishes the atomic round result,
// and either schedules the next round or ends the match. Resolution happens
// exactly once per round: the open timer generation is retired first, so a
// late timer expiry cannot re-resolve.
func (r *Room) resolveRoundLocked() {
	round := r.CurrentRound
	if round == nil || round.Resolved() {
		return
	}
	r.timerGen++
	r.stopTimersLocked()
	r.State = protocol.StateRoundEnd

	limit := r.Settings.TimeLimit
	startMs := r.roundStartedAt.UnixMilli()

	results := make([]protocol.RoundOutcome, 0, len(r.Players))
	for _, p := range r.Players {
		correct := p.HasAnswered && !r.forfeited[p.ID] &&
			r.oracle.IsEquivalent(p.LastGuess, round.QuestionID)

		remaining := 0
		if p.HasAnswered {
			elapsed := p.LastGuessAt - startMs
			if elapsed < 0 {
				elapsed = 0
			}
			remaining = limit - int(elapsed/1000)
			if correct {
				p.AnswerTimeMS += elapsed
			}
		}

		score := Score(remaining, limit, correct)
		p.RoundScore = score
		p.Score += score
		c := correct
		p.LastGuessCorrect = &c

		results = append(results, protocol.RoundOutcome{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Guess:      p.LastGuess,
			Correct:    correct,
			Score:      score,
		})
	}
	round.Results = results

	r.broadcastPlayersLocked(&protocol.RoundResult{
		Results:         results,
		CorrectQuestion: round.QuestionID,
	})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())
	r.log.WithFields(logrus.Fields{"room": r.Code, "round": round.Number}).Info("round resolved")

	if r.matchDecidedLocked() {
		r.endMatchLocked(r.pickWinnerLocked())
		return
	}

	gen := r.timerGen
	r.advanceTimer = r.schedule(r.advanceDelay, func() {
		if r.timerGen != gen || r.State != protocol.StateRoundEnd {
			return
		}
		r.startNewRoundLocked()
	})
}

// matchDecidedLocked evaluates the end condition on the same resolution the
// qualifying score landed in.
func (r *Room) matchDecidedLocked() bool {
	switch r.Settings.Mode {
	case protocol.ModeScore:
		for _, p := range r.Players {
			if p.Score >= r.Settings.TargetScore {
				return true
			}
		}
		return false
	default:
		return r.RoundNumber >= r.Settings.TotalRounds
	}
}

// pickWinnerLocked ranks by score, then by least accumulated answer time,
// then by smallest player ID so the result is deterministic.
func (r *Room) pickWinnerLocked() string {
	candidates := r.eligibleLocked()
	if len(candidates) == 0 {
		candidates = r.Players
	}
	if len(candidates) == 0 {
		return ""
	}

	ranked := append([]*protocol.Player(nil), candidates...)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.AnswerTimeMS != b.AnswerTimeMS {
			return a.AnswerTimeMS < b.AnswerTimeMS
		}
		return a.ID < b.ID
	})
	return ranked[0].ID
}

// endMatchLocked records the winner immediately and transitions to match-end
// after the result display delay.
func (r *Room) endMatchLocked(winnerID string) {
	r.MatchWinner = winnerID
	r.timerGen++
	r.stopTimersLocked()

	gen := r.timerGen
	r.advanceTimer = r.schedule(r.endDelay, func() {
		if r.timerGen != gen || r.State == protocol.StateMatchEnd {
			return
		}
		r.finishMatchLocked()
	})
}

func (r *Room) finishMatchLocked() {
	r.State = protocol.StateMatchEnd

	players := make([]protocol.Player, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, *p)
	}
	r.broadcastPlayersLocked(&protocol.MatchEnd{Players: players, WinnerID: r.MatchWinner})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())
	r.log.WithFields(logrus.Fields{"room": r.Code, "winner": r.MatchWinner}).Info("match ended")
}
