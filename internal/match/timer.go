// internal/match/timer.go
package match

import (
	"context"
	"time"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

// schedule runs fn after d under the room lock. A non-positive d runs fn
// inline, in which case the caller must already hold the lock.
func (r *Room) schedule(d time.Duration, fn func()) *time.Timer {
	if d <= 0 {
		fn()
		return nil
	}
	return time.AfterFunc(d, func() {
		r.mu.Lock()
		fn()
		r.mu.Unlock()
		r.notify()
	})
}

// beginCountdownLocked announces the start and runs the pre-round countdown.
func (r *Room) beginCountdownLocked() {
	r.timerGen++
	r.stopTimersLocked()
	r.Err = ""
	r.State = protocol.StateCountdown
	r.Countdown = countdownTicks
	r.broadcastPlayersLocked(&protocol.GameStart{})
	r.fanOutSpectatorsLocked()
	r.persistSnapshotLocked(context.Background())

	gen := r.timerGen
	r.countdownTimer = r.schedule(r.countdownInterval, func() { r.countdownTick(gen) })
}

func (r *Room) countdownTick(gen int) {
	if r.timerGen != gen || r.State != protocol.StateCountdown {
		return
	}
	r.Countdown--
	if r.Countdown <= 0 {
		r.startNewRoundLocked()
		return
	}
	r.countdownTimer = r.schedule(r.countdownInterval, func() { r.countdownTick(gen) })
}

// startMirrorCountdownLocked runs the local countdown a mirror displays
// between the game-start broadcast and the first round. Each side ticks its
// own countdown; the new-round transition absorbs any drift.
func (r *Room) startMirrorCountdownLocked() {
	r.timerGen++
	r.stopTimersLocked()
	r.State = protocol.StateCountdown
	r.Countdown = countdownTicks

	gen := r.timerGen
	r.countdownTimer = r.schedule(r.countdownInterval, func() { r.mirrorCountdownTick(gen) })
}

func (r *Room) mirrorCountdownTick(gen int) {
	if r.timerGen != gen || r.State != protocol.StateCountdown || r.Countdown <= 0 {
		return
	}
	r.Countdown--
	if r.Countdown > 0 {
		r.countdownTimer = r.schedule(r.countdownInterval, func() { r.mirrorCountdownTick(gen) })
	}
}

// scheduleTickLocked arms the once-per-second round timer.
func (r *Room) scheduleTickLocked() {
	gen := r.timerGen
	r.tickTimer = r.schedule(r.tickInterval, func() { r.tick(gen) })
}

// tick advances the authoritative round clock one second: decrement,
// broadcast the sync, persist on the snapshot cadence, and force resolution
// at zero. A stale generation means the round already resolved; the tick is
// dropped.
func (r *Room) tick(gen int) {
	if r.timerGen != gen || r.State != protocol.StatePlaying || r.CurrentRound == nil {
		return
	}

	r.CurrentRound.TimeRemaining--
	r.Elapsed++
	rem := r.CurrentRound.TimeRemaining
	r.CurrentRound.HintLevel = hintLevel(rem, r.Settings.TimeLimit, r.Settings.HintsEnabled)

	r.broadcastPlayersLocked(&protocol.TimerSync{
		TimeRemaining: rem,
		HintLevel:     r.CurrentRound.HintLevel,
	})

	if rem%snapshotCadence == 0 {
		r.fanOutSpectatorsLocked()
		r.persistSnapshotLocked(context.Background())
	}

	if rem <= 0 {
		r.resolveRoundLocked()
		return
	}
	r.tickTimer = r.schedule(r.tickInterval, func() { r.tick(gen) })
}

// snapshotCadence is how many ticks pass between host snapshot persists and
// spectator resyncs. Per-tick deltas still flow every second.
const snapshotCadence = 5

// hintLevel maps remaining time to the progressive hint stage: the first
// hint unlocks at half time, the second at a quarter.
func hintLevel(remaining, limit int, enabled bool) int {
	if !enabled || limit <= 0 {
		return 0
	}
	switch {
	case remaining*4 <= limit:
		return 2
	case remaining*2 <= limit:
		return 1
	default:
		return 0
	}
}
