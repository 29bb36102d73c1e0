// internal/match/reconnect.go
package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

const (
	maxReconnectAttempts = 10

	backoffBase = 2 * time.Second
	backoffStep = time.Second
	backoffCap  = 5 * time.Second
)

// ErrReconnectFailed is returned when every reconnect attempt is exhausted.
var ErrReconnectFailed = errors.New("match: reconnect attempts exhausted")

// backoffDelay returns the wait before attempt (zero-based): linear growth
// from the base, capped.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase + time.Duration(attempt)*backoffStep
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// reconnector drives the client-side reconnect loop. dial performs one full
// attempt: transport connect plus the reconnect announcement.
type reconnector struct {
	log         *logrus.Logger
	dial        func(ctx context.Context, attempt int) error
	sleep       func(ctx context.Context, d time.Duration) error
	maxAttempts int

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

func newReconnector(log *logrus.Logger, dial func(ctx context.Context, attempt int) error) *reconnector {
	return &reconnector{
		log:         log,
		dial:        dial,
		sleep:       sleepCtx,
		maxAttempts: maxReconnectAttempts,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run performs up to maxAttempts dials with backoff. It returns nil on the
// first success, ctx.Err() if stopped, and ErrReconnectFailed otherwise.
func (rc *reconnector) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	rc.mu.Lock()
	rc.active = true
	rc.cancel = cancel
	rc.mu.Unlock()
	defer func() {
		rc.mu.Lock()
		rc.active = false
		rc.cancel = nil
		rc.mu.Unlock()
		cancel()
	}()

	for attempt := 0; attempt < rc.maxAttempts; attempt++ {
		if err := rc.sleep(ctx, backoffDelay(attempt)); err != nil {
			return err
		}
		err := rc.dial(ctx, attempt)
		if err == nil {
			return nil
		}
		rc.log.WithError(err).WithField("attempt", attempt+1).Warn("reconnect attempt failed")
	}
	return ErrReconnectFailed
}

func (rc *reconnector) stop() {
	rc.mu.Lock()
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.mu.Unlock()
}

func (rc *reconnector) running() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.active
}

// startReconnectLocked launches the reconnect loop after an unexpected drop.
// The previous transport link is already gone; each attempt dials under a
// fresh transport address, then proves identity with the stored rejoin token.
func (r *Room) startReconnectLocked() {
	if r.reconnector != nil && r.reconnector.running() {
		return
	}
	code := r.Code
	rc := newReconnector(r.log, func(ctx context.Context, _ int) error {
		return r.dialHost(ctx, code)
	})
	if r.reconnectSleep != nil {
		rc.sleep = r.reconnectSleep
	}
	r.reconnector = rc

	go func() {
		err := rc.run()
		if err == nil {
			r.log.WithField("room", code).Info("reconnected")
			r.notify()
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		// Exhaustion is terminal but not destructive: the room view stays
		// so the user can retry by hand or leave.
		r.mu.Lock()
		r.Err = "connection to the host lost"
		r.mu.Unlock()
		r.notify()
	}()
}

// dialHost performs one reconnect attempt: fresh transport identity, then
// the reconnect announcement carrying the rejoin token.
func (r *Room) dialHost(ctx context.Context, roomCode string) error {
	if err := r.tr.ConnectAsClient(ctx, roomCode, ""); err != nil {
		return err
	}

	token := ""
	if r.sessions != nil {
		if sess, err := r.sessions.LoadSession(ctx); err == nil && sess != nil {
			token = sess.RejoinToken
		}
	}

	r.tr.Broadcast(&protocol.Reconnect{
		PlayerID: r.SelfID,
		Name:     r.SelfName,
		Addr:     r.tr.Addr(),
		Token:    token,
	})

	r.mu.Lock()
	r.persistSessionLocked(ctx, token)
	r.mu.Unlock()
	return nil
}
