package round

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// countdown is the single scheduled task of a room. It is bound to the round
// that created it; a tick from a countdown that is no longer e.countdown is
// stale and ignored.
type countdown struct {
	round    int64
	deadline time.Time
	ticker   clockwork.Ticker
	stop     chan struct{}
}

// replaceCountdown cancels any running countdown and starts a new one for
// roundID. Callers must hold e.mu.
func (e *Engine) replaceCountdown(roundID int64, deadline time.Time) {
	e.cancelCountdown()

	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	cd := &countdown{
		round:    roundID,
		deadline: deadline,
		ticker:   e.clock.NewTicker(interval),
		stop:     make(chan struct{}),
	}
	e.countdown = cd
	go e.runCountdown(cd)

	log.Debug().
		Int64("round", roundID).
		Time("deadline", deadline).
		Msg("countdown started")
}

// cancelCountdown stops the running countdown, if any. Callers must hold e.mu.
func (e *Engine) cancelCountdown() {
	cd := e.countdown
	if cd == nil {
		return
	}
	e.countdown = nil
	cd.ticker.Stop()
	close(cd.stop)

	log.Debug().Int64("round", cd.round).Msg("countdown cancelled")
}

func (e *Engine) runCountdown(cd *countdown) {
	for {
		select {
		case <-cd.stop:
			return
		case <-cd.ticker.Chan():
			if done := e.tick(cd); done {
				return
			}
		}
	}
}

// tick updates the remaining time and ends the round once the deadline
// passes. It reports whether the countdown is finished.
func (e *Engine) tick(cd *countdown) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.countdown != cd {
		log.Debug().Int64("round", cd.round).Msg("ignoring tick from stale countdown")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opTimeout())
	defer cancel()

	remaining := cd.deadline.Sub(e.clock.Now())
	if remaining > 0 {
		secs := int(math.Ceil(remaining.Seconds()))
		if err := e.store.SetTimeLeft(ctx, secs); err != nil {
			log.Warn().Err(err).Int64("round", cd.round).Msg("failed to update time left")
		}
		return false
	}

	if _, err := e.endRoundLocked(ctx); err != nil {
		log.Error().Err(err).Int64("round", cd.round).Msg("failed to end round on countdown expiry")
	}
	// Stop even when ending failed; an operator can still end the round.
	if e.countdown == cd {
		e.cancelCountdown()
	}
	return true
}

func (e *Engine) opTimeout() time.Duration {
	if e.cfg.OpTimeout > 0 {
		return e.cfg.OpTimeout
	}
	return 5 * time.Second
}
