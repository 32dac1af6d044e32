package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimerRegistry holds the single armed round timer of each session, keyed by
// join code. It belongs to one SessionEngine so teardown is deterministic.
type TimerRegistry struct {
	clock clockwork.Clock

	mu     sync.Mutex
	seq    uint64
	timers map[string]*roundTimer
}

type roundTimer struct {
	id    uint64
	round int
	timer clockwork.Timer
}

func NewTimerRegistry(clock clockwork.Clock) *TimerRegistry {
	return &TimerRegistry{
		clock:  clock,
		timers: make(map[string]*roundTimer),
	}
}

// Set arms a single-shot timer for the session. An entry still armed for the
// session is stopped first. fire runs at most once, and never after Cancel
// returned for this entry.
func (r *TimerRegistry) Set(joinCode string, round int, d time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[joinCode]; ok {
		existing.timer.Stop()
		log.Warn().
			Str("join_code", joinCode).
			Int("previous_round", existing.round).
			Int("round", round).
			Msg("replaced a round timer that was still armed")
	}

	r.seq++
	id := r.seq
	rt := &roundTimer{id: id, round: round}
	// The callback may run synchronously for non-positive durations, so it
	// hops to its own goroutine and waits for Set to release the lock.
	rt.timer = r.clock.AfterFunc(d, func() {
		go func() {
			if !r.release(joinCode, id) {
				return
			}
			fire()
		}()
	})
	r.timers[joinCode] = rt

	log.Debug().
		Str("join_code", joinCode).
		Int("round", round).
		Dur("duration", d).
		Msg("armed round timer")
}

// release clears the entry if it is still the one identified by id. Only the
// caller that wins the release may act on the expiry.
func (r *TimerRegistry) release(joinCode string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.timers[joinCode]
	if !ok || current.id != id {
		return false
	}
	delete(r.timers, joinCode)
	return true
}

// Round returns the round the armed timer belongs to.
func (r *TimerRegistry) Round(joinCode string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.timers[joinCode]
	if !ok {
		return 0, false
	}
	return rt.round, true
}

// Cancel stops and clears the session's timer. It reports whether one was armed.
func (r *TimerRegistry) Cancel(joinCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.timers[joinCode]
	if !ok {
		return false
	}
	rt.timer.Stop()
	delete(r.timers, joinCode)
	log.Debug().Str("join_code", joinCode).Int("round", rt.round).Msg("cancelled round timer")
	return true
}

// CancelRound cancels the session's timer only if it was armed for round, so
// a late completion of one round cannot disarm the timer of the next.
func (r *TimerRegistry) CancelRound(joinCode string, round int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.timers[joinCode]
	if !ok || rt.round != round {
		return false
	}
	rt.timer.Stop()
	delete(r.timers, joinCode)
	log.Debug().Str("join_code", joinCode).Int("round", round).Msg("cancelled round timer")
	return true
}

// Len is the number of armed timers.
func (r *TimerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every armed timer.
func (r *TimerRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for code, rt := range r.timers {
		rt.timer.Stop()
		delete(r.timers, code)
	}
}
