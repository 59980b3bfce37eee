package supervisor

import (
	"time"

	"github.com/Osso/sysd/internal/unit"
)

// exitClass categorizes how a process ended, the input to Restart=
// policy evaluation (spec.md §4.3).
type exitClass int

const (
	exitSuccess exitClass = iota
	exitFailure
	exitSignal
	exitWatchdog
	exitAbort // SIGABRT specifically, its own Restart=on-abort bucket
)

// shouldRestart decides whether policy triggers a restart for the
// given exit, independent of rate limiting.
func shouldRestart(policy unit.RestartPolicy, class exitClass, preventStatus []int, exitCode int) bool {
	for _, p := range preventStatus {
		if p == exitCode {
			return false
		}
	}
	switch policy {
	case unit.RestartNo:
		return false
	case unit.RestartAlways:
		return true
	case unit.RestartOnSuccess:
		return class == exitSuccess
	case unit.RestartOnFailure:
		return class == exitFailure || class == exitSignal || class == exitWatchdog
	case unit.RestartOnAbnormal:
		return class == exitSignal || class == exitWatchdog
	case unit.RestartOnWatchdog:
		return class == exitWatchdog
	case unit.RestartOnAbort:
		return class == exitAbort
	default:
		return false
	}
}

// rateLimiter implements StartLimitIntervalSec=/StartLimitBurst=: more
// than Burst starts within Interval trips the limiter, which the
// caller then reports as uniterr.KindStartLimitHit and moves the unit
// to failed rather than restarting again (spec.md §4.3).
type rateLimiter struct {
	interval time.Duration
	burst    int
	starts   []time.Time
}

func newRateLimiter(limit unit.RateLimit) *rateLimiter {
	return &rateLimiter{interval: limit.Interval, burst: limit.Burst}
}

// record notes a start attempt at now and reports whether the limiter
// has tripped (too many attempts within the trailing window).
func (r *rateLimiter) record(now time.Time) bool {
	if r.interval <= 0 || r.burst <= 0 {
		return false
	}
	cutoff := now.Add(-r.interval)
	kept := r.starts[:0]
	for _, t := range r.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.starts = kept
	return len(r.starts) > r.burst
}

func (r *rateLimiter) reset() {
	r.starts = nil
}
