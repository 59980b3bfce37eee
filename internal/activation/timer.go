package activation

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Osso/sysd/internal/unit"
)

// TimerState is the persisted bookkeeping a .timer unit needs across
// restarts for Persistent= coalescing (spec.md §4.2): the last time it
// actually fired, read from internal/statedb at daemon startup.
type TimerState struct {
	LastFire time.Time
}

// Schedule resolves a timer's triggers into the next fire time after
// `after`, given the unit's activation time (for OnStartupSec=/
// OnActiveSec=) and the state's LastFire (for OnUnitActiveSec= and
// Persistent= catch-up).
//
// Calendar triggers reuse the cron field grammar from
// github.com/robfig/cron/v3 (grounded on k3s's pkg/etcd/snapshot.go,
// which schedules etcd snapshots from a user-supplied cron string the
// same way): OnCalendar= is accepted as a standard 5-field cron
// expression, a pragmatic subset of systemd's much richer calendar
// grammar (seconds, "~" random delay, multiple comma-separated
// specifiers are not supported).
func Schedule(t *unit.Timer, activatedAt time.Time, state TimerState, after time.Time) (time.Time, bool) {
	var next time.Time
	found := false

	consider := func(candidate time.Time) {
		if !found || candidate.Before(next) {
			next = candidate
			found = true
		}
	}

	for _, trig := range t.Triggers {
		switch trig.Kind {
		case "calendar":
			sched, err := cron.ParseStandard(trig.Expr)
			if err != nil {
				continue
			}
			consider(sched.Next(after))
		case "boot", "startup":
			candidate := activatedAt.Add(trig.Offset)
			if candidate.After(after) {
				consider(candidate)
			}
		case "active":
			candidate := activatedAt.Add(trig.Offset)
			if candidate.After(after) {
				consider(candidate)
			}
		case "unit-active":
			if !state.LastFire.IsZero() {
				candidate := state.LastFire.Add(trig.Offset)
				if candidate.After(after) {
					consider(candidate)
				}
			}
		case "unit-inactive":
			if !state.LastFire.IsZero() {
				candidate := state.LastFire.Add(trig.Offset)
				if candidate.After(after) {
					consider(candidate)
				}
			}
		}
	}

	if t.Persistent && !state.LastFire.IsZero() {
		// Persistent= means a fire missed while sysd was down still
		// counts: if the most recent calendar fire before "after" is
		// later than the last recorded fire, it is due immediately.
		for _, trig := range t.Triggers {
			if trig.Kind != "calendar" {
				continue
			}
			sched, err := cron.ParseStandard(trig.Expr)
			if err != nil {
				continue
			}
			missed := sched.Next(state.LastFire)
			if missed.Before(after) {
				consider(after)
			}
		}
	}

	return next, found
}
